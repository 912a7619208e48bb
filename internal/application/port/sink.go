package port

import "candlefeed/internal/domain/model"

type Sink interface {
	// WriteCandle 输出一根已收盘K线（控制台等）
	WriteCandle(c model.Candle) error
}
