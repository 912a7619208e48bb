package port

import (
	"context"

	"candlefeed/internal/domain/model"
)

// CandleRepository K线存储
//
// UpsertCandles 必须是按 CandleKey 的整文档覆盖（不是累加），
// 同一批数据重复写入后结果一致
type CandleRepository interface {
	UpsertCandles(ctx context.Context, candles []model.Candle) error
	Close() error
}
