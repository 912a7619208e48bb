package binance

import (
	"candlefeed/internal/application/port"
	"candlefeed/internal/infrastructure/exchange"
)

// Register 把 Binance 适配器注册到 registry
func Register(r *exchange.Registry) {
	r.Register(Name, func(override exchange.Endpoints) port.Adapter {
		return NewTradeAdapter(override)
	})
}
