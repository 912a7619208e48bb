package bybit

import (
	"candlefeed/internal/application/port"
	"candlefeed/internal/infrastructure/exchange"
)

// Register 把 Bybit 适配器注册到显式构建的 registry
func Register(r *exchange.Registry) {
	r.Register(Name, func(override exchange.Endpoints) port.Adapter {
		return NewTradeAdapter(override)
	})
}
