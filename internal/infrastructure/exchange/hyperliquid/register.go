package hyperliquid

import (
	"candlefeed/internal/application/port"
	"candlefeed/internal/infrastructure/exchange"
)

func Register(r *exchange.Registry) {
	r.Register(Name, func(override exchange.Endpoints) port.Adapter {
		return NewTradeAdapter(override, "USDT")
	})
}
