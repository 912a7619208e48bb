package exchange_test

import (
	"testing"

	"candlefeed/internal/domain/model"
	"candlefeed/internal/infrastructure/exchange"
	"candlefeed/internal/infrastructure/exchange/binance"
	"candlefeed/internal/infrastructure/exchange/bybit"
	"candlefeed/internal/infrastructure/exchange/hyperliquid"
)

func TestRegistry(t *testing.T) {
	r := exchange.NewRegistry()
	bybit.Register(r)
	binance.Register(r)
	hyperliquid.Register(r)

	names := r.Names()
	if len(names) != 3 || names[0] != "binance" || names[1] != "bybit" || names[2] != "hyperliquid" {
		t.Fatalf("unexpected names: %v", names)
	}

	a, err := r.New(" Bybit ", exchange.Endpoints{model.MarketSpot: "ws://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.Name() != "bybit" {
		t.Errorf("unexpected adapter %s", a.Name())
	}
	if u, _ := a.Endpoint(model.MarketSpot, []string{"BTCUSDT"}); u != "ws://127.0.0.1:1" {
		t.Errorf("override not passed to factory: %q", u)
	}

	if _, err := r.New("okx", nil); err == nil {
		t.Error("expected error for unknown exchange")
	}
}
