package symbols

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"candlefeed/internal/domain/model"
)

const master = `id,symbol,exchange,market_type
1,BTCUSDT,bybit,linear
2,ETHUSDT,bybit,linear
3,BTCUSDT,binance,spot
4,BTCUSDT,hyperliquid,linear
`

func TestParseAndLookup(t *testing.T) {
	tbl, err := Parse(strings.NewReader(master))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if tbl.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", tbl.Len())
	}

	id, ok := tbl.Lookup("BYBIT", model.MarketLinear, "ethusdt")
	if !ok || id != 2 {
		t.Errorf("expected id 2, got %d (%v)", id, ok)
	}
	if _, ok := tbl.Lookup("bybit", model.MarketSpot, "BTCUSDT"); ok {
		t.Error("market type must be part of the key")
	}

	missing := tbl.Missing("binance", model.MarketSpot, []string{"BTCUSDT", "SOLUSDT"})
	if len(missing) != 1 || missing[0] != "SOLUSDT" {
		t.Errorf("unexpected missing: %v", missing)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv")
	if err := os.WriteFile(path, []byte(master), 0o644); err != nil {
		t.Fatal(err)
	}
	tbl, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := tbl.Lookup("hyperliquid", model.MarketLinear, "BTCUSDT"); !ok {
		t.Error("expected hyperliquid entry")
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"id,symbol,exchange,market_type\nx,BTCUSDT,bybit,linear\n",
		"id,symbol,exchange,market_type\n1,BTCUSDT,bybit,futures\n",
		"id,symbol,exchange,market_type\n1,BTCUSDT\n",
	}
	for _, in := range bad {
		if _, err := Parse(strings.NewReader(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}
