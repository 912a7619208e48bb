package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"candlefeed/internal/domain/model"
)

type fakeIndex map[string]bool

func (f fakeIndex) Missing(exchange string, market model.MarketType, symbols []string) []string {
	var out []string
	for _, s := range symbols {
		if !f[exchange+"/"+market.String()+"/"+s] {
			out = append(out, s)
		}
	}
	return out
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[feed]
markets = ["linear"]
symbols = ["btcusdt", "ETHUSDT", "BTCUSDT"]
timeframes = ["1s", "5"]
late_grace = "3s"

[writer]
batch_size = 100

[endpoints.bybit]
linear = "ws://127.0.0.1:9000"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Feed.LateGrace != 3*time.Second {
		t.Errorf("late_grace not decoded: %v", cfg.Feed.LateGrace)
	}
	if cfg.Writer.BatchSize != 100 || cfg.Writer.FlushInterval != time.Second || cfg.Writer.Retry.MaxRetries != 5 {
		t.Errorf("unexpected writer config %+v", cfg.Writer)
	}
	if cfg.Mongo.Database != "trade" || cfg.App.LogLevel != "info" {
		t.Errorf("defaults not applied")
	}

	idx := fakeIndex{"bybit/linear/BTCUSDT": true, "bybit/linear/ETHUSDT": true}
	if err := cfg.Resolve("bybit", idx); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(cfg.Feed.Symbols) != 2 || cfg.Feed.Symbols[0] != "BTCUSDT" {
		t.Errorf("symbols not normalized: %v", cfg.Feed.Symbols)
	}
	if len(cfg.Granularities) != 2 || cfg.Granularities[0] != 1 || cfg.Granularities[1] != 5 {
		t.Errorf("unexpected granularities %v", cfg.Granularities)
	}
	if len(cfg.MarketTypes) != 1 || cfg.MarketTypes[0] != model.MarketLinear {
		t.Errorf("unexpected markets %v", cfg.MarketTypes)
	}
	if got := cfg.EndpointOverrides("BYBIT")[model.MarketLinear]; got != "ws://127.0.0.1:9000" {
		t.Errorf("unexpected endpoint override %q", got)
	}
}

func TestResolveReportsEveryProblem(t *testing.T) {
	t.Setenv(EnvMongoURL, "")
	cfg := Default()
	cfg.Feed.Markets = []string{"futures"}
	cfg.Feed.Symbols = []string{"DOGEUSDT"}
	cfg.Feed.Timeframes = []string{"7s"}
	cfg.Mongo.Update = true

	err := cfg.Resolve("bybit", fakeIndex{})
	if err == nil {
		t.Fatal("expected validation errors")
	}
	errs := multierr.Errors(err)
	if len(errs) != 3 {
		t.Errorf("expected 3 errors (market, timeframe, mongo url), got %d: %v", len(errs), err)
	}
	msg := err.Error()
	for _, want := range []string{"futures", "7s", "--update"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should mention %q", msg, want)
		}
	}
}

func TestResolveMissingSymbols(t *testing.T) {
	cfg := Default()
	cfg.Feed.Markets = []string{"spot", "linear"}
	cfg.Feed.Symbols = []string{"BTCUSDT"}

	err := cfg.Resolve("binance", fakeIndex{"binance/spot/BTCUSDT": true})
	if err == nil || !strings.Contains(err.Error(), "binance linear: BTCUSDT") {
		t.Errorf("expected missing symbol error for linear, got %v", err)
	}
}

func TestResolveMongoURLFromEnv(t *testing.T) {
	t.Setenv(EnvMongoURL, "mongodb://env:27017")
	cfg := Default()
	cfg.Feed.Markets = []string{"spot"}
	cfg.Feed.Symbols = []string{"BTCUSDT"}
	cfg.Mongo.Update = true

	if err := cfg.Resolve("bybit", nil); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.Mongo.URL != "mongodb://env:27017" {
		t.Errorf("expected env fallback, got %q", cfg.Mongo.URL)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	cfg := Default()
	cfg.Feed.Markets = []string{"spot"}
	cfg.Feed.Symbols = []string{"ETHUSDT"}
	cfg.Feed.RawFreqMs = 500

	f := NewFlags("bybit")
	err := f.Parse([]string{"--linear", "--inverse", "--symbols", "BTCUSDT,SOLUSDT", "-t", "1s,1m", "--update", "-d", "mongodb://cli"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	f.Apply(cfg)

	if strings.Join(cfg.Feed.Markets, ",") != "linear,inverse" {
		t.Errorf("unexpected markets %v", cfg.Feed.Markets)
	}
	if strings.Join(cfg.Feed.Symbols, ",") != "BTCUSDT,SOLUSDT" {
		t.Errorf("unexpected symbols %v", cfg.Feed.Symbols)
	}
	if strings.Join(cfg.Feed.Timeframes, ",") != "1s,1m" {
		t.Errorf("unexpected timeframes %v", cfg.Feed.Timeframes)
	}
	// 未显式指定的参数不覆盖文件
	if cfg.Feed.RawFreqMs != 500 {
		t.Errorf("raw_freq should keep file value, got %d", cfg.Feed.RawFreqMs)
	}
	if !cfg.Mongo.Update || cfg.Mongo.URL != "mongodb://cli" {
		t.Errorf("unexpected mongo config %+v", cfg.Mongo)
	}
	if f.ConfigChanged() {
		t.Error("--config was not given")
	}
}

func TestParseTimeframes(t *testing.T) {
	gs, err := ParseTimeframes([]string{"1m,5", "1h", "60", "1d"})
	if err != nil {
		t.Fatalf("ParseTimeframes failed: %v", err)
	}
	want := []int{5, 60, 3600, 86400}
	if len(gs) != len(want) {
		t.Fatalf("got %v, want %v", gs, want)
	}
	for i := range want {
		if gs[i] != want[i] {
			t.Errorf("got %v, want %v", gs, want)
		}
	}

	for _, bad := range []string{"7", "abc", "2m"} {
		if _, err := ParseTimeframe(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
	if _, err := ParseTimeframes(nil); err == nil {
		t.Error("expected error for empty timeframes")
	}
}

func TestResolveRejectsNonPositiveRawFreq(t *testing.T) {
	idx := fakeIndex{"bybit/spot/BTCUSDT": true}
	for _, v := range []string{"0", "-5", "1"} {
		cfg := Default()
		cfg.Feed.Markets = []string{"spot"}
		cfg.Feed.Symbols = []string{"BTCUSDT"}

		f := NewFlags("bybit")
		if err := f.Parse([]string{"--raw-freq=" + v}); err != nil {
			t.Fatalf("Parse(%s) failed: %v", v, err)
		}
		f.Apply(cfg)
		err := cfg.Resolve("bybit", idx)
		if err == nil || !strings.Contains(err.Error(), "raw_freq") {
			t.Errorf("--raw-freq %s: expected raw_freq error, got %v", v, err)
		}
	}

	// 文件里显式写 0 同样报错，缺省时取默认值
	cfg, err := Load(writeConfig(t, "[feed]\nmarkets = [\"spot\"]\nsymbols = [\"BTCUSDT\"]\nraw_freq_ms = 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Resolve("bybit", idx); err == nil {
		t.Error("expected raw_freq_ms = 0 in file to be rejected")
	}
	cfg, err = Load(writeConfig(t, "[feed]\nmarkets = [\"spot\"]\nsymbols = [\"BTCUSDT\"]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Feed.RawFreqMs != DefaultRawFreqMs {
		t.Errorf("expected default raw_freq_ms, got %d", cfg.Feed.RawFreqMs)
	}
	if err := cfg.Resolve("bybit", idx); err != nil {
		t.Errorf("Resolve failed: %v", err)
	}
}
