package service

import (
	"testing"
	"time"

	"candlefeed/internal/domain/model"
)

type staticIndex map[string]int

func (s staticIndex) Lookup(exchange string, market model.MarketType, symbol string) (int, bool) {
	id, ok := s[symbol]
	return id, ok
}

var testSymbols = staticIndex{"BTCUSDT": 1, "ETHUSDT": 2}

func tick(symbol string, ms int64, price, size float64) model.Tick {
	return model.Tick{
		Exchange:    "bybit",
		Market:      model.MarketLinear,
		Symbol:      symbol,
		EventTime:   ms,
		ReceiveTime: time.UnixMilli(ms),
		Price:       price,
		Size:        size,
		Side:        model.SideBuy,
	}
}

func TestAggregatorSingleWindow(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []int{1}}, testSymbols)

	for _, tk := range []model.Tick{
		tick("BTCUSDT", 100, 100, 1),
		tick("BTCUSDT", 400, 102, 2),
		tick("BTCUSDT", 900, 101, 1),
	} {
		if out := agg.Apply(tk); len(out) != 0 {
			t.Fatalf("unexpected close: %+v", out)
		}
	}

	out := agg.Flush(time.UnixMilli(1000))
	if len(out) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(out))
	}
	c := out[0]
	if c.Open != 100 || c.High != 102 || c.Low != 100 || c.Close != 101 {
		t.Errorf("unexpected ohlc: %+v", c)
	}
	if c.Volume != 4 || c.TradeCount != 3 || c.WindowStart != 0 {
		t.Errorf("unexpected volume/count/window: %+v", c)
	}
}

func TestAggregatorWindowBoundaryClosesCandle(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []int{1}}, testSymbols)
	agg.Apply(tick("BTCUSDT", 100, 100, 1))
	agg.Apply(tick("BTCUSDT", 400, 102, 2))
	agg.Apply(tick("BTCUSDT", 900, 101, 1))

	out := agg.Apply(tick("BTCUSDT", 1200, 103, 1))
	if len(out) != 1 {
		t.Fatalf("expected the window_start=0 candle to close, got %d", len(out))
	}
	if out[0].WindowStart != 0 || out[0].Close != 101 {
		t.Errorf("unexpected closed candle: %+v", out[0])
	}

	open := agg.Flush(time.UnixMilli(2000))
	if len(open) != 1 || open[0].WindowStart != 1 || open[0].Open != 103 {
		t.Errorf("expected new candle at window 1, got %+v", open)
	}
}

func TestAggregatorInvariants(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []int{5}}, testSymbols)
	prices := []float64{10, 12, 9, 15, 11, 8, 13}
	var sum float64
	for i, p := range prices {
		size := float64(i) + 0.5
		sum += size
		agg.Apply(tick("BTCUSDT", int64(i)*500, p, size))
	}
	out := agg.Flush(time.UnixMilli(10_000))
	if len(out) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(out))
	}
	c := out[0]
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		t.Errorf("ohlc invariant violated: %+v", c)
	}
	if c.Volume != sum {
		t.Errorf("expected volume %v, got %v", sum, c.Volume)
	}
	if c.WindowStart%int64(c.Granularity) != 0 {
		t.Errorf("window start %d not aligned to %d", c.WindowStart, c.Granularity)
	}
	if c.High != 15 || c.Low != 8 {
		t.Errorf("unexpected high/low: %+v", c)
	}
}

func TestAggregatorReplayIsIdempotent(t *testing.T) {
	ticks := []model.Tick{
		tick("BTCUSDT", 100, 100, 1),
		tick("BTCUSDT", 700, 99, 0.5),
		tick("BTCUSDT", 1500, 101, 2),
		tick("BTCUSDT", 2100, 98, 1),
	}
	run := func() []model.Candle {
		agg := NewAggregator(AggregatorConfig{Granularities: []int{1, 5}}, testSymbols)
		var out []model.Candle
		for _, tk := range ticks {
			out = append(out, agg.Apply(tk)...)
		}
		return append(out, agg.Flush(time.UnixMilli(10_000))...)
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("replay produced %d candles, first run %d", len(second), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("candle %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestAggregatorIndependentSlots(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []int{1, 5}}, testSymbols)
	agg.Apply(tick("BTCUSDT", 100, 100, 1))
	agg.Apply(tick("ETHUSDT", 100, 10, 1))

	if n := agg.OpenSlots(); n != 4 {
		t.Fatalf("expected 4 open slots, got %d", n)
	}

	// 1s 周期前进，5s 周期不受影响
	out := agg.Apply(tick("BTCUSDT", 1100, 101, 1))
	if len(out) != 1 || out[0].Granularity != 1 || out[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected only BTCUSDT/1s to close, got %+v", out)
	}
	if n := agg.OpenSlots(); n != 4 {
		t.Errorf("expected 4 open slots after advance, got %d", n)
	}
}

func TestAggregatorLateTick(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []int{1}, LateGrace: 500 * time.Millisecond}, testSymbols)
	agg.Apply(tick("BTCUSDT", 100, 100, 1))
	closed := agg.Apply(tick("BTCUSDT", 1100, 101, 1))
	if len(closed) != 1 {
		t.Fatalf("expected close, got %d", len(closed))
	}

	// 在宽限期内到达：并入已收盘K线并重新下发
	late := tick("BTCUSDT", 900, 105, 2)
	late.ReceiveTime = time.UnixMilli(1300)
	out := agg.Apply(late)
	if len(out) != 1 {
		t.Fatalf("expected amended candle, got %d", len(out))
	}
	if out[0].WindowStart != 0 || out[0].High != 105 || out[0].Volume != 3 || out[0].TradeCount != 2 {
		t.Errorf("unexpected amended candle: %+v", out[0])
	}

	// 超出宽限期：丢弃
	tooLate := tick("BTCUSDT", 950, 90, 1)
	tooLate.ReceiveTime = time.UnixMilli(2000)
	if out := agg.Apply(tooLate); len(out) != 0 {
		t.Errorf("expected drop, got %+v", out)
	}

	// 比最近收盘更早的窗口：丢弃
	agg.Apply(tick("BTCUSDT", 2100, 101, 1))
	older := tick("BTCUSDT", 500, 90, 1)
	older.ReceiveTime = time.UnixMilli(2150)
	if out := agg.Apply(older); len(out) != 0 {
		t.Errorf("expected drop for older window, got %+v", out)
	}

	st := agg.Stats()
	if st.LateMerged != 1 || st.LateDropped != 2 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestAggregatorCloseExpired(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []int{5}}, testSymbols)
	agg.Apply(tick("BTCUSDT", 1_000, 100, 1))

	// 空窗短于一个周期：不切分
	if out := agg.CloseExpired(time.UnixMilli(3_000)); len(out) != 0 {
		t.Fatalf("unexpected split: %+v", out)
	}
	agg.Apply(tick("BTCUSDT", 4_000, 101, 1))

	// 空窗跨过窗口结束：按现状收盘
	out := agg.CloseExpired(time.UnixMilli(12_000))
	if len(out) != 1 {
		t.Fatalf("expected expired candle, got %d", len(out))
	}
	if out[0].TradeCount != 2 || out[0].WindowStart != 0 {
		t.Errorf("unexpected candle: %+v", out[0])
	}
	if agg.OpenSlots() != 0 {
		t.Errorf("expected no open slots")
	}
}

func TestAggregatorUnknownSymbol(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []int{1}}, testSymbols)
	if out := agg.Apply(tick("DOGEUSDT", 100, 1, 1)); out != nil {
		t.Fatalf("expected nil, got %+v", out)
	}
	if agg.Stats().UnknownSymbol != 1 {
		t.Errorf("expected unknown symbol counted")
	}
}

func TestAggregatorMetaKey(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []int{60}}, testSymbols)
	// 2026-10-19T00:00:30Z
	ms := time.Date(2026, 10, 19, 0, 0, 30, 0, time.UTC).UnixMilli()
	agg.Apply(tick("ETHUSDT", ms, 10, 1))
	out := agg.Flush(time.UnixMilli(ms))
	if len(out) != 1 {
		t.Fatalf("expected 1 candle")
	}
	if out[0].Meta.YM != 202610 || out[0].Meta.Symbol != 2 {
		t.Errorf("unexpected meta: %+v", out[0].Meta)
	}
	if out[0].WindowStart != ms/1000-30 {
		t.Errorf("unexpected window start %d", out[0].WindowStart)
	}
}
