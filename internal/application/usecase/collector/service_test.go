package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"candlefeed/internal/application/port"
	"candlefeed/internal/application/service"
	"candlefeed/internal/domain/model"
	"candlefeed/internal/infrastructure/storage"
)

// chanFeed 预先塞好事件，ctx 取消后关闭 channel（与连接管理器一致）
type chanFeed struct {
	ch  chan port.FeedEvent
	err error
}

func newChanFeed(events ...port.FeedEvent) *chanFeed {
	f := &chanFeed{ch: make(chan port.FeedEvent, len(events)+1)}
	for _, ev := range events {
		f.ch <- ev
	}
	return f
}

func (f *chanFeed) Subscribe(ctx context.Context) (<-chan port.FeedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	go func() {
		<-ctx.Done()
		close(f.ch)
	}()
	return f.ch, nil
}

type staticIndex map[string]int

func (s staticIndex) Lookup(exchange string, market model.MarketType, symbol string) (int, bool) {
	id, ok := s[symbol]
	return id, ok
}

type brokenRepo struct{}

func (brokenRepo) UpsertCandles(context.Context, []model.Candle) error {
	return errors.New("connection refused")
}
func (brokenRepo) Close() error { return nil }

func tick(ms int64, px float64) model.Tick {
	return model.Tick{
		Exchange: "bybit", Market: model.MarketLinear, Symbol: "BTCUSDT",
		EventTime: ms, ReceiveTime: time.UnixMilli(ms), Price: px, Size: 1, Side: model.SideBuy,
	}
}

func ticks(ts ...model.Tick) port.FeedEvent { return port.FeedEvent{Ticks: ts} }

func newTask(feed Feed) FeedTask {
	return FeedTask{
		Name:       "bybit/linear",
		Feed:       feed,
		Aggregator: service.NewAggregator(service.AggregatorConfig{Granularities: []int{1, 5}}, staticIndex{"BTCUSDT": 3}),
		Sampler:    service.NewSampler(service.RawModeRelay, time.Second),
	}
}

func TestRunFlushesEverythingOnShutdown(t *testing.T) {
	feed := newChanFeed(
		ticks(tick(1000, 100), tick(1500, 101)),
		ticks(tick(2000, 99)),
		port.FeedEvent{Outage: &port.Outage{LastEvent: time.UnixMilli(2000), Resumed: time.Unix(100, 0)}},
		ticks(tick(101000, 105)),
	)
	repo := storage.NewMemoryRepo()
	writer := service.NewWriter(service.WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, repo, nil)

	svc := NewService(ServiceDeps{
		Tasks:       []FeedTask{newTask(feed)},
		Writer:      writer,
		ExpiryEvery: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("Run returned %v, want nil on clean shutdown", err)
	}

	all := repo.All()
	if len(all) != 5 {
		t.Fatalf("expected 5 candles, got %d: %+v", len(all), all)
	}

	meta := model.NewMetaKey(0, 3)
	c, ok := repo.Get(model.CandleKey{Meta: meta, WindowStart: 1, Granularity: 1})
	if !ok || c.Open != 100 || c.High != 101 || c.Close != 101 || c.TradeCount != 2 {
		t.Errorf("unexpected 1s@1 candle %+v", c)
	}
	c, ok = repo.Get(model.CandleKey{Meta: meta, WindowStart: 0, Granularity: 5})
	if !ok || c.Open != 100 || c.Low != 99 || c.Close != 99 || c.TradeCount != 3 {
		t.Errorf("unexpected 5s@0 candle %+v", c)
	}
	// 关闭时仍未收盘的K线也被写入
	if _, ok := repo.Get(model.CandleKey{Meta: meta, WindowStart: 101, Granularity: 1}); !ok {
		t.Error("open 1s candle not flushed on shutdown")
	}
	if _, ok := repo.Get(model.CandleKey{Meta: meta, WindowStart: 100, Granularity: 5}); !ok {
		t.Error("open 5s candle not flushed on shutdown")
	}

	if st := writer.Stats(); st.Written != 5 {
		t.Errorf("unexpected writer stats %+v", st)
	}
}

func TestRunReturnsFatalWriteError(t *testing.T) {
	feed := newChanFeed(ticks(tick(1000, 100), tick(2000, 101)))
	writer := service.NewWriter(service.WriterConfig{
		BatchSize:     1,
		FlushInterval: time.Hour,
		Retry:         service.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, brokenRepo{}, nil)

	svc := NewService(ServiceDeps{Tasks: []FeedTask{newTask(feed)}, Writer: writer, ExpiryEvery: time.Hour})

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, service.ErrWriteExhausted) {
			t.Fatalf("expected ErrWriteExhausted, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after fatal write error")
	}
}

func TestRunStartupErrors(t *testing.T) {
	if err := NewService(ServiceDeps{}).Run(context.Background()); !errors.Is(err, ErrNoFeeds) {
		t.Errorf("expected ErrNoFeeds, got %v", err)
	}

	bad := &chanFeed{err: errors.New("bybit inverse: market type not supported")}
	writer := service.NewWriter(service.WriterConfig{}, storage.NewMemoryRepo(), nil)
	err := NewService(ServiceDeps{Tasks: []FeedTask{newTask(newChanFeed()), newTask(bad)}, Writer: writer}).Run(context.Background())
	if !errors.Is(err, ErrStartup) {
		t.Errorf("expected ErrStartup, got %v", err)
	}
}
