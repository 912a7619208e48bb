package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"candlefeed/internal/application/port"
	"candlefeed/internal/application/service"
	"candlefeed/internal/domain/model"
)

// Service 运行控制：一个 writer + 每个市场一个 feed 任务
type Service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) *Service {
	if deps.ExpiryEvery <= 0 {
		deps.ExpiryEvery = time.Second
	}
	return &Service{deps: deps}
}

// Run 阻塞到 ctx 取消（正常停机，返回 nil）或 writer 致命失败
//
// 停机顺序：feed 停止接收 -> 各任务把未收盘K线交给 writer -> 关闭 writer 输入 -> writer 写完返回。
func (s *Service) Run(ctx context.Context) error {
	if len(s.deps.Tasks) == 0 {
		return ErrNoFeeds
	}
	if s.deps.Writer == nil {
		return fmt.Errorf("%w: writer is nil", ErrStartup)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	// 先全部订阅成功再启动，避免部分运行
	chans := make([]<-chan port.FeedEvent, len(s.deps.Tasks))
	for i, task := range s.deps.Tasks {
		ch, err := task.Feed.Subscribe(gctx)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrStartup, task.Name, err)
		}
		chans[i] = ch
		log.Info().Str("feed", task.Name).Msg("feed started")
	}

	g.Go(func() error {
		return s.deps.Writer.Run(gctx)
	})

	var feeds sync.WaitGroup
	for i, task := range s.deps.Tasks {
		i, task := i, task
		feeds.Add(1)
		g.Go(func() error {
			defer feeds.Done()
			s.runFeed(gctx, task, chans[i])
			return nil
		})
	}

	// 所有提交方结束后才关闭 writer 输入
	g.Go(func() error {
		feeds.Wait()
		s.deps.Writer.Close()
		return nil
	})

	err := g.Wait()
	st := s.deps.Writer.Stats()
	log.Info().
		Uint64("received", st.Received).
		Uint64("written", st.Written).
		Uint64("retries", st.Retries).
		Msg("collector stopped")
	return err
}

func (s *Service) runFeed(ctx context.Context, task FeedTask, in <-chan port.FeedEvent) {
	expiry := time.NewTicker(s.deps.ExpiryEvery)
	defer expiry.Stop()

	var statsC <-chan time.Time
	if s.deps.StatsEvery > 0 {
		st := time.NewTicker(s.deps.StatsEvery)
		defer st.Stop()
		statsC = st.C
	}

	for {
		select {
		case <-ctx.Done():
			// 管理器会随后关闭 channel，已缓冲的事件照常处理
			for ev := range in {
				if !s.handle(task, ev) {
					return
				}
			}
			s.flush(task)
			return

		case ev, ok := <-in:
			if !ok {
				s.flush(task)
				return
			}
			if !s.handle(task, ev) {
				return
			}

		case now := <-expiry.C:
			if !s.submit(task, task.Aggregator.CloseExpired(now)) {
				return
			}

		case <-statsC:
			s.logStats(task)
		}
	}
}

// handle 返回 false 表示 writer 已退出
func (s *Service) handle(task FeedTask, ev port.FeedEvent) bool {
	if ev.Outage != nil {
		gap := ev.Outage.Duration()
		if gap > s.deps.OutageLogAfter {
			log.Warn().
				Str("feed", task.Name).
				Time("last_event", ev.Outage.LastEvent).
				Dur("gap", gap).
				Msg("data gap after reconnect")
		}
		if !s.submit(task, task.Aggregator.CloseExpired(ev.Outage.Resumed)) {
			return false
		}
	}

	for _, t := range ev.Ticks {
		if task.Sampler != nil && !task.Sampler.Admit(t) {
			continue
		}
		if !s.submit(task, task.Aggregator.Apply(t)) {
			return false
		}
	}
	return true
}

func (s *Service) flush(task FeedTask) {
	closed := task.Aggregator.Flush(time.Now())
	if s.submit(task, closed) {
		log.Info().Str("feed", task.Name).Int("candles", len(closed)).Msg("feed flushed")
	}
	s.logStats(task)
}

func (s *Service) submit(task FeedTask, candles []model.Candle) bool {
	for _, c := range candles {
		if err := s.deps.Writer.Submit(c); err != nil {
			if errors.Is(err, service.ErrWriterClosed) {
				log.Error().Str("feed", task.Name).Msg("writer stopped, feed task exiting")
				return false
			}
			log.Error().Err(err).Str("feed", task.Name).Msg("submit candle failed")
			return false
		}
	}
	return true
}

func (s *Service) logStats(task FeedTask) {
	st := task.Aggregator.Stats()
	ev := log.Info().
		Str("feed", task.Name).
		Int("open", st.Open).
		Uint64("emitted", st.Emitted).
		Uint64("late_merged", st.LateMerged).
		Uint64("late_dropped", st.LateDropped).
		Uint64("unknown_symbol", st.UnknownSymbol)
	if task.Sampler != nil {
		ev = ev.Uint64("sampled_out", task.Sampler.Dropped())
	}
	ev.Msg("feed stats")
}
