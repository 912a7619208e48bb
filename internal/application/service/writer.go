package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
)

var (
	// ErrWriteExhausted 批量写入重试耗尽，本次运行视为致命错误
	ErrWriteExhausted = errors.New("candle write retries exhausted")
	// ErrWriterClosed writer 已退出，不再接收K线
	ErrWriterClosed = errors.New("candle writer closed")
)

// RetryConfig 写入重试配置
type RetryConfig struct {
	MaxRetries   int           // 最大重试次数
	InitialDelay time.Duration // 初始延迟
	MaxDelay     time.Duration // 最大延迟
}

type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration // 单次写入超时
	DrainTimeout  time.Duration // 停机时最后一批的总时限
	Retry         RetryConfig
}

// WriterStats writer 计数
type WriterStats struct {
	Received uint64
	Written  uint64
	Batches  uint64
	Retries  uint64
	SinkErrs uint64
}

// Writer 唯一的K线写入者
//
// 所有 feed 任务通过 Submit 串行提交，按批量大小或刷新间隔（先到者）落库。
// 写入与停机解耦：取消 Run 的 ctx 不会中断进行中的批次。
type Writer struct {
	cfg  WriterConfig
	repo port.CandleRepository
	sink port.Sink

	in        chan model.Candle
	done      chan struct{}
	closeOnce sync.Once

	received atomic.Uint64
	written  atomic.Uint64
	batches  atomic.Uint64
	retries  atomic.Uint64
	sinkErrs atomic.Uint64

	sinkLog rate.Sometimes
}

// NewWriter sink 可以为 nil
func NewWriter(cfg WriterConfig, repo port.CandleRepository, sink port.Sink) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 15 * time.Second
	}
	if cfg.Retry.InitialDelay <= 0 {
		cfg.Retry.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		cfg.Retry.MaxDelay = cfg.Retry.InitialDelay
	}
	return &Writer{
		cfg:  cfg,
		repo: repo,
		sink: sink,
		in:   make(chan model.Candle, cfg.BatchSize*4),
		done: make(chan struct{}),

		sinkLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Submit 提交一根已收盘K线；writer 退出后返回 ErrWriterClosed
func (w *Writer) Submit(c model.Candle) error {
	select {
	case <-w.done:
		return ErrWriterClosed
	default:
	}
	select {
	case w.in <- c:
		return nil
	case <-w.done:
		return ErrWriterClosed
	}
}

// Close 关闭输入；Run 会写完剩余批次后返回。所有 Submit 调用方结束后再调用
func (w *Writer) Close() {
	w.closeOnce.Do(func() { close(w.in) })
}

// Done writer 退出时关闭
func (w *Writer) Done() <-chan struct{} { return w.done }

// Run 消费输入直到 Close，写入失败重试耗尽时返回 ErrWriteExhausted
func (w *Writer) Run(ctx context.Context) error {
	defer close(w.done)

	// 停机信号不应打断写入，只由 WriteTimeout 约束
	wctx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]model.Candle, 0, w.cfg.BatchSize)
	for {
		select {
		case c, ok := <-w.in:
			if !ok {
				dctx, cancel := context.WithTimeout(wctx, w.cfg.DrainTimeout)
				err := w.flush(dctx, batch)
				cancel()
				if err != nil {
					return err
				}
				log.Info().
					Uint64("written", w.written.Load()).
					Uint64("batches", w.batches.Load()).
					Msg("candle writer drained")
				return nil
			}
			w.received.Add(1)
			if w.sink != nil {
				if err := w.sink.WriteCandle(c); err != nil {
					w.sinkErrs.Add(1)
					w.sinkLog.Do(func() {
						log.Debug().Err(err).Uint64("sink_errors", w.sinkErrs.Load()).Msg("candle sink write failed")
					})
				}
			}
			batch = append(batch, c)
			if len(batch) >= w.cfg.BatchSize {
				if err := w.flush(wctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
			if err := w.flush(wctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
}

func (w *Writer) flush(ctx context.Context, batch []model.Candle) error {
	if len(batch) == 0 {
		return nil
	}
	candles := dedupeCandles(batch)

	var lastErr error
	delay := w.cfg.Retry.InitialDelay
	for attempt := 0; attempt <= w.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			w.retries.Add(1)
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Int("candles", len(candles)).
				Int64("delay_ms", delay.Milliseconds()).
				Msg("retrying candle batch")
			if !sleepCtx(ctx, delay) {
				break
			}
			delay = minDur(delay*2, w.cfg.Retry.MaxDelay)
		}

		actx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
		err := w.repo.UpsertCandles(actx, candles)
		cancel()
		if err == nil {
			w.written.Add(uint64(len(candles)))
			w.batches.Add(1)
			log.Debug().Int("candles", len(candles)).Msg("candle batch written")
			return nil
		}
		lastErr = err
	}

	first, last := candles[0], candles[len(candles)-1]
	log.Error().
		Err(lastErr).
		Int("candles", len(candles)).
		Str("first", fmt.Sprintf("%s/%ds@%d", first.Symbol, first.Granularity, first.WindowStart)).
		Str("last", fmt.Sprintf("%s/%ds@%d", last.Symbol, last.Granularity, last.WindowStart)).
		Msg("candle batch dropped after retries")
	return fmt.Errorf("%w: %d candles: %w", ErrWriteExhausted, len(candles), lastErr)
}

func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Received: w.received.Load(),
		Written:  w.written.Load(),
		Batches:  w.batches.Load(),
		Retries:  w.retries.Load(),
		SinkErrs: w.sinkErrs.Load(),
	}
}

// dedupeCandles 同一批次内按键去重，保留最后一次（迟到修正后的版本）
func dedupeCandles(batch []model.Candle) []model.Candle {
	out := make([]model.Candle, 0, len(batch))
	idx := make(map[model.CandleKey]int, len(batch))
	for _, c := range batch {
		k := c.Key()
		if i, ok := idx[k]; ok {
			out[i] = c
			continue
		}
		idx[k] = len(out)
		out = append(out, c)
	}
	return out
}

// sleepCtx ctx 到期时提前返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
