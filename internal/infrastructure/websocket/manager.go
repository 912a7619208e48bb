package websocket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
)

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateStale
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateStale:
		return "stale"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var errStale = errors.New("feed stale: no frames within silence timeout")

// RetryConfig WebSocket 重连退避配置
type RetryConfig struct {
	InitialDel time.Duration // 初始延迟
	MaxDelay   time.Duration // 最大延迟
}

type Config struct {
	HandshakeTimeout time.Duration
	SilenceTimeout   time.Duration // 超过该时长没有存活信号视为失联；订阅未确认时即订阅超时
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	Retry            RetryConfig
	RawLogEvery      time.Duration // 原始帧 debug 日志的最小间隔，0 关闭
	Buffer           int
}

// DefaultConfig 默认配置
var DefaultConfig = Config{
	HandshakeTimeout: 10 * time.Second,
	SilenceTimeout:   60 * time.Second,
	PingInterval:     20 * time.Second,
	WriteTimeout:     5 * time.Second,
	Retry: RetryConfig{
		InitialDel: 500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	},
	Buffer: 1024,
}

// Stats 连接计数
type Stats struct {
	State        State
	Connects     uint64
	Stale        uint64
	Frames       uint64
	DecodeErrors uint64
	Ticks        uint64
	Outages      uint64
}

// Manager 单个 (exchange, market) 的 WebSocket 连接管理器
//
// 负责拨号、订阅、心跳、静默检测与退避重连，把原始帧交给适配器解码。
// 只有 ctx 取消才会终止。
type Manager struct {
	adapter port.Adapter
	market  model.MarketType
	symbols []string
	cfg     Config
	dialer  *websocket.Dialer

	state     atomic.Int32
	lastEvent atomic.Int64 // 已处理成交的最大交易所时间（ms）

	connects     atomic.Uint64
	stale        atomic.Uint64
	frames       atomic.Uint64
	decodeErrors atomic.Uint64
	ticks        atomic.Uint64
	outages      atomic.Uint64

	rawLog *rate.Sometimes
	errLog *rate.Sometimes
}

func NewManager(adapter port.Adapter, market model.MarketType, symbols []string, cfg Config) *Manager {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig.HandshakeTimeout
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultConfig.SilenceTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig.WriteTimeout
	}
	if cfg.Retry.InitialDel <= 0 {
		cfg.Retry.InitialDel = DefaultConfig.Retry.InitialDel
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDel {
		cfg.Retry.MaxDelay = cfg.Retry.InitialDel
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig.Buffer
	}

	m := &Manager{
		adapter: adapter,
		market:  market,
		symbols: symbols,
		cfg:     cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		errLog: &rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	if cfg.RawLogEvery > 0 {
		m.rawLog = &rate.Sometimes{Interval: cfg.RawLogEvery}
	}
	return m
}

func (m *Manager) feed() string {
	return m.adapter.Name() + "/" + m.market.String()
}

// Subscribe 启动连接循环；地址或订阅参数非法时立即返回错误
// 返回的 channel 在 ctx 取消后关闭
func (m *Manager) Subscribe(ctx context.Context) (<-chan port.FeedEvent, error) {
	wsURL, err := m.adapter.Endpoint(m.market, m.symbols)
	if err != nil {
		return nil, err
	}
	if _, err := m.adapter.Subscribe(m.market, m.symbols); err != nil {
		return nil, err
	}

	out := make(chan port.FeedEvent, m.cfg.Buffer)
	go m.run(ctx, wsURL, out)
	return out, nil
}

func (m *Manager) run(ctx context.Context, wsURL string, out chan<- port.FeedEvent) {
	defer close(out)
	defer m.setState(StateDisconnected)

	backoff := m.cfg.Retry.InitialDel
	for {
		if ctx.Err() != nil {
			return
		}

		confirmed, err := m.session(ctx, wsURL, out)
		if ctx.Err() != nil {
			return
		}
		// 订阅被确认过的连接断开后从最小间隔重连
		if confirmed {
			backoff = m.cfg.Retry.InitialDel
		}

		log.Warn().
			Str("feed", m.feed()).
			Err(err).
			Int64("backoff_ms", backoff.Milliseconds()).
			Msg("ws disconnected, reconnecting")
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = minDur(backoff*2, m.cfg.Retry.MaxDelay)
	}
}

// frame 读协程的输出；err 非空表示连接已断开
type frame struct {
	data []byte
	at   time.Time
	err  error
}

// session 一次连接的完整生命周期
//
// confirmed 表示订阅已被确认：收到过任意一帧可解码的消息（订阅回执、控制帧或成交），
// 没有订阅请求的适配器（订阅写在地址里）连上即确认。确认前只有数据帧能推迟静默检测，
// 即订阅超时；确认后任意帧和 pong 都算存活，冷门交易对长时间无成交不会被断开。
func (m *Manager) session(ctx context.Context, wsURL string, out chan<- port.FeedEvent) (confirmed bool, err error) {
	m.setState(StateConnecting)
	m.connects.Add(1)
	log.Info().Str("feed", m.feed()).Str("url", wsURL).Msg("ws connecting")

	dctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	conn, _, err := m.dialer.DialContext(dctx, wsURL, nil)
	cancel()
	if err != nil {
		m.setState(StateDisconnected)
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	reqs, err := m.adapter.Subscribe(m.market, m.symbols)
	if err != nil {
		return false, err
	}
	for _, req := range reqs {
		_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
		if err := conn.WriteJSON(req); err != nil {
			return false, fmt.Errorf("subscribe: %w", err)
		}
	}
	m.setState(StateSubscribed)
	confirmed = len(reqs) == 0
	log.Info().Str("feed", m.feed()).Int("requests", len(reqs)).Msg("ws subscribed")

	pong := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	done := make(chan struct{})
	defer close(done)

	frames := make(chan frame, 256)
	go func() {
		for {
			_, b, err := conn.ReadMessage()
			select {
			case frames <- frame{data: b, at: time.Now(), err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	watchdog := time.NewTimer(m.cfg.SilenceTimeout)
	defer watchdog.Stop()
	ping := time.NewTicker(m.cfg.PingInterval)
	defer ping.Stop()

	streamed := false
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return confirmed, ctx.Err()

		case <-watchdog.C:
			m.setState(StateStale)
			m.stale.Add(1)
			log.Warn().
				Str("feed", m.feed()).
				Bool("confirmed", confirmed).
				Bool("streamed", streamed).
				Dur("silence", m.cfg.SilenceTimeout).
				Msg("ws stale")
			return confirmed, errStale

		case <-pong:
			if confirmed {
				watchdog.Reset(m.cfg.SilenceTimeout)
			}

		case <-ping.C:
			if err := m.heartbeat(conn); err != nil {
				m.setState(StateDisconnected)
				return confirmed, fmt.Errorf("heartbeat: %w", err)
			}

		case f := <-frames:
			if f.err != nil {
				m.setState(StateDisconnected)
				return confirmed, f.err
			}
			m.frames.Add(1)
			if m.rawLog != nil {
				m.rawLog.Do(func() {
					log.Debug().Str("feed", m.feed()).Str("frame", truncate(f.data, 512)).Msg("ws raw frame")
				})
			}

			ticks, err := m.adapter.Decode(m.market, f.data, f.at)
			if err != nil {
				m.decodeErrors.Add(1)
				m.errLog.Do(func() {
					log.Warn().
						Str("feed", m.feed()).
						Err(err).
						Uint64("decode_errors", m.decodeErrors.Load()).
						Msg("ws frame discarded")
				})
				if confirmed {
					watchdog.Reset(m.cfg.SilenceTimeout)
				}
				continue
			}
			if !confirmed {
				confirmed = true
				log.Debug().Str("feed", m.feed()).Msg("ws subscription confirmed")
			}
			watchdog.Reset(m.cfg.SilenceTimeout)
			if len(ticks) == 0 {
				continue
			}

			if !streamed {
				streamed = true
				m.setState(StateStreaming)
				log.Info().Str("feed", m.feed()).Msg("ws streaming")
				if last := m.lastEvent.Load(); last > 0 {
					outage := &port.Outage{LastEvent: time.UnixMilli(last), Resumed: f.at}
					m.outages.Add(1)
					log.Warn().
						Str("feed", m.feed()).
						Dur("gap", outage.Duration()).
						Msg("feed resumed after outage")
					if !emit(ctx, out, port.FeedEvent{Outage: outage}) {
						return confirmed, ctx.Err()
					}
				}
			}

			m.observe(ticks)
			if !emit(ctx, out, port.FeedEvent{Ticks: ticks}) {
				return confirmed, ctx.Err()
			}
		}
	}
}

func (m *Manager) heartbeat(conn *websocket.Conn) error {
	if hb := m.adapter.Heartbeat(); hb != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
		return conn.WriteJSON(hb)
	}
	return conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(m.cfg.WriteTimeout))
}

func (m *Manager) observe(ticks []model.Tick) {
	m.ticks.Add(uint64(len(ticks)))
	for _, t := range ticks {
		for {
			cur := m.lastEvent.Load()
			if t.EventTime <= cur || m.lastEvent.CompareAndSwap(cur, t.EventTime) {
				break
			}
		}
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) Stats() Stats {
	return Stats{
		State:        m.State(),
		Connects:     m.connects.Load(),
		Stale:        m.stale.Load(),
		Frames:       m.frames.Load(),
		DecodeErrors: m.decodeErrors.Load(),
		Ticks:        m.ticks.Load(),
		Outages:      m.outages.Load(),
	}
}

func emit(ctx context.Context, out chan<- port.FeedEvent, ev port.FeedEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

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

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
