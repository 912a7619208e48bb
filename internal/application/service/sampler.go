package service

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"candlefeed/internal/domain/model"
)

// RawMode 原始成交的采样策略
type RawMode string

const (
	// RawModeRelay 转发每一笔成交
	RawModeRelay RawMode = "relay"
	// RawModeSample 每个交易对每个采样间隔最多转发一笔，其余丢弃
	RawModeSample RawMode = "sample"
)

func ParseRawMode(s string) (RawMode, error) {
	switch RawMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", RawModeRelay:
		return RawModeRelay, nil
	case RawModeSample:
		return RawModeSample, nil
	}
	return "", fmt.Errorf("unknown raw mode %q", s)
}

// Sampler 在聚合之前按策略过滤成交
type Sampler struct {
	mode     RawMode
	every    time.Duration
	limiters map[string]*rate.Limiter
	dropped  uint64
}

func NewSampler(mode RawMode, every time.Duration) *Sampler {
	return &Sampler{
		mode:     mode,
		every:    every,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Admit 判断成交是否进入聚合；sample 模式按本地接收时间限速
func (s *Sampler) Admit(t model.Tick) bool {
	if s.mode != RawModeSample || s.every <= 0 {
		return true
	}
	lim, ok := s.limiters[t.Symbol]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.every), 1)
		s.limiters[t.Symbol] = lim
	}
	if lim.AllowN(t.ReceiveTime, 1) {
		return true
	}
	s.dropped++
	return false
}

// Dropped 被采样丢弃的成交数
func (s *Sampler) Dropped() uint64 { return s.dropped }
