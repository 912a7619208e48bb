package service

import (
	"sort"
	"time"

	"candlefeed/internal/domain/model"
)

// SymbolIndex 交易对主表查询（exchange, market, symbol）-> 编号
type SymbolIndex interface {
	Lookup(exchange string, market model.MarketType, symbol string) (int, bool)
}

type AggregatorConfig struct {
	Granularities []int         // 周期（秒）
	LateGrace     time.Duration // 迟到成交允许并入已收盘K线的时间窗
}

// AggregatorStats 聚合器计数
type AggregatorStats struct {
	Open          int
	Emitted       uint64
	LateMerged    uint64
	LateDropped   uint64
	UnknownSymbol uint64
}

type slotKey struct {
	symbol      string
	granularity int
}

// slot 每个 (symbol, granularity) 一个：当前未收盘K线 + 最近收盘的一根
type slot struct {
	open     *model.Candle
	last     *model.Candle
	closedAt time.Time
}

// Aggregator 多周期K线聚合器
//
// 只由一个 feed 任务持有和调用，内部状态不加锁。
type Aggregator struct {
	cfg     AggregatorConfig
	symbols SymbolIndex
	slots   map[slotKey]*slot
	stats   AggregatorStats
}

func NewAggregator(cfg AggregatorConfig, symbols SymbolIndex) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		symbols: symbols,
		slots:   make(map[slotKey]*slot),
	}
}

// Apply 合并一笔成交，返回因此收盘（或迟到修正）的K线
func (a *Aggregator) Apply(t model.Tick) []model.Candle {
	id, ok := a.symbols.Lookup(t.Exchange, t.Market, t.Symbol)
	if !ok {
		a.stats.UnknownSymbol++
		return nil
	}

	var out []model.Candle
	for _, g := range a.cfg.Granularities {
		k := slotKey{symbol: t.Symbol, granularity: g}
		s, ok := a.slots[k]
		if !ok {
			s = &slot{}
			a.slots[k] = s
		}
		ws := model.WindowStart(t.EventTime, g)

		switch {
		case s.open == nil:
			if s.last != nil && ws <= s.last.WindowStart {
				out = a.late(s, t, ws, out)
				continue
			}
			c := model.NewCandle(t, g, model.NewMetaKey(ws, id))
			s.open = &c
		case ws == s.open.WindowStart:
			s.open.Apply(t)
		case ws > s.open.WindowStart:
			out = append(out, a.close(s, t.ReceiveTime))
			c := model.NewCandle(t, g, model.NewMetaKey(ws, id))
			s.open = &c
		default:
			out = a.late(s, t, ws, out)
		}
	}
	return out
}

// late 迟到成交：只能并入最近收盘且仍在宽限期内的那根，否则丢弃计数
func (a *Aggregator) late(s *slot, t model.Tick, ws int64, out []model.Candle) []model.Candle {
	if s.last == nil || s.last.WindowStart != ws || t.ReceiveTime.Sub(s.closedAt) > a.cfg.LateGrace {
		a.stats.LateDropped++
		return out
	}
	s.last.Apply(t)
	a.stats.LateMerged++
	// 修正后的整根重新下发，下游按键整文档覆盖
	return append(out, *s.last)
}

func (a *Aggregator) close(s *slot, at time.Time) model.Candle {
	c := *s.open
	s.last = &c
	s.closedAt = at
	s.open = nil
	a.stats.Emitted++
	return c
}

// CloseExpired 收掉窗口已结束（含宽限期）的K线
//
// 周期性调用，断线恢复时也会调用：空窗短于一个周期不会切出多余的K线，
// 长于一个周期则按现状收盘，不会无限期挂起。
func (a *Aggregator) CloseExpired(now time.Time) []model.Candle {
	var out []model.Candle
	for _, s := range a.slots {
		if s.open == nil {
			continue
		}
		end := time.Unix(s.open.WindowEnd(), 0).Add(a.cfg.LateGrace)
		if !now.Before(end) {
			out = append(out, a.close(s, now))
		}
	}
	sortCandles(out)
	return out
}

// Flush 停机时收掉所有未收盘K线，按现状视为最终结果
func (a *Aggregator) Flush(now time.Time) []model.Candle {
	var out []model.Candle
	for _, s := range a.slots {
		if s.open != nil {
			out = append(out, a.close(s, now))
		}
	}
	sortCandles(out)
	return out
}

// OpenSlots 当前未收盘的K线数量
func (a *Aggregator) OpenSlots() int {
	n := 0
	for _, s := range a.slots {
		if s.open != nil {
			n++
		}
	}
	return n
}

func (a *Aggregator) Stats() AggregatorStats {
	st := a.stats
	st.Open = a.OpenSlots()
	return st
}

func sortCandles(cs []model.Candle) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Symbol != cs[j].Symbol {
			return cs[i].Symbol < cs[j].Symbol
		}
		if cs[i].Granularity != cs[j].Granularity {
			return cs[i].Granularity < cs[j].Granularity
		}
		return cs[i].WindowStart < cs[j].WindowStart
	})
}
