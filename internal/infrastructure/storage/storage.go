package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
)

// Document 一根K线的持久化文档，MongoDB 与 dry-run 日志共用
type Document struct {
	UnixTime    time.Time     `bson:"unixtime" json:"unixtime"`
	Metadata    model.MetaKey `bson:"metadata" json:"metadata"`
	Exchange    string        `bson:"exchange" json:"exchange"`
	Market      string        `bson:"market" json:"market"`
	Granularity int           `bson:"granularity" json:"granularity"`
	Open        float64       `bson:"open" json:"open"`
	High        float64       `bson:"high" json:"high"`
	Low         float64       `bson:"low" json:"low"`
	Close       float64       `bson:"close" json:"close"`
	Volume      float64       `bson:"volume" json:"volume"`
	TradeCount  int64         `bson:"trade_count" json:"trade_count"`
	BuyVolume   float64       `bson:"buy_volume" json:"buy_volume"`
	SellVolume  float64       `bson:"sell_volume" json:"sell_volume"`
	BuyCount    int64         `bson:"buy_count" json:"buy_count"`
	SellCount   int64         `bson:"sell_count" json:"sell_count"`
	VWAP        float64       `bson:"vwap" json:"vwap"`

	// 单方向无成交时为 null
	BuyOpen   *float64 `bson:"buy_open" json:"buy_open"`
	BuyHigh   *float64 `bson:"buy_high" json:"buy_high"`
	BuyLow    *float64 `bson:"buy_low" json:"buy_low"`
	BuyClose  *float64 `bson:"buy_close" json:"buy_close"`
	BuyVWAP   *float64 `bson:"buy_vwap" json:"buy_vwap"`
	SellOpen  *float64 `bson:"sell_open" json:"sell_open"`
	SellHigh  *float64 `bson:"sell_high" json:"sell_high"`
	SellLow   *float64 `bson:"sell_low" json:"sell_low"`
	SellClose *float64 `bson:"sell_close" json:"sell_close"`
	SellVWAP  *float64 `bson:"sell_vwap" json:"sell_vwap"`
}

func NewDocument(c model.Candle) Document {
	d := Document{
		UnixTime:    c.StartTime(),
		Metadata:    c.Meta,
		Exchange:    c.Exchange,
		Market:      c.Market.String(),
		Granularity: c.Granularity,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		TradeCount:  c.TradeCount,
		BuyVolume:   c.Buy.Volume,
		SellVolume:  c.Sell.Volume,
		BuyCount:    c.Buy.Count,
		SellCount:   c.Sell.Count,
		VWAP:        c.VWAP,
	}
	if !c.Buy.Empty() {
		d.BuyOpen, d.BuyHigh, d.BuyLow, d.BuyClose, d.BuyVWAP = sidePrices(c.Buy)
	}
	if !c.Sell.Empty() {
		d.SellOpen, d.SellHigh, d.SellLow, d.SellClose, d.SellVWAP = sidePrices(c.Sell)
	}
	return d
}

func sidePrices(s model.SideStats) (o, h, l, c, vwap *float64) {
	return &s.Open, &s.High, &s.Low, &s.Close, &s.VWAP
}

// SideColumns 关系库中单方向价格列的取值，无成交时为 NULL
func SideColumns(s model.SideStats) []any {
	if s.Empty() {
		return []any{nil, nil, nil, nil, nil}
	}
	return []any{s.Open, s.High, s.Low, s.Close, s.VWAP}
}

// RowValues 关系库镜像一行的列值，顺序与 candles 表的插入语句一致
func RowValues(c model.Candle, unixtime any) []any {
	row := []any{
		c.Granularity, c.Meta.Symbol, c.Meta.YM, unixtime, c.Exchange, c.Market.String(), c.Symbol,
		c.Open, c.High, c.Low, c.Close, c.Volume, c.TradeCount,
		c.Buy.Volume, c.Sell.Volume, c.Buy.Count, c.Sell.Count, c.VWAP,
	}
	row = append(row, SideColumns(c.Buy)...)
	return append(row, SideColumns(c.Sell)...)
}

// GroupByGranularity 按周期（即目标集合）分组，周期升序
func GroupByGranularity(candles []model.Candle) ([]int, map[int][]model.Candle) {
	groups := make(map[int][]model.Candle)
	for _, c := range candles {
		groups[c.Granularity] = append(groups[c.Granularity], c)
	}
	keys := make([]int, 0, len(groups))
	for g := range groups {
		keys = append(keys, g)
	}
	sort.Ints(keys)
	return keys, groups
}

// MemoryRepo 内存仓储，按键整文档覆盖；用于测试与本地调试
type MemoryRepo struct {
	mu      sync.Mutex
	candles map[model.CandleKey]model.Candle
	writes  int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{candles: make(map[model.CandleKey]model.Candle)}
}

func (r *MemoryRepo) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range candles {
		r.candles[c.Key()] = c
	}
	r.writes++
	return nil
}

func (r *MemoryRepo) Get(k model.CandleKey) (model.Candle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.candles[k]
	return c, ok
}

// All 按 symbol、周期、时间排序返回
func (r *MemoryRepo) All() []model.Candle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Candle, 0, len(r.candles))
	for _, c := range r.candles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		if out[i].Granularity != out[j].Granularity {
			return out[i].Granularity < out[j].Granularity
		}
		return out[i].WindowStart < out[j].WindowStart
	})
	return out
}

func (r *MemoryRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *MemoryRepo) Close() error { return nil }

var _ port.CandleRepository = (*MemoryRepo)(nil)
