package model

import (
	"fmt"
	"time"
)

// SupportedGranularities 支持的K线周期（秒）
var SupportedGranularities = []int{1, 5, 10, 30, 60, 300, 900, 1800, 3600, 7200, 14400, 86400}

// IsSupportedGranularity 判断周期是否受支持
func IsSupportedGranularity(g int) bool {
	for _, s := range SupportedGranularities {
		if s == g {
			return true
		}
	}
	return false
}

// CollectionName 每个周期一个时序集合，例如 candles_1s / candles_60s
func CollectionName(granularity int) string {
	return fmt.Sprintf("candles_%ds", granularity)
}

// WindowStart 计算成交所在窗口的起点（unix 秒，周期的整数倍）
func WindowStart(eventMs int64, granularity int) int64 {
	g := int64(granularity)
	return floorDiv(floorDiv(eventMs, 1000), g) * g
}

// MetaKey 存储的分片键：同一交易对同一月份的数据落在一起
type MetaKey struct {
	YM     int `json:"ym" bson:"ym"`         // 例如 202610
	Symbol int `json:"symbol" bson:"symbol"` // 交易对主表中的编号
}

// NewMetaKey 根据窗口起点（UTC）计算年月
func NewMetaKey(windowStart int64, symbolID int) MetaKey {
	t := time.Unix(windowStart, 0).UTC()
	return MetaKey{YM: t.Year()*100 + int(t.Month()), Symbol: symbolID}
}

// CandleKey 已持久化文档的唯一标识
type CandleKey struct {
	Meta        MetaKey
	WindowStart int64
	Granularity int
}

// Candle OHLCV K线
//
// 不变量：Low <= Open,Close <= High；Volume >= 0；WindowStart % Granularity == 0
type Candle struct {
	Exchange    string
	Market      MarketType
	Symbol      string
	Meta        MetaKey
	WindowStart int64 // unix 秒
	Granularity int   // 秒

	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount int64
	VWAP       float64

	// 按 taker 方向拆分；方向未知的成交只计入总量
	Buy  SideStats
	Sell SideStats
}

// SideStats 单一方向成交的 OHLC、成交量与加权均价
//
// Count == 0 时价格字段无意义，落库为 null。
type SideStats struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Count  int64
	VWAP   float64
}

// Empty 该方向在窗口内没有成交
func (s SideStats) Empty() bool { return s.Count == 0 }

func (s *SideStats) apply(price, size float64) {
	if s.Count == 0 {
		s.Open, s.High, s.Low = price, price, price
	}
	s.High = max(s.High, price)
	s.Low = min(s.Low, price)
	s.Close = price
	s.VWAP = weighted(s.VWAP, s.Volume, price, size)
	s.Volume += size
	s.Count++
}

// Key 返回 K线的存储键
func (c Candle) Key() CandleKey {
	return CandleKey{Meta: c.Meta, WindowStart: c.WindowStart, Granularity: c.Granularity}
}

// WindowEnd 窗口结束时间（不含）
func (c Candle) WindowEnd() int64 {
	return c.WindowStart + int64(c.Granularity)
}

// StartTime 窗口起点
func (c Candle) StartTime() time.Time {
	return time.Unix(c.WindowStart, 0).UTC()
}

// NewCandle 用第一笔成交开一根新K线
func NewCandle(t Tick, granularity int, meta MetaKey) Candle {
	c := Candle{
		Exchange:    t.Exchange,
		Market:      t.Market,
		Symbol:      t.Symbol,
		Meta:        meta,
		WindowStart: WindowStart(t.EventTime, granularity),
		Granularity: granularity,
		Open:        t.Price,
		High:        t.Price,
		Low:         t.Price,
		Close:       t.Price,
	}
	c.accumulate(t)
	return c
}

// Apply 把同一窗口内的成交合并进K线
func (c *Candle) Apply(t Tick) {
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.accumulate(t)
}

func (c *Candle) accumulate(t Tick) {
	c.VWAP = weighted(c.VWAP, c.Volume, t.Price, t.Size)
	c.Volume += t.Size
	c.TradeCount++

	switch t.Side {
	case SideBuy:
		c.Buy.apply(t.Price, t.Size)
	case SideSell:
		c.Sell.apply(t.Price, t.Size)
	}
}

// weighted 逐笔加权均价；总量为 0 时（只有零量成交）保持原值
func weighted(vwap, volume, price, size float64) float64 {
	total := volume + size
	if total <= 0 {
		return vwap
	}
	return (vwap*volume + price*size) / total
}
