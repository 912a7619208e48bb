package model

import "time"

// Tick 归一化后的单笔成交，与交易所无关
// 由适配器创建后不再修改，聚合器只消费一次
type Tick struct {
	Exchange    string
	Market      MarketType
	Symbol      string // 配置中的交易对，如 BTCUSDT
	TradeID     string
	EventTime   int64     // 交易所成交时间 unix ms
	ReceiveTime time.Time // 本地接收时间
	Price       float64
	Size        float64
	Side        Side
}

// EventSeconds 返回成交时间所在的 unix 秒（向下取整，负数也正确）
func (t Tick) EventSeconds() int64 {
	return floorDiv(t.EventTime, 1000)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
