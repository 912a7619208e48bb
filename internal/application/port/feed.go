package port

import (
	"time"

	"candlefeed/internal/domain/model"
)

// Adapter 交易所适配器：负责连接地址、订阅协议与消息解码
// 心跳、订阅确认等交易所细节不会泄露到适配器之外
type Adapter interface {
	Name() string
	// Endpoint 返回 WebSocket 连接地址（部分交易所把订阅编码在 URL 中）
	Endpoint(market model.MarketType, symbols []string) (string, error)
	// Subscribe 返回连接建立后需要发送的订阅请求（JSON 序列化）
	Subscribe(market model.MarketType, symbols []string) ([]any, error)
	// Heartbeat 应用层心跳，nil 表示只用协议层 ping
	Heartbeat() any
	// Decode 解析一帧原始消息；控制帧返回 (nil, nil)，格式错误返回 error
	Decode(market model.MarketType, frame []byte, receivedAt time.Time) ([]model.Tick, error)
}

// Outage 断线恢复后上报的空窗
type Outage struct {
	LastEvent time.Time // 断线前最后一笔成交的交易所时间
	Resumed   time.Time // 重新进入 Streaming 的本地时间
}

// Duration 空窗时长
func (o Outage) Duration() time.Duration {
	if o.LastEvent.IsZero() {
		return 0
	}
	return o.Resumed.Sub(o.LastEvent)
}

// FeedEvent 连接管理器输出：一批成交，或一次断线空窗（与成交保持先后顺序）
type FeedEvent struct {
	Ticks  []model.Tick
	Outage *Outage
}
