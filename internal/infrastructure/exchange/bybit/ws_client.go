package bybit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
	"candlefeed/internal/infrastructure/exchange"
)

const Name = "bybit"

// 每个连接最多订阅的 topic 数（Bybit 现货限制 10 个 args）
const maxArgsPerRequest = 10

var endpoints = exchange.Endpoints{
	model.MarketSpot:    "wss://stream.bybit.com/v5/public/spot",
	model.MarketLinear:  "wss://stream.bybit.com/v5/public/linear",
	model.MarketInverse: "wss://stream.bybit.com/v5/public/inverse",
}

// ErrSubscribeRejected 订阅被交易所拒绝
var ErrSubscribeRejected = errors.New("bybit subscribe rejected")

// TradeAdapter Bybit v5 publicTrade 适配器
type TradeAdapter struct {
	override exchange.Endpoints
}

func NewTradeAdapter(override exchange.Endpoints) *TradeAdapter {
	return &TradeAdapter{override: override}
}

var _ port.Adapter = (*TradeAdapter)(nil)

func (a *TradeAdapter) Name() string { return Name }

func (a *TradeAdapter) Endpoint(market model.MarketType, symbols []string) (string, error) {
	return endpoints.Resolve(Name, market, a.override)
}

type bybitSubReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (a *TradeAdapter) Subscribe(market model.MarketType, symbols []string) ([]any, error) {
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		topics = append(topics, "publicTrade."+s)
	}
	if len(topics) == 0 {
		return nil, errors.New("no valid symbols for bybit topics")
	}

	var reqs []any
	for len(topics) > 0 {
		n := min(len(topics), maxArgsPerRequest)
		reqs = append(reqs, bybitSubReq{Op: "subscribe", Args: topics[:n]})
		topics = topics[n:]
	}
	return reqs, nil
}

func (a *TradeAdapter) Heartbeat() any {
	return map[string]string{"op": "ping"}
}

type bybitTradeItem struct {
	Symbol  string `json:"s"`
	Price   string `json:"p"`
	Size    string `json:"v"`
	Side    string `json:"S"`
	Time    int64  `json:"T"`
	TradeID string `json:"i"`
}

// data can be object OR array
type bybitDataList []bybitTradeItem

func (d *bybitDataList) UnmarshalJSON(b []byte) error {
	b = exchange.BytesTrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = nil
		return nil
	}
	switch b[0] {
	case '[':
		var arr []bybitTradeItem
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*d = arr
		return nil
	case '{':
		var one bybitTradeItem
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = bybitDataList{one}
		return nil
	default:
		return fmt.Errorf("unexpected data json: %s", string(b))
	}
}

type bybitTradeMsg struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"`
	Ts    int64         `json:"ts"`
	Data  bybitDataList `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

func (a *TradeAdapter) Decode(market model.MarketType, frame []byte, receivedAt time.Time) ([]model.Tick, error) {
	var msg bybitTradeMsg
	if err := exchange.ParseJSON(frame, &msg); err != nil {
		return nil, err
	}

	// ack / pong
	if msg.Success != nil {
		if !*msg.Success {
			return nil, fmt.Errorf("%w: %s", ErrSubscribeRejected, msg.RetMsg)
		}
		return nil, nil
	}
	if msg.Op != "" {
		return nil, nil
	}
	if !strings.HasPrefix(msg.Topic, "publicTrade.") {
		return nil, nil
	}

	ticks := make([]model.Tick, 0, len(msg.Data))
	for _, d := range msg.Data {
		sym := strings.ToUpper(strings.TrimSpace(d.Symbol))
		if sym == "" || d.Time <= 0 {
			continue
		}
		price, size, err := exchange.ParsePriceSize(d.Price, d.Size)
		if err != nil {
			continue
		}
		ticks = append(ticks, model.Tick{
			Exchange:    Name,
			Market:      market,
			Symbol:      sym,
			TradeID:     d.TradeID,
			EventTime:   d.Time,
			ReceiveTime: receivedAt,
			Price:       price,
			Size:        size,
			Side:        parseSide(d.Side),
		})
	}
	return ticks, nil
}

func parseSide(s string) model.Side {
	switch s {
	case "Buy":
		return model.SideBuy
	case "Sell":
		return model.SideSell
	}
	return model.SideUnknown
}
