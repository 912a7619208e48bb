package binance

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
	"candlefeed/internal/infrastructure/exchange"
)

const Name = "binance"

var endpoints = exchange.Endpoints{
	model.MarketSpot:    "wss://stream.binance.com:9443",
	model.MarketLinear:  "wss://fstream.binance.com",
	model.MarketInverse: "wss://dstream.binance.com",
}

// TradeAdapter Binance aggTrade 适配器，订阅编码在 URL 中
type TradeAdapter struct {
	override exchange.Endpoints
}

func NewTradeAdapter(override exchange.Endpoints) *TradeAdapter {
	return &TradeAdapter{override: override}
}

var _ port.Adapter = (*TradeAdapter)(nil)

func (a *TradeAdapter) Name() string { return Name }

// Endpoint 单个交易对用 /ws/<s>@aggTrade，多个用 combined stream
func (a *TradeAdapter) Endpoint(market model.MarketType, symbols []string) (string, error) {
	base, err := endpoints.Resolve(Name, market, a.override)
	if err != nil {
		return "", err
	}

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		streams = append(streams, s+"@aggTrade")
	}
	if len(streams) == 0 {
		return "", errors.New("no valid symbols")
	}
	if len(streams) == 1 {
		return exchange.BuildQueryURL(base, "/ws/"+streams[0], "")
	}
	return exchange.BuildQueryURL(base, "/stream", "streams="+strings.Join(streams, "/"))
}

// Subscribe 无需发送订阅请求
func (a *TradeAdapter) Subscribe(market model.MarketType, symbols []string) ([]any, error) {
	return nil, nil
}

// Heartbeat 服务端发 ping，gorilla 默认自动回 pong；客户端只用协议层 ping
func (a *TradeAdapter) Heartbeat() any { return nil }

type binanceCombined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceAggTrade struct {
	Event        string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	BuyerIsMaker bool   `json:"m"`
	TradeTime    int64  `json:"T"`
	AggID        int64  `json:"a"`
}

func (a *TradeAdapter) Decode(market model.MarketType, frame []byte, receivedAt time.Time) ([]model.Tick, error) {
	frame = exchange.BytesTrimSpace(frame)

	var combined binanceCombined
	if err := exchange.ParseJSON(frame, &combined); err != nil {
		return nil, err
	}
	payload := frame
	if combined.Stream != "" && len(combined.Data) > 0 {
		payload = combined.Data
	}

	var msg binanceAggTrade
	if err := exchange.ParseJSON(payload, &msg); err != nil {
		return nil, err
	}
	// 订阅应答 {"result":null,"id":1} 等
	if msg.Event != "aggTrade" {
		return nil, nil
	}

	sym := strings.ToUpper(strings.TrimSpace(msg.Symbol))
	if sym == "" || msg.TradeTime <= 0 {
		return nil, errors.New("aggTrade missing symbol or time")
	}
	price, size, err := exchange.ParsePriceSize(msg.Price, msg.Quantity)
	if err != nil {
		return nil, err
	}

	// m=true 买方是挂单方，主动成交方为卖方
	side := model.SideBuy
	if msg.BuyerIsMaker {
		side = model.SideSell
	}

	return []model.Tick{{
		Exchange:    Name,
		Market:      market,
		Symbol:      sym,
		TradeID:     strconv.FormatInt(msg.AggID, 10),
		EventTime:   msg.TradeTime,
		ReceiveTime: receivedAt,
		Price:       price,
		Size:        size,
		Side:        side,
	}}, nil
}
