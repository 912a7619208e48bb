package hyperliquid

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
	"candlefeed/internal/infrastructure/exchange"
)

const Name = "hyperliquid"

// 只有永续
var endpoints = exchange.Endpoints{
	model.MarketLinear: "wss://api.hyperliquid.xyz/ws",
}

// TradeAdapter Hyperliquid trades 适配器
//
// 交易所只按币种订阅，成交以币种返回；通过订阅时建立的 coin -> symbol 映射
// 还原为配置中的交易对名称。
type TradeAdapter struct {
	override  exchange.Endpoints
	converter exchange.SymbolConverter

	mu      sync.RWMutex
	symbols map[string]string // coin -> configured symbol
}

func NewTradeAdapter(override exchange.Endpoints, quote string) *TradeAdapter {
	return &TradeAdapter{
		override:  override,
		converter: exchange.NewCommonSymbolConverter(quote),
		symbols:   make(map[string]string),
	}
}

var _ port.Adapter = (*TradeAdapter)(nil)

func (a *TradeAdapter) Name() string { return Name }

func (a *TradeAdapter) Endpoint(market model.MarketType, symbols []string) (string, error) {
	return endpoints.Resolve(Name, market, a.override)
}

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

type subscribeReq struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

// Subscribe 每个币种一条订阅请求
func (a *TradeAdapter) Subscribe(market model.MarketType, symbols []string) ([]any, error) {
	if market != model.MarketLinear {
		return nil, fmt.Errorf("%s %s: %w", Name, market, exchange.ErrUnsupportedMarket)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reqs := make([]any, 0, len(symbols))
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		coin := a.converter.Symbol2Coin(sym)
		if coin == "" {
			continue
		}
		a.symbols[coin] = sym
		reqs = append(reqs, subscribeReq{
			Method:       "subscribe",
			Subscription: subscription{Type: "trades", Coin: coin},
		})
	}
	if len(reqs) == 0 {
		return nil, errors.New("no valid coins for hyperliquid subscription")
	}
	return reqs, nil
}

func (a *TradeAdapter) Heartbeat() any {
	return map[string]string{"method": "ping"}
}

type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsTrade struct {
	Coin string `json:"coin"`
	Side string `json:"side"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"`
	Hash string `json:"hash"`
	Tid  int64  `json:"tid"`
}

func (a *TradeAdapter) Decode(market model.MarketType, frame []byte, receivedAt time.Time) ([]model.Tick, error) {
	var msg wsMessage
	if err := exchange.ParseJSON(frame, &msg); err != nil {
		return nil, err
	}

	switch msg.Channel {
	case "trades":
	case "error":
		return nil, fmt.Errorf("hyperliquid error: %s", string(msg.Data))
	default:
		// subscriptionResponse / pong
		return nil, nil
	}

	var trades []wsTrade
	if err := exchange.ParseJSON(msg.Data, &trades); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	ticks := make([]model.Tick, 0, len(trades))
	for _, tr := range trades {
		coin := strings.ToUpper(strings.TrimSpace(tr.Coin))
		if coin == "" || tr.Time <= 0 {
			continue
		}
		price, size, err := exchange.ParsePriceSize(tr.Px, tr.Sz)
		if err != nil {
			continue
		}
		sym, ok := a.symbols[coin]
		if !ok {
			sym = a.converter.Coin2Symbol(coin)
		}
		id := tr.Hash
		if tr.Tid != 0 {
			id = strconv.FormatInt(tr.Tid, 10)
		}
		ticks = append(ticks, model.Tick{
			Exchange:    Name,
			Market:      market,
			Symbol:      sym,
			TradeID:     id,
			EventTime:   tr.Time,
			ReceiveTime: receivedAt,
			Price:       price,
			Size:        size,
			Side:        parseSide(tr.Side),
		})
	}
	return ticks, nil
}

func parseSide(s string) model.Side {
	switch s {
	case "B":
		return model.SideBuy
	case "A":
		return model.SideSell
	}
	return model.SideUnknown
}
