package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
)

// Repo 最新K线缓存：每个周期一个 hash，并把收盘K线发布到频道
type Repo struct {
	rdb     *redis.Client
	prefix  string
	ttl     time.Duration
	channel string
}

// LatestCandle hash 中存放的 JSON
type LatestCandle struct {
	Exchange    string  `json:"exchange"`
	Market      string  `json:"market"`
	Symbol      string  `json:"symbol"`
	Granularity int     `json:"granularity"`
	Start       int64   `json:"start"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	TradeCount  int64   `json:"trade_count"`
	VWAP        float64 `json:"vwap"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, channel string) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "candlefeed"
	}
	if strings.TrimSpace(channel) == "" {
		channel = prefix + ":candles:pub"
	}
	return &Repo{rdb: rdb, prefix: prefix, ttl: ttl, channel: channel}
}

// Key 例: candlefeed:latest:60s
func (r *Repo) Key(granularity int) string {
	return fmt.Sprintf("%s:latest:%ds", r.prefix, granularity)
}

// Field 例: bybit:linear:BTCUSDT
func Field(c model.Candle) string {
	return fmt.Sprintf("%s:%s:%s", c.Exchange, c.Market, c.Symbol)
}

func newLatestCandle(c model.Candle) LatestCandle {
	return LatestCandle{
		Exchange: c.Exchange, Market: c.Market.String(), Symbol: c.Symbol,
		Granularity: c.Granularity, Start: c.WindowStart,
		Open: c.Open, High: c.High, Low: c.Low, Close: c.Close,
		Volume: c.Volume, TradeCount: c.TradeCount, VWAP: c.VWAP,
	}
}

// UpsertCandles 每个交易对只保留最近写入的一根，迟到修正直接覆盖
func (r *Repo) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	pipe := r.rdb.Pipeline()
	keys := make(map[string]struct{})
	for _, c := range candles {
		b, err := json.Marshal(newLatestCandle(c))
		if err != nil {
			return err
		}
		key := r.Key(c.Granularity)
		keys[key] = struct{}{}
		pipe.HSet(ctx, key, Field(c), string(b))
		pipe.Publish(ctx, r.channel, string(b))
	}
	if r.ttl > 0 {
		for key := range keys {
			pipe.Expire(ctx, key, r.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// get 读取某个交易对最新的一根
func (r *Repo) get(ctx context.Context, granularity int, exchange string, market model.MarketType, symbol string) (LatestCandle, error) {
	var lc LatestCandle
	s, err := r.rdb.HGet(ctx, r.Key(granularity), fmt.Sprintf("%s:%s:%s", exchange, market, symbol)).Result()
	if err != nil {
		return lc, err
	}
	err = json.Unmarshal([]byte(s), &lc)
	return lc, err
}

func (r *Repo) Close() error { return r.rdb.Close() }

var _ port.CandleRepository = (*Repo)(nil)
