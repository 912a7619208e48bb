package model

import (
	"fmt"
	"strings"
)

// MarketType 市场类型：现货 / U本位永续 / 币本位永续
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketLinear  MarketType = "linear"
	MarketInverse MarketType = "inverse"
)

// MarketTypes 全部市场类型，顺序固定
var MarketTypes = []MarketType{MarketSpot, MarketLinear, MarketInverse}

func (m MarketType) String() string { return string(m) }

// ParseMarketType 解析市场类型，大小写不敏感
func ParseMarketType(s string) (MarketType, error) {
	switch MarketType(strings.ToLower(strings.TrimSpace(s))) {
	case MarketSpot:
		return MarketSpot, nil
	case MarketLinear:
		return MarketLinear, nil
	case MarketInverse:
		return MarketInverse, nil
	}
	return "", fmt.Errorf("unknown market type %q", s)
}

// Side 成交方向（taker 方向）
type Side int8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}
