package exchange

import (
	"strings"
)

// SymbolConverter 交易对与币种互转
// 用于只按币种订阅的交易所（例如 hyperliquid）
type SymbolConverter interface {
	// Symbol2Coin 例: BTCUSDT -> BTC
	Symbol2Coin(symbol string) string
	// Coin2Symbol 例: BTC -> BTCUSDT
	Coin2Symbol(coin string) string
}

// CommonSymbolConverter 按固定计价后缀转换
type CommonSymbolConverter struct {
	suffix string
}

func NewCommonSymbolConverter(suffix string) *CommonSymbolConverter {
	return &CommonSymbolConverter{suffix: strings.ToUpper(strings.TrimSpace(suffix))}
}

// Symbol2Coin 去掉末尾的计价后缀；没有后缀的原样返回（BTC -> BTC）
func (c *CommonSymbolConverter) Symbol2Coin(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" || c.suffix == "" {
		return sym
	}
	if coin, ok := strings.CutSuffix(sym, c.suffix); ok && coin != "" {
		return coin
	}
	return sym
}

func (c *CommonSymbolConverter) Coin2Symbol(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return ""
	}
	if strings.HasSuffix(coin, c.suffix) {
		return coin
	}
	return coin + c.suffix
}
