package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"candlefeed/internal/domain/model"
)

// ErrUnsupportedMarket 交易所不支持该市场类型
var ErrUnsupportedMarket = errors.New("market type not supported by exchange")

// Endpoints 各市场类型的 WebSocket 地址，可由配置覆盖
type Endpoints map[model.MarketType]string

// Resolve 取市场对应地址，配置覆盖优先
func (e Endpoints) Resolve(name string, market model.MarketType, override Endpoints) (string, error) {
	if u := strings.TrimSpace(override[market]); u != "" {
		return u, nil
	}
	if u, ok := e[market]; ok && u != "" {
		return u, nil
	}
	return "", fmt.Errorf("%s %s: %w", name, market, ErrUnsupportedMarket)
}

// ParseDecimal 把交易所的十进制字符串解析为 float64
func ParseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty decimal")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// ParsePriceSize 解析价格与数量，价格必须为正，数量不能为负
func ParsePriceSize(px, sz string) (float64, float64, error) {
	price, err := ParseDecimal(px)
	if err != nil {
		return 0, 0, fmt.Errorf("price %q: %w", px, err)
	}
	size, err := ParseDecimal(sz)
	if err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", sz, err)
	}
	if price <= 0 || size < 0 {
		return 0, 0, fmt.Errorf("invalid trade price=%s size=%s", px, sz)
	}
	return price, size, nil
}

// BytesTrimSpace trims whitespace from byte slice
func BytesTrimSpace(b []byte) []byte {
	i := 0
	j := len(b) - 1
	for i <= j && (b[i] == ' ' || b[i] == '\n' || b[i] == '\r' || b[i] == '\t') {
		i++
	}
	for j >= i && (b[j] == ' ' || b[j] == '\n' || b[j] == '\r' || b[j] == '\t') {
		j--
	}
	if i > j {
		return []byte{}
	}
	return b[i : j+1]
}

// ParseJSON safely parses JSON
func ParseJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json unmarshal: %w", err)
	}
	return nil
}

// BuildQueryURL builds a URL with query parameters
func BuildQueryURL(base, path, query string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", errors.New("base url is empty")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = path
	u.RawQuery = query
	return u.String(), nil
}
