package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"candlefeed/internal/domain/model"
)

var timeframeAliases = map[string]int{
	"1s": 1, "5s": 5, "10s": 10, "30s": 30,
	"1m": 60, "5m": 300, "15m": 900, "30m": 1800,
	"1h": 3600, "2h": 7200, "4h": 14400, "1d": 86400,
}

// ParseTimeframe 接受秒数（"60"）或别名（"1m"）
func ParseTimeframe(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	g, ok := timeframeAliases[s]
	if !ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid timeframe %q", s)
		}
		g = n
	}
	if !model.IsSupportedGranularity(g) {
		return 0, fmt.Errorf("unsupported timeframe %q (%ds)", s, g)
	}
	return g, nil
}

// ParseTimeframes 解析并去重，升序返回；元素可以是逗号分隔的列表
func ParseTimeframes(in []string) ([]int, error) {
	var err error
	seen := make(map[int]struct{})
	out := make([]int, 0, len(in))
	for _, item := range in {
		for _, s := range strings.Split(item, ",") {
			if strings.TrimSpace(s) == "" {
				continue
			}
			g, e := ParseTimeframe(s)
			if e != nil {
				err = multierr.Append(err, e)
				continue
			}
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	if len(out) == 0 && err == nil {
		err = fmt.Errorf("no timeframes configured")
	}
	sort.Ints(out)
	return out, err
}
