package symbols

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"candlefeed/internal/domain/model"
)

type entryKey struct {
	exchange string
	market   model.MarketType
	symbol   string
}

// Table 交易对主表 (exchange, symbol, market_type) -> 编号
// 启动时构建一次，显式传给需要的组件
type Table struct {
	ids map[entryKey]int
}

// Load 读取 master.csv（表头：id,symbol,exchange,market_type）
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open symbol master: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	t := &Table{ids: make(map[entryKey]int)}
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read symbol master: %w", err)
		}
		line++
		if line == 1 {
			continue // 表头
		}
		if len(rec) < 4 {
			return nil, fmt.Errorf("symbol master line %d: expected 4 fields, got %d", line, len(rec))
		}
		id, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("symbol master line %d: bad id: %w", line, err)
		}
		market, err := model.ParseMarketType(rec[3])
		if err != nil {
			return nil, fmt.Errorf("symbol master line %d: %w", line, err)
		}
		t.Add(rec[2], market, rec[1], id)
	}
	return t, nil
}

// New 空表，测试和手工构建用
func New() *Table {
	return &Table{ids: make(map[entryKey]int)}
}

func (t *Table) Add(exchange string, market model.MarketType, symbol string, id int) {
	t.ids[key(exchange, market, symbol)] = id
}

func (t *Table) Lookup(exchange string, market model.MarketType, symbol string) (int, bool) {
	id, ok := t.ids[key(exchange, market, symbol)]
	return id, ok
}

// Missing 返回主表中不存在的交易对
func (t *Table) Missing(exchange string, market model.MarketType, symbols []string) []string {
	var out []string
	for _, s := range symbols {
		if _, ok := t.Lookup(exchange, market, s); !ok {
			out = append(out, s)
		}
	}
	return out
}

func (t *Table) Len() int { return len(t.ids) }

func key(exchange string, market model.MarketType, symbol string) entryKey {
	return entryKey{
		exchange: strings.ToLower(strings.TrimSpace(exchange)),
		market:   market,
		symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
	}
}
