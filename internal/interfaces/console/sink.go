package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
)

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
	ansiDim   = "\033[2m"
)

func colorize(s, c string) string { return c + s + ansiReset }

// Sink 每根收盘K线打印一行
type Sink struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

func NewSink() port.Sink { return &Sink{out: os.Stdout, color: true} }

// NewWriterSink 输出到任意 writer，不带颜色
func NewWriterSink(w io.Writer) *Sink { return &Sink{out: w} }

func (s *Sink) WriteCandle(c model.Candle) error {
	line := FormatCandle(c, s.color)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.out, line)
	return err
}

// FormatCandle 例: [BYBIT-CANDLE] BTCUSDT 1s @ 12:00:01 | O:100 H:101 L:99 C:100.5 V:3 N:2 | Buy: ... | Sell: -
func FormatCandle(c model.Candle, color bool) string {
	var sb strings.Builder
	tag := "[" + strings.ToUpper(c.Exchange) + "-CANDLE]"
	if color {
		tag = colorize(tag, ansiDim)
	}
	sb.WriteString(tag)
	sb.WriteString(" ")
	sb.WriteString(c.Symbol)
	sb.WriteString(" ")
	sb.WriteString(FormatGranularity(c.Granularity))
	sb.WriteString(" @ ")
	sb.WriteString(c.StartTime().Format(timeLayout(c.Granularity)))

	body := fmt.Sprintf(" | O:%s H:%s L:%s C:%s V:%s N:%d",
		num(c.Open), num(c.High), num(c.Low), num(c.Close), num(c.Volume), c.TradeCount)
	if color {
		col := ansiGreen
		if c.Close < c.Open {
			col = ansiRed
		}
		body = colorize(body, col)
	}
	sb.WriteString(body)
	sb.WriteString(" | Buy: ")
	sb.WriteString(formatSide(c.Buy))
	sb.WriteString(" | Sell: ")
	sb.WriteString(formatSide(c.Sell))
	return sb.String()
}

// formatSide 单方向统计，无成交时输出 "-"
func formatSide(s model.SideStats) string {
	if s.Empty() {
		return "-"
	}
	return fmt.Sprintf("O:%s H:%s L:%s C:%s V:%s VWAP:%s N:%d",
		num(s.Open), num(s.High), num(s.Low), num(s.Close), num(s.Volume), num(s.VWAP), s.Count)
}

// FormatGranularity 60 -> 1m, 3600 -> 1h, 7 -> 7s
func FormatGranularity(g int) string {
	switch {
	case g >= 86400 && g%86400 == 0:
		return strconv.Itoa(g/86400) + "d"
	case g >= 3600 && g%3600 == 0:
		return strconv.Itoa(g/3600) + "h"
	case g >= 60 && g%60 == 0:
		return strconv.Itoa(g/60) + "m"
	}
	return strconv.Itoa(g) + "s"
}

func timeLayout(g int) string {
	if g >= 86400 {
		return "2006-01-02"
	}
	return "15:04:05"
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
