package config

import (
	"strings"

	"github.com/spf13/pflag"

	"candlefeed/internal/domain/model"
)

// DefaultPath 默认配置文件
const DefaultPath = "configs/config.toml"

// Flags 命令行参数，显式指定的值覆盖配置文件
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath  string
	Spot        bool
	Linear      bool
	Inverse     bool
	Symbols     []string
	Timeframes  []string
	RawFreq     int
	RawMode     string
	Update      bool
	DatabaseURL string
	Master      string
	LogLevel    string
}

func NewFlags(name string) *Flags {
	f := &Flags{fs: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	fs := f.fs
	// 由调用方打印 usage
	fs.Usage = func() {}
	fs.StringVar(&f.ConfigPath, "config", DefaultPath, "path to config.toml")
	fs.BoolVar(&f.Spot, "spot", false, "collect the spot market")
	fs.BoolVar(&f.Linear, "linear", false, "collect the linear (USDT margined) perpetual market")
	fs.BoolVar(&f.Inverse, "inverse", false, "collect the inverse (coin margined) market")
	fs.StringSliceVar(&f.Symbols, "symbols", nil, "comma separated symbols, e.g. BTCUSDT,ETHUSDT")
	fs.StringSliceVarP(&f.Timeframes, "timeframes", "t", nil, "candle timeframes in seconds or aliases, e.g. 1s,1m,1h")
	fs.IntVar(&f.RawFreq, "raw-freq", DefaultRawFreqMs, "raw sampling interval in ms (minimum 2)")
	fs.StringVar(&f.RawMode, "raw-mode", "relay", "raw trade policy: relay or sample")
	fs.BoolVar(&f.Update, "update", false, "write candles to the database (otherwise print only)")
	fs.StringVarP(&f.DatabaseURL, "database-url", "d", "", "MongoDB URL (or "+EnvMongoURL+" env)")
	fs.StringVar(&f.Master, "master", "", "path to the symbol master csv")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	return f
}

func (f *Flags) Parse(args []string) error {
	return f.fs.Parse(args)
}

// ConfigChanged 是否显式指定了 --config
func (f *Flags) ConfigChanged() bool {
	return f.fs.Changed("config")
}

func (f *Flags) Usage() string {
	return f.fs.FlagUsages()
}

// Apply 把显式给出的参数写入配置
func (f *Flags) Apply(cfg *Config) {
	var markets []string
	if f.Spot {
		markets = append(markets, model.MarketSpot.String())
	}
	if f.Linear {
		markets = append(markets, model.MarketLinear.String())
	}
	if f.Inverse {
		markets = append(markets, model.MarketInverse.String())
	}
	if len(markets) > 0 {
		cfg.Feed.Markets = markets
	}

	if f.fs.Changed("symbols") {
		cfg.Feed.Symbols = f.Symbols
	}
	if f.fs.Changed("timeframes") {
		cfg.Feed.Timeframes = f.Timeframes
	}
	if f.fs.Changed("raw-freq") {
		cfg.Feed.RawFreqMs = f.RawFreq
	}
	if f.fs.Changed("raw-mode") {
		cfg.Feed.RawMode = f.RawMode
	}
	if f.Update {
		cfg.Mongo.Update = true
	}
	if u := strings.TrimSpace(f.DatabaseURL); u != "" {
		cfg.Mongo.URL = u
	}
	if m := strings.TrimSpace(f.Master); m != "" {
		cfg.Feed.Master = m
	}
	if l := strings.TrimSpace(f.LogLevel); l != "" {
		cfg.App.LogLevel = l
	}
}
