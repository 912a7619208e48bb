package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"candlefeed/internal/domain/model"
)

// EnvMongoURL 未通过参数指定数据库地址时读取的环境变量
const EnvMongoURL = "MONGODB_URL"

type Config struct {
	App struct {
		LogLevel        string        `toml:"log_level"`
		ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	} `toml:"app"`

	Feed struct {
		Markets    []string      `toml:"markets"`
		Symbols    []string      `toml:"symbols"`
		Timeframes []string      `toml:"timeframes"`
		RawFreqMs  int           `toml:"raw_freq_ms"`
		RawMode    string        `toml:"raw_mode"`
		LateGrace  time.Duration `toml:"late_grace"`
		Master     string        `toml:"master"`
	} `toml:"feed"`

	WebSocket struct {
		HandshakeTimeout time.Duration `toml:"handshake_timeout"`
		SilenceTimeout   time.Duration `toml:"silence_timeout"`
		PingInterval     time.Duration `toml:"ping_interval"`
		WriteTimeout     time.Duration `toml:"write_timeout"`
		BackoffInitial   time.Duration `toml:"backoff_initial"`
		BackoffMax       time.Duration `toml:"backoff_max"`
	} `toml:"websocket"`

	Writer struct {
		BatchSize     int           `toml:"batch_size"`
		FlushInterval time.Duration `toml:"flush_interval"`
		WriteTimeout  time.Duration `toml:"write_timeout"`
		Retry         struct {
			MaxRetries   int           `toml:"max_retries"`
			InitialDelay time.Duration `toml:"initial_delay"`
			MaxDelay     time.Duration `toml:"max_delay"`
		} `toml:"retry"`
	} `toml:"writer"`

	Mongo struct {
		Update         bool          `toml:"update"`
		URL            string        `toml:"url"`
		Database       string        `toml:"database"`
		ConnectTimeout time.Duration `toml:"connect_timeout"`
	} `toml:"mongo"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`

	Redis struct {
		Enabled    bool   `toml:"enabled"`
		Addr       string `toml:"addr"`
		Password   string `toml:"password"`
		DB         int    `toml:"db"`
		Prefix     string `toml:"prefix"`
		TTLSeconds int    `toml:"ttl_seconds"`
		Channel    string `toml:"channel"`
	} `toml:"redis"`

	// exchange -> market -> ws url
	Endpoints map[string]map[string]string `toml:"endpoints"`

	// 以下由 Resolve 填充
	MarketTypes   []model.MarketType `toml:"-"`
	Granularities []int              `toml:"-"`
}

// DefaultRawFreqMs --raw-freq 默认值
const DefaultRawFreqMs = 1000

// Default 全部默认值，没有配置文件时使用
func Default() *Config {
	cfg := &Config{}
	cfg.Feed.RawFreqMs = DefaultRawFreqMs
	applyDefaults(cfg)
	return cfg
}

// Load 读取 toml 并补全默认值；校验在参数覆盖之后由 Resolve 完成
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	// 只在缺省时补默认值，显式写出的非法值交给 Resolve 报错
	if !md.IsDefined("feed", "raw_freq_ms") {
		cfg.Feed.RawFreqMs = DefaultRawFreqMs
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadEnv 加载 .env（不存在时忽略），已有环境变量不会被覆盖
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.ShutdownTimeout <= 0 {
		cfg.App.ShutdownTimeout = 15 * time.Second
	}

	if len(cfg.Feed.Timeframes) == 0 {
		cfg.Feed.Timeframes = []string{"1m"}
	}
	if cfg.Feed.RawMode == "" {
		cfg.Feed.RawMode = "relay"
	}
	if cfg.Feed.LateGrace <= 0 {
		cfg.Feed.LateGrace = 2 * time.Second
	}
	if cfg.Feed.Master == "" {
		cfg.Feed.Master = "configs/master.csv"
	}

	if cfg.WebSocket.HandshakeTimeout <= 0 {
		cfg.WebSocket.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WebSocket.SilenceTimeout <= 0 {
		cfg.WebSocket.SilenceTimeout = 60 * time.Second
	}
	if cfg.WebSocket.PingInterval <= 0 {
		cfg.WebSocket.PingInterval = 20 * time.Second
	}
	if cfg.WebSocket.WriteTimeout <= 0 {
		cfg.WebSocket.WriteTimeout = 5 * time.Second
	}
	if cfg.WebSocket.BackoffInitial <= 0 {
		cfg.WebSocket.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.WebSocket.BackoffMax <= 0 {
		cfg.WebSocket.BackoffMax = 30 * time.Second
	}

	if cfg.Writer.BatchSize <= 0 {
		cfg.Writer.BatchSize = 500
	}
	if cfg.Writer.FlushInterval <= 0 {
		cfg.Writer.FlushInterval = time.Second
	}
	if cfg.Writer.WriteTimeout <= 0 {
		cfg.Writer.WriteTimeout = 10 * time.Second
	}
	if cfg.Writer.Retry.MaxRetries <= 0 {
		cfg.Writer.Retry.MaxRetries = 5
	}
	if cfg.Writer.Retry.InitialDelay <= 0 {
		cfg.Writer.Retry.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Writer.Retry.MaxDelay <= 0 {
		cfg.Writer.Retry.MaxDelay = 10 * time.Second
	}

	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "trade"
	}
	if cfg.Mongo.ConnectTimeout <= 0 {
		cfg.Mongo.ConnectTimeout = 10 * time.Second
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/candles.db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "candlefeed"
	}
}

// SymbolIndex 交易对主表
type SymbolIndex interface {
	Missing(exchange string, market model.MarketType, symbols []string) []string
}

// Resolve 参数覆盖之后调用：读取环境变量、解析周期与市场，并一次性报告所有配置错误
func (cfg *Config) Resolve(exchange string, index SymbolIndex) error {
	applyDefaults(cfg)

	if strings.TrimSpace(cfg.Mongo.URL) == "" {
		cfg.Mongo.URL = strings.TrimSpace(os.Getenv(EnvMongoURL))
	}
	cfg.Feed.Symbols = normalizeSymbols(cfg.Feed.Symbols)

	var err error

	cfg.MarketTypes = cfg.MarketTypes[:0]
	seen := make(map[model.MarketType]struct{})
	for _, m := range cfg.Feed.Markets {
		mt, e := model.ParseMarketType(m)
		if e != nil {
			err = multierr.Append(err, e)
			continue
		}
		if _, ok := seen[mt]; ok {
			continue
		}
		seen[mt] = struct{}{}
		cfg.MarketTypes = append(cfg.MarketTypes, mt)
	}
	if len(cfg.Feed.Markets) == 0 {
		err = multierr.Append(err, errors.New("no market type selected: use --spot, --linear or --inverse"))
	}

	gs, e := ParseTimeframes(cfg.Feed.Timeframes)
	err = multierr.Append(err, e)
	cfg.Granularities = gs

	if len(cfg.Feed.Symbols) == 0 {
		err = multierr.Append(err, errors.New("symbols is empty"))
	} else if index != nil {
		for _, mt := range cfg.MarketTypes {
			if missing := index.Missing(exchange, mt, cfg.Feed.Symbols); len(missing) > 0 {
				err = multierr.Append(err, fmt.Errorf("symbols not in master list for %s %s: %s",
					exchange, mt, strings.Join(missing, ",")))
			}
		}
	}

	if cfg.Feed.RawFreqMs < 2 {
		err = multierr.Append(err, fmt.Errorf("raw_freq must be >= 2, got %d", cfg.Feed.RawFreqMs))
	}
	if cfg.Mongo.Update && cfg.Mongo.URL == "" {
		err = multierr.Append(err, fmt.Errorf("--update requires --database-url or %s", EnvMongoURL))
	}
	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		err = multierr.Append(err, errors.New("postgres.dsn empty but enabled"))
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		err = multierr.Append(err, errors.New("redis.addr empty but enabled"))
	}
	return err
}

// RawEvery 采样/原始帧日志间隔
func (cfg *Config) RawEvery() time.Duration {
	return time.Duration(cfg.Feed.RawFreqMs) * time.Millisecond
}

// EndpointOverrides 某个交易所的地址覆盖
func (cfg *Config) EndpointOverrides(exchange string) map[model.MarketType]string {
	out := make(map[model.MarketType]string)
	for m, u := range cfg.Endpoints[strings.ToLower(exchange)] {
		if mt, err := model.ParseMarketType(m); err == nil && strings.TrimSpace(u) != "" {
			out[mt] = strings.TrimSpace(u)
		}
	}
	return out
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
