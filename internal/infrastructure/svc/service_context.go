package svc

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"candlefeed/internal/application/port"
	"candlefeed/internal/application/service"
	"candlefeed/internal/application/usecase/collector"
	"candlefeed/internal/infrastructure/config"
	"candlefeed/internal/infrastructure/exchange"
	"candlefeed/internal/infrastructure/exchange/binance"
	"candlefeed/internal/infrastructure/exchange/bybit"
	"candlefeed/internal/infrastructure/exchange/hyperliquid"
	"candlefeed/internal/infrastructure/storage/composite"
	"candlefeed/internal/infrastructure/storage/dryrun"
	mongorepo "candlefeed/internal/infrastructure/storage/mongo"
	pgrepo "candlefeed/internal/infrastructure/storage/postgres"
	redisrepo "candlefeed/internal/infrastructure/storage/redis"
	sqliterepo "candlefeed/internal/infrastructure/storage/sqlite"
	"candlefeed/internal/infrastructure/symbols"
	"candlefeed/internal/infrastructure/websocket"
	"candlefeed/internal/interfaces/console"
)

type ServiceContext struct {
	Ctx      context.Context
	Config   *config.Config
	Exchange string

	// 基础设施层（第一层初始化）
	symbols  *symbols.Table
	registry *exchange.Registry
	repo     *composite.Repo

	// 输出端口
	Sink port.Sink

	// 应用业务组件
	writer *service.Writer
	tasks  []collector.FeedTask

	// 资源管理
	closerChain []func() error
}

// NewRegistry 显式注册全部交易所适配器
func NewRegistry() *exchange.Registry {
	r := exchange.NewRegistry()
	bybit.Register(r)
	binance.Register(r)
	hyperliquid.Register(r)
	return r
}

// New 创建并初始化 ServiceContext
// 配置在这里完成最终校验，任何错误都发生在运行开始之前
func New(ctx context.Context, cfg *config.Config, exchangeName string) (*ServiceContext, error) {
	table, err := symbols.Load(cfg.Feed.Master)
	if err != nil {
		return nil, fmt.Errorf("%w: load symbol master: %w", ErrConfigInvalid, err)
	}
	if err := cfg.Resolve(exchangeName, table); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	if len(cfg.MarketTypes) == 0 {
		return nil, ErrNoFeedsEnabled
	}

	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Exchange:    exchangeName,
		symbols:     table,
		registry:    NewRegistry(),
		closerChain: make([]func() error, 0),
	}

	// 初始化所有组件，按依赖顺序
	if err := sc.initializeComponents(); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents() error {
	// 0. 存储层
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}

	// 1. 唯一的 writer；dry-run 时每根K线打印到控制台
	if !sc.Config.Mongo.Update {
		sc.Sink = console.NewSink()
	}
	w := sc.Config.Writer
	sc.writer = service.NewWriter(service.WriterConfig{
		BatchSize:     w.BatchSize,
		FlushInterval: w.FlushInterval,
		WriteTimeout:  w.WriteTimeout,
		DrainTimeout:  sc.Config.App.ShutdownTimeout,
		Retry: service.RetryConfig{
			MaxRetries:   w.Retry.MaxRetries,
			InitialDelay: w.Retry.InitialDelay,
			MaxDelay:     w.Retry.MaxDelay,
		},
	}, sc.repo, sc.Sink)

	// 2. 每个市场一个 feed 任务
	rawMode, err := service.ParseRawMode(sc.Config.Feed.RawMode)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	overrides := exchange.Endpoints(sc.Config.EndpointOverrides(sc.Exchange))
	ws := sc.Config.WebSocket
	for _, market := range sc.Config.MarketTypes {
		adapter, err := sc.registry.New(sc.Exchange, overrides)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
		}
		mgr := websocket.NewManager(adapter, market, sc.Config.Feed.Symbols, websocket.Config{
			HandshakeTimeout: ws.HandshakeTimeout,
			SilenceTimeout:   ws.SilenceTimeout,
			PingInterval:     ws.PingInterval,
			WriteTimeout:     ws.WriteTimeout,
			Retry: websocket.RetryConfig{
				InitialDel: ws.BackoffInitial,
				MaxDelay:   ws.BackoffMax,
			},
			RawLogEvery: sc.Config.RawEvery(),
		})
		sc.tasks = append(sc.tasks, collector.FeedTask{
			Name: adapter.Name() + "/" + market.String(),
			Feed: mgr,
			Aggregator: service.NewAggregator(service.AggregatorConfig{
				Granularities: sc.Config.Granularities,
				LateGrace:     sc.Config.Feed.LateGrace,
			}, sc.symbols),
			Sampler: service.NewSampler(rawMode, sc.Config.RawEvery()),
		})
	}

	log.Info().
		Str("exchange", sc.Exchange).
		Int("feeds", len(sc.tasks)).
		Strs("symbols", sc.Config.Feed.Symbols).
		Ints("granularities", sc.Config.Granularities).
		Bool("update", sc.Config.Mongo.Update).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 主库（MongoDB 或 dry-run）+ 可选镜像
func (sc *ServiceContext) initializeStorage() error {
	var repos []port.CandleRepository

	if sc.Config.Mongo.Update {
		repo, err := mongorepo.New(sc.Ctx, sc.Config.Mongo.URL, sc.Config.Mongo.Database, sc.Config.Mongo.ConnectTimeout)
		if err != nil {
			return err
		}
		repos = append(repos, repo)
		sc.addCloser("mongo", repo.Close)
		log.Info().Str("database", sc.Config.Mongo.Database).Msg("✓ MongoDB initialized")
	} else {
		repos = append(repos, dryrun.New())
		log.Warn().Msg("dry-run mode: candles are printed, not stored (use --update)")
	}

	if sc.Config.SQLite.Enabled {
		repo, err := sqliterepo.New(sc.Config.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		repos = append(repos, repo)
		sc.addCloser("sqlite", repo.Close)
		rows, err := repo.Count(sc.Ctx)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		log.Info().Str("path", sc.Config.SQLite.Path).Int("rows", rows).Msg("✓ SQLite initialized")
	}

	if sc.Config.Postgres.Enabled {
		repo, err := pgrepo.New(sc.Config.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		repos = append(repos, repo)
		sc.addCloser("postgres", repo.Close)
		rows, err := repo.Count(sc.Ctx)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		log.Info().Int("rows", rows).Msg("✓ Postgres initialized")
	}

	if sc.Config.Redis.Enabled {
		repo, err := sc.initRedis()
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		repos = append(repos, repo)
	}

	sc.repo = composite.New(repos...)
	return nil
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() (*redisrepo.Repo, error) {
	rc := sc.Config.Redis
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	repo := redisrepo.New(rdb, rc.Prefix, time.Duration(rc.TTLSeconds)*time.Second, rc.Channel)
	sc.addCloser("redis", repo.Close)

	log.Info().
		Str("addr", rc.Addr).
		Int("db", rc.DB).
		Msg("✓ Redis initialized")
	return repo, nil
}

func (sc *ServiceContext) addCloser(name string, fn func() error) {
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Str("store", name).Msg("closing connection")
		return fn()
	})
}

// BuildCollectorDeps 构建运行控制所需的依赖
func (sc *ServiceContext) BuildCollectorDeps() collector.ServiceDeps {
	return collector.ServiceDeps{
		Tasks:          sc.tasks,
		Writer:         sc.writer,
		ExpiryEvery:    time.Second,
		OutageLogAfter: sc.Config.RawEvery(),
		StatsEvery:     time.Minute,
	}
}

// Close 按照相反的顺序关闭所有资源，应在 writer 写完之后调用
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}
