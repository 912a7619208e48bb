package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"candlefeed/internal/application/service"
	"candlefeed/internal/application/usecase/collector"
	"candlefeed/internal/infrastructure/config"
	"candlefeed/internal/infrastructure/logger"
	"candlefeed/internal/infrastructure/svc"
)

// 进程退出码
const (
	ExitOK      = 0
	ExitStartup = 1 // 配置、凭据或启动失败
	ExitFatal   = 2 // 运行中的致命错误（写入重试耗尽）
)

// Main 单交易所采集进程入口
func Main(exchange string, args []string) int {
	logger.Setup()

	cfg, err := loadConfig(exchange, args, os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitOK
		}
		log.Error().Err(err).Msg("load config failed")
		return ExitStartup
	}
	if err := logger.SetLevel(cfg.App.LogLevel); err != nil {
		log.Error().Err(err).Str("level", cfg.App.LogLevel).Msg("invalid log level")
		return ExitStartup
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg, exchange)
	if err != nil {
		log.Error().Err(err).Str("exchange", exchange).Msg("startup failed")
		return ExitStartup
	}
	defer sc.Close()

	log.Info().
		Str("exchange", exchange).
		Str("master", cfg.Feed.Master).
		Str("raw_mode", cfg.Feed.RawMode).
		Int("raw_freq_ms", cfg.Feed.RawFreqMs).
		Msg(exchange + " collector started")

	return exitCode(collector.NewService(sc.BuildCollectorDeps()).Run(ctx))
}

func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info().Msg("clean shutdown")
		return ExitOK
	case errors.Is(err, collector.ErrStartup), errors.Is(err, collector.ErrNoFeeds):
		log.Error().Err(err).Msg("collector failed to start")
		return ExitStartup
	case errors.Is(err, service.ErrWriteExhausted):
		log.Error().Err(err).Msg("fatal write error")
		return ExitFatal
	default:
		log.Error().Err(err).Msg("collector exited")
		return ExitFatal
	}
}

// loadConfig .env -> 配置文件（默认路径不存在时用默认值）-> 命令行覆盖
func loadConfig(exchange string, args []string, usage io.Writer) (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	flags := config.NewFlags(exchange)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(usage, "Usage of %s:\n%s", exchange, flags.Usage())
		}
		return nil, err
	}

	var cfg *config.Config
	if _, statErr := os.Stat(flags.ConfigPath); statErr != nil && !flags.ConfigChanged() {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.Load(flags.ConfigPath); err != nil {
			return nil, fmt.Errorf("config %s: %w", flags.ConfigPath, err)
		}
	}
	flags.Apply(cfg)
	return cfg, nil
}
