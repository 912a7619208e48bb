package collector

import (
	"context"
	"errors"
	"time"

	"candlefeed/internal/application/port"
	"candlefeed/internal/application/service"
)

var (
	// ErrNoFeeds 没有任何 feed 任务
	ErrNoFeeds = errors.New("no feeds configured")
	// ErrStartup 启动阶段失败（订阅参数非法等），本次运行不会开始
	ErrStartup = errors.New("collector startup failed")
)

// Feed 连接管理器对外的接口；channel 在 ctx 取消后关闭
type Feed interface {
	Subscribe(ctx context.Context) (<-chan port.FeedEvent, error)
}

// FeedTask 每个 (exchange, market) 一个，聚合器只属于这个任务
type FeedTask struct {
	Name       string
	Feed       Feed
	Aggregator *service.Aggregator
	Sampler    *service.Sampler
}

type ServiceDeps struct {
	Tasks  []FeedTask
	Writer *service.Writer

	ExpiryEvery    time.Duration // 周期性收盘检查，默认 1s
	OutageLogAfter time.Duration // 空窗超过该时长才告警（原始采样间隔）
	StatsEvery     time.Duration // 0 关闭
}
