package exchange

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"candlefeed/internal/application/port"
)

// Factory 创建适配器；override 为配置中的地址覆盖
// 每个 feed 任务一个适配器实例
type Factory func(override Endpoints) port.Adapter

// Registry 交易所名称 -> 适配器工厂，启动时显式构建
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, factory Factory) {
	name = strings.ToLower(strings.TrimSpace(name))
	if factory == nil {
		log.Warn().Str("exchange", name).Msg("invalid adapter factory")
		return
	}
	if _, exists := r.factories[name]; exists {
		log.Warn().Str("exchange", name).Msg("adapter factory already registered, overwriting")
	}
	r.factories[name] = factory
}

// New 按名称创建适配器
func (r *Registry) New(name string, override Endpoints) (port.Adapter, error) {
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q (known: %s)", name, strings.Join(r.Names(), ","))
	}
	return f(override), nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
