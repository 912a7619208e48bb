package composite

import (
	"context"

	"go.uber.org/multierr"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
)

// Repo 主库 + 若干镜像；任意一个失败整批失败，由 writer 整批重试（写入幂等）
type Repo struct {
	repos []port.CandleRepository
}

func New(repos ...port.CandleRepository) *Repo {
	// nil repos are allowed; filter in constructor
	out := make([]port.CandleRepository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	var err error
	for _, repo := range r.repos {
		err = multierr.Append(err, repo.UpsertCandles(ctx, candles))
	}
	return err
}

func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) Close() error {
	var err error
	for _, repo := range r.repos {
		err = multierr.Append(err, repo.Close())
	}
	return err
}

var _ port.CandleRepository = (*Repo)(nil)
