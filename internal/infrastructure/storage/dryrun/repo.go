package dryrun

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
	"candlefeed/internal/infrastructure/storage"
)

// Repo 不写库，只把将要写入的文档打到日志（未指定 --update 时使用）
type Repo struct{}

func New() *Repo { return &Repo{} }

func (r *Repo) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, c := range candles {
		b, err := json.Marshal(storage.NewDocument(c))
		if err != nil {
			return err
		}
		log.Debug().
			Str("collection", model.CollectionName(c.Granularity)).
			Str("symbol", c.Symbol).
			RawJSON("doc", b).
			Msg("dry-run upsert")
	}
	return nil
}

func (r *Repo) Close() error { return nil }

var _ port.CandleRepository = (*Repo)(nil)
