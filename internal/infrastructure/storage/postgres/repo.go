package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
	"candlefeed/internal/infrastructure/storage"
)

// Repo Postgres 镜像仓储
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS candles (
  granularity INTEGER NOT NULL,
  symbol_id INTEGER NOT NULL,
  ym INTEGER NOT NULL,
  unixtime TIMESTAMPTZ NOT NULL,
  exchange TEXT NOT NULL,
  market TEXT NOT NULL,
  symbol TEXT NOT NULL,
  open DOUBLE PRECISION NOT NULL,
  high DOUBLE PRECISION NOT NULL,
  low DOUBLE PRECISION NOT NULL,
  close DOUBLE PRECISION NOT NULL,
  volume DOUBLE PRECISION NOT NULL,
  trade_count BIGINT NOT NULL,
  buy_volume DOUBLE PRECISION NOT NULL,
  sell_volume DOUBLE PRECISION NOT NULL,
  buy_count BIGINT NOT NULL,
  sell_count BIGINT NOT NULL,
  vwap DOUBLE PRECISION NOT NULL,
  buy_open DOUBLE PRECISION,
  buy_high DOUBLE PRECISION,
  buy_low DOUBLE PRECISION,
  buy_close DOUBLE PRECISION,
  buy_vwap DOUBLE PRECISION,
  sell_open DOUBLE PRECISION,
  sell_high DOUBLE PRECISION,
  sell_low DOUBLE PRECISION,
  sell_close DOUBLE PRECISION,
  sell_vwap DOUBLE PRECISION,
  PRIMARY KEY (granularity, symbol_id, ym, unixtime)
);
CREATE INDEX IF NOT EXISTS idx_candles_symbol_time ON candles(symbol, granularity, unixtime);
`)
	return err
}

const upsertSQL = `
INSERT INTO candles(
  granularity, symbol_id, ym, unixtime, exchange, market, symbol,
  open, high, low, close, volume, trade_count,
  buy_volume, sell_volume, buy_count, sell_count, vwap,
  buy_open, buy_high, buy_low, buy_close, buy_vwap,
  sell_open, sell_high, sell_low, sell_close, sell_vwap
) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
ON CONFLICT (granularity, symbol_id, ym, unixtime) DO UPDATE SET
  exchange=EXCLUDED.exchange, market=EXCLUDED.market, symbol=EXCLUDED.symbol,
  open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low, close=EXCLUDED.close,
  volume=EXCLUDED.volume, trade_count=EXCLUDED.trade_count,
  buy_volume=EXCLUDED.buy_volume, sell_volume=EXCLUDED.sell_volume,
  buy_count=EXCLUDED.buy_count, sell_count=EXCLUDED.sell_count, vwap=EXCLUDED.vwap,
  buy_open=EXCLUDED.buy_open, buy_high=EXCLUDED.buy_high, buy_low=EXCLUDED.buy_low,
  buy_close=EXCLUDED.buy_close, buy_vwap=EXCLUDED.buy_vwap,
  sell_open=EXCLUDED.sell_open, sell_high=EXCLUDED.sell_high, sell_low=EXCLUDED.sell_low,
  sell_close=EXCLUDED.sell_close, sell_vwap=EXCLUDED.sell_vwap
`

func (r *Repo) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, storage.RowValues(c, c.StartTime())...); err != nil {
			return fmt.Errorf("upsert %s/%ds@%d: %w", c.Symbol, c.Granularity, c.WindowStart, err)
		}
	}
	return tx.Commit()
}

func (r *Repo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candles`).Scan(&n)
	return n, err
}

var _ port.CandleRepository = (*Repo)(nil)
