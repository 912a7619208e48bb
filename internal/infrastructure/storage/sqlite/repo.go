package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
	"candlefeed/internal/infrastructure/storage"
)

// Repo 本地 SQLite 镜像，所有周期共用一张表
type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  granularity INTEGER NOT NULL,
  symbol_id INTEGER NOT NULL,
  ym INTEGER NOT NULL,
  unixtime INTEGER NOT NULL,
  exchange TEXT NOT NULL,
  market TEXT NOT NULL,
  symbol TEXT NOT NULL,
  open REAL NOT NULL,
  high REAL NOT NULL,
  low REAL NOT NULL,
  close REAL NOT NULL,
  volume REAL NOT NULL,
  trade_count INTEGER NOT NULL,
  buy_volume REAL NOT NULL,
  sell_volume REAL NOT NULL,
  buy_count INTEGER NOT NULL,
  sell_count INTEGER NOT NULL,
  vwap REAL NOT NULL,
  buy_open REAL,
  buy_high REAL,
  buy_low REAL,
  buy_close REAL,
  buy_vwap REAL,
  sell_open REAL,
  sell_high REAL,
  sell_low REAL,
  sell_close REAL,
  sell_vwap REAL,
  UNIQUE(granularity, symbol_id, ym, unixtime)
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
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(granularity, symbol_id, ym, unixtime) DO UPDATE SET
  exchange=excluded.exchange, market=excluded.market, symbol=excluded.symbol,
  open=excluded.open, high=excluded.high, low=excluded.low, close=excluded.close,
  volume=excluded.volume, trade_count=excluded.trade_count,
  buy_volume=excluded.buy_volume, sell_volume=excluded.sell_volume,
  buy_count=excluded.buy_count, sell_count=excluded.sell_count, vwap=excluded.vwap,
  buy_open=excluded.buy_open, buy_high=excluded.buy_high, buy_low=excluded.buy_low,
  buy_close=excluded.buy_close, buy_vwap=excluded.buy_vwap,
  sell_open=excluded.sell_open, sell_high=excluded.sell_high, sell_low=excluded.sell_low,
  sell_close=excluded.sell_close, sell_vwap=excluded.sell_vwap
`

// UpsertCandles 一个事务内批量覆盖写入
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
		if _, err := stmt.ExecContext(ctx, storage.RowValues(c, c.WindowStart)...); err != nil {
			return fmt.Errorf("upsert %s/%ds@%d: %w", c.Symbol, c.Granularity, c.WindowStart, err)
		}
	}
	return tx.Commit()
}

// getCandle 按存储键读取一根K线
func (r *Repo) getCandle(ctx context.Context, k model.CandleKey) (model.Candle, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT exchange, market, symbol, open, high, low, close, volume, trade_count,
		       buy_volume, sell_volume, buy_count, sell_count, vwap,
		       buy_open, buy_high, buy_low, buy_close, buy_vwap,
		       sell_open, sell_high, sell_low, sell_close, sell_vwap
		FROM candles
		WHERE granularity=? AND symbol_id=? AND ym=? AND unixtime=?
	`, k.Granularity, k.Meta.Symbol, k.Meta.YM, k.WindowStart)

	c := model.Candle{Meta: k.Meta, WindowStart: k.WindowStart, Granularity: k.Granularity}
	var market string
	var buy, sell [5]sql.NullFloat64
	err := row.Scan(&c.Exchange, &market, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.TradeCount,
		&c.Buy.Volume, &c.Sell.Volume, &c.Buy.Count, &c.Sell.Count, &c.VWAP,
		&buy[0], &buy[1], &buy[2], &buy[3], &buy[4],
		&sell[0], &sell[1], &sell[2], &sell[3], &sell[4])
	if err != nil {
		return model.Candle{}, err
	}
	c.Market = model.MarketType(market)
	scanSide(&c.Buy, buy)
	scanSide(&c.Sell, sell)
	return c, nil
}

func scanSide(s *model.SideStats, v [5]sql.NullFloat64) {
	s.Open, s.High, s.Low, s.Close, s.VWAP = v[0].Float64, v[1].Float64, v[2].Float64, v[3].Float64, v[4].Float64
}

// Count 表内K线数量
func (r *Repo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candles`).Scan(&n)
	return n, err
}

var _ port.CandleRepository = (*Repo)(nil)
