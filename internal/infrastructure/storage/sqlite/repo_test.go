package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"candlefeed/internal/domain/model"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "data", "candles.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func candle(ws int64, g int, close float64) model.Candle {
	return model.Candle{
		Exchange: "bybit", Market: model.MarketLinear, Symbol: "BTCUSDT",
		Meta: model.NewMetaKey(ws, 3), WindowStart: ws, Granularity: g,
		Open: 100, High: 110, Low: 90, Close: close, Volume: 2.5, TradeCount: 4, VWAP: 101.2,
		Buy: model.SideStats{Open: 100, High: 110, Low: 95, Close: 105, Volume: 1.5, Count: 3, VWAP: 103},
	}
}

func TestSQLiteRepoUpsertCandles(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	c := candle(1791158400, 60, 105)
	if err := repo.UpsertCandles(ctx, []model.Candle{c, candle(1791158460, 60, 106), candle(1791158400, 1, 100)}); err != nil {
		t.Fatalf("UpsertCandles failed: %v", err)
	}

	got, err := repo.getCandle(ctx, c.Key())
	if err != nil {
		t.Fatalf("getCandle failed: %v", err)
	}
	if got != c {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, c)
	}

	n, _ := repo.Count(ctx)
	if n != 3 {
		t.Errorf("expected 3 rows, got %d", n)
	}
}

func TestSQLiteRepoUpsertIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	c := candle(1791158400, 5, 105)
	for i := 0; i < 3; i++ {
		if err := repo.UpsertCandles(ctx, []model.Candle{c}); err != nil {
			t.Fatalf("UpsertCandles #%d failed: %v", i, err)
		}
	}
	n, _ := repo.Count(ctx)
	if n != 1 {
		t.Fatalf("replayed writes must not duplicate, got %d rows", n)
	}

	// 迟到修正：同键整行覆盖
	c.Close = 95
	c.Volume = 3
	c.TradeCount = 5
	if err := repo.UpsertCandles(ctx, []model.Candle{c}); err != nil {
		t.Fatalf("amend failed: %v", err)
	}
	got, err := repo.getCandle(ctx, c.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got.Close != 95 || got.Volume != 3 || got.TradeCount != 5 {
		t.Errorf("amended candle not persisted: %+v", got)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Errorf("expected 1 row after amend, got %d", n)
	}
}

func TestSQLiteRepoEmptySideIsNull(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	c := candle(1791158400, 1, 100)
	if err := repo.UpsertCandles(ctx, []model.Candle{c}); err != nil {
		t.Fatal(err)
	}
	var sellOpen, buyOpen sql.NullFloat64
	err := repo.db.QueryRowContext(ctx, `SELECT buy_open, sell_open FROM candles WHERE granularity=1`).Scan(&buyOpen, &sellOpen)
	if err != nil {
		t.Fatal(err)
	}
	if !buyOpen.Valid || buyOpen.Float64 != 100 {
		t.Errorf("expected buy_open 100, got %+v", buyOpen)
	}
	if sellOpen.Valid {
		t.Errorf("sell side without trades should be NULL, got %v", sellOpen.Float64)
	}
}

func TestSQLiteRepoGetMissing(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.getCandle(context.Background(), candle(1791158400, 1, 1).Key())
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}
