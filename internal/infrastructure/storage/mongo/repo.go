package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"candlefeed/internal/application/port"
	"candlefeed/internal/domain/model"
	"candlefeed/internal/infrastructure/storage"
)

// DefaultDatabase K线库名
const DefaultDatabase = "trade"

// Repo MongoDB 时序集合仓储，每个周期一个集合（candles_<g>s）
// 集合与索引由运维预先创建
type Repo struct {
	client *mongo.Client
	db     *mongo.Database
}

// New 连接并 ping，失败即返回错误（启动阶段致命）
func New(ctx context.Context, uri, database string, timeout time.Duration) (*Repo, error) {
	if database == "" {
		database = DefaultDatabase
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Repo{client: client, db: client.Database(database)}, nil
}

// UpsertCandles 按 (metadata, unixtime) 整文档覆盖写入，重复写入结果一致
func (r *Repo) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	keys, groups := storage.GroupByGranularity(candles)
	for _, g := range keys {
		models := WriteModels(groups[g])
		coll := r.db.Collection(model.CollectionName(g))
		if _, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("bulk write %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// Filter 文档唯一键
func Filter(c model.Candle) bson.D {
	return bson.D{
		{Key: "unixtime", Value: c.StartTime()},
		{Key: "metadata.ym", Value: c.Meta.YM},
		{Key: "metadata.symbol", Value: c.Meta.Symbol},
	}
}

func WriteModels(candles []model.Candle) []mongo.WriteModel {
	out := make([]mongo.WriteModel, 0, len(candles))
	for _, c := range candles {
		out = append(out, mongo.NewReplaceOneModel().
			SetFilter(Filter(c)).
			SetReplacement(storage.NewDocument(c)).
			SetUpsert(true))
	}
	return out
}

func (r *Repo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ port.CandleRepository = (*Repo)(nil)
