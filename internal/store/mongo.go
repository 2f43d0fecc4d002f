package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"sentibot-go/internal/execution"
	"sentibot-go/internal/sentiment"
)

const (
	collPositions = "positions"
	collTrades    = "trades"
	collSnapshots = "sentiment_snapshots"
)

// Mongo implements Store on top of a MongoDB database with three logical
// collections: one positions document per pair, and append-only trades and
// sentiment snapshots keyed by timestamp.
type Mongo struct {
	db      *mongo.Database
	timeout time.Duration
	log     zerolog.Logger
}

// NewMongo connects, pings, and returns the store plus a cleanup function
// for shutdown.
func NewMongo(uri, database string, timeout time.Duration, log zerolog.Logger) (*Mongo, func(), error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), timeout)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("mongodb disconnect failed")
		}
	}
	return &Mongo{db: client.Database(database), timeout: timeout, log: log}, cleanup, nil
}

func (m *Mongo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// LoadPosition implements Store.
func (m *Mongo) LoadPosition(ctx context.Context, pair string) (*execution.Position, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var pos execution.Position
	err := m.db.Collection(collPositions).FindOne(ctx, bson.M{"pair": pair}).Decode(&pos)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load position %s: %w", pair, err)
	}
	return &pos, nil
}

// SavePosition implements Store, upserting the single document per pair.
func (m *Mongo) SavePosition(ctx context.Context, pos execution.Position) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	_, err := m.db.Collection(collPositions).ReplaceOne(
		ctx,
		bson.M{"pair": pos.Pair},
		pos,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", pos.Pair, err)
	}
	return nil
}

// AppendTrade implements Store.
func (m *Mongo) AppendTrade(ctx context.Context, trade execution.TradeRecord) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if _, err := m.db.Collection(collTrades).InsertOne(ctx, trade); err != nil {
		return fmt.Errorf("append trade %s: %w", trade.OrderID, err)
	}
	return nil
}

// AppendSnapshot implements Store.
func (m *Mongo) AppendSnapshot(ctx context.Context, pair string, agg sentiment.Aggregated) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	doc := bson.M{"pair": pair, "snapshot": agg, "timestamp": agg.Ts}
	if _, err := m.db.Collection(collSnapshots).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("append snapshot %s: %w", pair, err)
	}
	return nil
}
