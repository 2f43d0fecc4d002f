// Package store persists positions, trade records, and sentiment snapshots.
package store

import (
	"context"

	"sentibot-go/internal/execution"
	"sentibot-go/internal/sentiment"
)

// Store is the document-store contract the engine depends on. Writes are
// at-least-once durable; AppendTrade failures are treated as fatal for the
// cycle by the caller because they break the audit trail.
type Store interface {
	// LoadPosition returns the last saved position for pair, or nil when the
	// pair has never traded.
	LoadPosition(ctx context.Context, pair string) (*execution.Position, error)
	SavePosition(ctx context.Context, pos execution.Position) error
	AppendTrade(ctx context.Context, trade execution.TradeRecord) error
	AppendSnapshot(ctx context.Context, pair string, agg sentiment.Aggregated) error
}
