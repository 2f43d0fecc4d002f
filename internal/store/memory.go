package store

import (
	"context"
	"sync"

	"sentibot-go/internal/execution"
	"sentibot-go/internal/sentiment"
)

// Memory is an in-process Store for paper trading and tests. Error fields
// allow injecting write failures to exercise reconciliation paths.
type Memory struct {
	mu        sync.Mutex
	positions map[string]execution.Position
	trades    []execution.TradeRecord
	snapshots []snapshotDoc

	TradeErr    error
	PositionErr error
	SnapshotErr error
}

type snapshotDoc struct {
	Pair string
	Agg  sentiment.Aggregated
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{positions: make(map[string]execution.Position)}
}

// LoadPosition implements Store.
func (m *Memory) LoadPosition(_ context.Context, pair string) (*execution.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[pair]
	if !ok {
		return nil, nil
	}
	out := pos
	return &out, nil
}

// SavePosition implements Store.
func (m *Memory) SavePosition(_ context.Context, pos execution.Position) error {
	if m.PositionErr != nil {
		return m.PositionErr
	}
	m.mu.Lock()
	m.positions[pos.Pair] = pos
	m.mu.Unlock()
	return nil
}

// AppendTrade implements Store.
func (m *Memory) AppendTrade(_ context.Context, trade execution.TradeRecord) error {
	if m.TradeErr != nil {
		return m.TradeErr
	}
	m.mu.Lock()
	m.trades = append(m.trades, trade)
	m.mu.Unlock()
	return nil
}

// AppendSnapshot implements Store.
func (m *Memory) AppendSnapshot(_ context.Context, pair string, agg sentiment.Aggregated) error {
	if m.SnapshotErr != nil {
		return m.SnapshotErr
	}
	m.mu.Lock()
	m.snapshots = append(m.snapshots, snapshotDoc{Pair: pair, Agg: agg})
	m.mu.Unlock()
	return nil
}

// Trades returns a copy of the recorded trades.
func (m *Memory) Trades() []execution.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]execution.TradeRecord, len(m.trades))
	copy(out, m.trades)
	return out
}

// Snapshots returns the number of persisted sentiment snapshots.
func (m *Memory) Snapshots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}
