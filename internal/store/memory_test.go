package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentibot-go/internal/exchange"
	"sentibot-go/internal/execution"
	"sentibot-go/internal/sentiment"
)

func TestMemoryPositionRoundTrip(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	got, err := mem.LoadPosition(ctx, "BTCUSDT")
	if err != nil || got != nil {
		t.Fatalf("expected nil position for unseen pair, got %v err %v", got, err)
	}

	pos := execution.Position{Pair: "BTCUSDT", Qty: 0.5, AvgEntryPrice: 100, OpenedAt: time.Now()}
	if err := mem.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition returned error: %v", err)
	}

	got, err = mem.LoadPosition(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("LoadPosition returned error: %v", err)
	}
	if got == nil || got.Qty != 0.5 {
		t.Fatalf("expected saved position back, got %+v", got)
	}
}

func TestMemoryAppendsAreDurable(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	trade := execution.TradeRecord{OrderID: "ord-1", Pair: "BTCUSDT", Side: exchange.Buy, FillQty: 1}
	if err := mem.AppendTrade(ctx, trade); err != nil {
		t.Fatalf("AppendTrade returned error: %v", err)
	}
	if err := mem.AppendSnapshot(ctx, "BTCUSDT", sentiment.Aggregated{SampleCount: 3}); err != nil {
		t.Fatalf("AppendSnapshot returned error: %v", err)
	}

	if trades := mem.Trades(); len(trades) != 1 || trades[0].OrderID != "ord-1" {
		t.Fatalf("expected recorded trade, got %+v", trades)
	}
	if mem.Snapshots() != 1 {
		t.Fatalf("expected one snapshot, got %d", mem.Snapshots())
	}
}

func TestMemoryFailureInjection(t *testing.T) {
	mem := NewMemory()
	mem.TradeErr = errors.New("disk full")

	err := mem.AppendTrade(context.Background(), execution.TradeRecord{OrderID: "x"})
	if err == nil {
		t.Fatalf("expected injected trade failure")
	}
	if len(mem.Trades()) != 0 {
		t.Fatalf("failed append must not record the trade")
	}
}
