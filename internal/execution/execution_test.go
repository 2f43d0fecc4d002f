package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sentibot-go/internal/exchange"
)

type fakeVenue struct {
	submitErrs  []error // consumed per submit attempt; nil means success
	submitCalls int
	status      exchange.OrderStatus
	pollErr     error
}

func (f *fakeVenue) SubmitOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderHandle, error) {
	f.submitCalls++
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return exchange.OrderHandle{}, err
		}
	}
	return exchange.OrderHandle{ID: fmt.Sprintf("ord-%d", f.submitCalls), Symbol: req.Symbol, SubmittedAt: time.Now()}, nil
}

func (f *fakeVenue) PollOrder(context.Context, exchange.OrderHandle) (exchange.OrderStatus, error) {
	if f.pollErr != nil {
		return exchange.OrderStatus{}, f.pollErr
	}
	return f.status, nil
}

func (f *fakeVenue) Balance(context.Context, string) (float64, error) { return 1e9, nil }
func (f *fakeVenue) Price(context.Context, string) (float64, error)  { return 100, nil }

type fakeStore struct {
	trades    []TradeRecord
	positions []Position
	tradeErr  error
	posErr    error
}

func (s *fakeStore) AppendTrade(_ context.Context, trade TradeRecord) error {
	if s.tradeErr != nil {
		return s.tradeErr
	}
	s.trades = append(s.trades, trade)
	return nil
}

func (s *fakeStore) SavePosition(_ context.Context, pos Position) error {
	if s.posErr != nil {
		return s.posErr
	}
	s.positions = append(s.positions, pos)
	return nil
}

func testConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryDelay:      time.Millisecond,
		MinFillFraction: 0.5,
		PollInterval:    time.Millisecond,
		PollTimeout:     20 * time.Millisecond,
	}
}

func buyOrder(key string) OrderInstruction {
	return OrderInstruction{
		Pair:           "BTCUSDT",
		Side:           exchange.Buy,
		Qty:            1,
		IdempotencyKey: key,
		Ts:             time.Now(),
	}
}

func transientErr() error {
	return exchange.NewError(exchange.KindTransient, "submit", errors.New("timeout"))
}

func TestExecuteRetryBound(t *testing.T) {
	venue := &fakeVenue{submitErrs: []error{transientErr(), transientErr(), transientErr(), transientErr()}}
	store := &fakeStore{}
	engine := NewEngine(venue, store, testConfig(), zerolog.Nop())

	pos := Position{Pair: "BTCUSDT"}
	_, newPos, err := engine.Execute(context.Background(), buyOrder("k-retry"), pos)
	if KindOf(err) != FailTransient {
		t.Fatalf("expected EXCHANGE_TRANSIENT, got %v", err)
	}
	if venue.submitCalls != 3 {
		t.Fatalf("expected exactly 3 submit attempts, got %d", venue.submitCalls)
	}
	if len(store.trades) != 0 {
		t.Fatalf("no trade must be written on failure, got %d", len(store.trades))
	}
	if newPos != pos {
		t.Fatalf("position must be unchanged on failure")
	}
}

func TestExecuteRejectionNotRetried(t *testing.T) {
	venue := &fakeVenue{submitErrs: []error{exchange.NewError(exchange.KindRejected, "submit", errors.New("insufficient funds"))}}
	engine := NewEngine(venue, &fakeStore{}, testConfig(), zerolog.Nop())

	_, _, err := engine.Execute(context.Background(), buyOrder("k-reject"), Position{Pair: "BTCUSDT"})
	if KindOf(err) != FailRejected {
		t.Fatalf("expected EXCHANGE_FATAL, got %v", err)
	}
	if venue.submitCalls != 1 {
		t.Fatalf("fatal rejection must not be retried, got %d attempts", venue.submitCalls)
	}
}

func TestExecuteSettlesFill(t *testing.T) {
	venue := &fakeVenue{status: exchange.OrderStatus{State: exchange.StateFilled, FilledQty: 1, AvgFillPrice: 101, Fees: 0.1}}
	store := &fakeStore{}
	engine := NewEngine(venue, store, testConfig(), zerolog.Nop())

	trade, pos, err := engine.Execute(context.Background(), buyOrder("k-fill"), Position{Pair: "BTCUSDT"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if trade.FillQty != 1 || trade.FillPrice != 101 {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if pos.Qty != 1 || pos.AvgEntryPrice != 101 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if len(store.trades) != 1 || len(store.positions) != 1 {
		t.Fatalf("expected one trade and one position persisted")
	}
	if store.trades[0].Basis.Ts != trade.Basis.Ts {
		t.Fatalf("trade lost its sentiment basis")
	}
}

func TestExecuteIdempotency(t *testing.T) {
	venue := &fakeVenue{status: exchange.OrderStatus{State: exchange.StateFilled, FilledQty: 1, AvgFillPrice: 100}}
	store := &fakeStore{}
	engine := NewEngine(venue, store, testConfig(), zerolog.Nop())

	pos := Position{Pair: "BTCUSDT"}
	_, pos, err := engine.Execute(context.Background(), buyOrder("k-same"), pos)
	if err != nil {
		t.Fatalf("first Execute returned error: %v", err)
	}

	_, pos2, err := engine.Execute(context.Background(), buyOrder("k-same"), pos)
	if KindOf(err) != FailDuplicate {
		t.Fatalf("expected DUPLICATE_SUBMISSION, got %v", err)
	}
	if len(store.trades) != 1 {
		t.Fatalf("duplicate submission must not write a second trade, got %d", len(store.trades))
	}
	if pos2.Qty != pos.Qty {
		t.Fatalf("duplicate submission must not change the position")
	}
}

func TestSettledKeysEvictedBeyondLimit(t *testing.T) {
	venue := &fakeVenue{status: exchange.OrderStatus{State: exchange.StateFilled, FilledQty: 1, AvgFillPrice: 100}}
	engine := NewEngine(venue, &fakeStore{}, testConfig(), zerolog.Nop())

	pos := Position{Pair: "BTCUSDT"}
	for i := 0; i <= settledLimit; i++ {
		if _, _, err := engine.Execute(context.Background(), buyOrder(fmt.Sprintf("k-%d", i)), pos); err != nil {
			t.Fatalf("Execute %d returned error: %v", i, err)
		}
	}

	if len(engine.settled) != settledLimit {
		t.Fatalf("expected settled cache capped at %d, got %d", settledLimit, len(engine.settled))
	}

	// The oldest key has been evicted locally; only the venue can refuse it
	// now, and this fake accepts.
	if _, _, err := engine.Execute(context.Background(), buyOrder("k-0"), pos); err != nil {
		t.Fatalf("evicted key should not trip the local duplicate check, got %v", err)
	}

	// Recent keys still short-circuit.
	if _, _, err := engine.Execute(context.Background(), buyOrder(fmt.Sprintf("k-%d", settledLimit)), pos); KindOf(err) != FailDuplicate {
		t.Fatalf("expected DUPLICATE_SUBMISSION for recent key, got %v", err)
	}
}

func TestExecutePartialFillAbandoned(t *testing.T) {
	venue := &fakeVenue{status: exchange.OrderStatus{State: exchange.StatePartiallyFilled, FilledQty: 0.2, AvgFillPrice: 100}}
	store := &fakeStore{}
	engine := NewEngine(venue, store, testConfig(), zerolog.Nop())

	_, pos, err := engine.Execute(context.Background(), buyOrder("k-partial-low"), Position{Pair: "BTCUSDT"})
	if KindOf(err) != FailPartial {
		t.Fatalf("expected PARTIAL_FILL failure, got %v", err)
	}
	if len(store.trades) != 0 || pos.Qty != 0 {
		t.Fatalf("abandoned partial must not settle")
	}
}

func TestExecutePartialFillAccepted(t *testing.T) {
	venue := &fakeVenue{status: exchange.OrderStatus{State: exchange.StatePartiallyFilled, FilledQty: 0.6, AvgFillPrice: 100}}
	store := &fakeStore{}
	engine := NewEngine(venue, store, testConfig(), zerolog.Nop())

	trade, pos, err := engine.Execute(context.Background(), buyOrder("k-partial-ok"), Position{Pair: "BTCUSDT"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if trade.FillQty != 0.6 || pos.Qty != 0.6 {
		t.Fatalf("expected partial settle at 0.6, got trade %.2f pos %.2f", trade.FillQty, pos.Qty)
	}
}

func TestExecuteReconciliationOnStoreFailure(t *testing.T) {
	venue := &fakeVenue{status: exchange.OrderStatus{State: exchange.StateFilled, FilledQty: 1, AvgFillPrice: 100}}
	store := &fakeStore{tradeErr: errors.New("mongo down")}
	engine := NewEngine(venue, store, testConfig(), zerolog.Nop())

	pos := Position{Pair: "BTCUSDT"}
	_, newPos, err := engine.Execute(context.Background(), buyOrder("k-recon"), pos)
	if !IsReconciliation(err) {
		t.Fatalf("expected RECONCILIATION_ERROR, got %v", err)
	}
	if newPos != pos {
		t.Fatalf("reconciliation failure must surface the old position, not a provisional one")
	}
}

func TestApplyFillAveragesAndCloses(t *testing.T) {
	pos := Position{Pair: "BTCUSDT"}
	now := time.Now()

	pos = ApplyFill(pos, TradeRecord{Pair: "BTCUSDT", Side: exchange.Buy, FillPrice: 100, FillQty: 1, Ts: now})
	pos = ApplyFill(pos, TradeRecord{Pair: "BTCUSDT", Side: exchange.Buy, FillPrice: 110, FillQty: 1, Ts: now})
	if math.Abs(pos.AvgEntryPrice-105) > 1e-9 {
		t.Fatalf("expected avg entry 105, got %.4f", pos.AvgEntryPrice)
	}
	if pos.OpenedAt != now {
		t.Fatalf("open timestamp should stick to the first entry")
	}

	pos = ApplyFill(pos, TradeRecord{Pair: "BTCUSDT", Side: exchange.Sell, FillPrice: 120, FillQty: 2, Ts: now})
	if pos.Qty != 0 || pos.AvgEntryPrice != 0 || !pos.OpenedAt.IsZero() {
		t.Fatalf("expected flat reset position, got %+v", pos)
	}
}

func TestPnLEstimate(t *testing.T) {
	pos := Position{Pair: "BTCUSDT", Qty: 2, AvgEntryPrice: 100}
	got := pnlEstimate(pos, exchange.Sell, 110, 1, 0.5)
	if math.Abs(got-9.5) > 1e-9 {
		t.Fatalf("expected pnl 9.5, got %.4f", got)
	}
	if got := pnlEstimate(pos, exchange.Buy, 110, 1, 0.5); got != -0.5 {
		t.Fatalf("buy should book only fees, got %.4f", got)
	}
}
