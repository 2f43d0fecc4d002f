package risk

import (
	"math"
	"testing"
	"time"

	"sentibot-go/internal/exchange"
	"sentibot-go/internal/execution"
	"sentibot-go/internal/signal"
)

func testLimits() Limits {
	return Limits{
		MaxPositionSize: 1.0,
		MinLotSize:      0.01,
		StopLossPct:     0.03,
		TakeProfitPct:   0.06,
		Cooldown:        30 * time.Minute,
	}
}

func TestEvaluateHoldAlwaysVetoes(t *testing.T) {
	mgr := NewManager("BTCUSDT", testLimits(), 15*time.Minute)

	order, veto := mgr.Evaluate(signal.Signal{Action: signal.Hold}, execution.Position{}, 1e6, 100, time.Now())
	if order != nil || veto == nil || veto.Reason != ReasonHoldSignal {
		t.Fatalf("expected HOLD_SIGNAL veto, got order=%v veto=%v", order, veto)
	}
}

func TestEvaluateBuySizingAndStops(t *testing.T) {
	mgr := NewManager("BTCUSDT", testLimits(), 15*time.Minute)
	sig := signal.Signal{Action: signal.Buy, Strength: 0.5}

	order, veto := mgr.Evaluate(sig, execution.Position{Pair: "BTCUSDT"}, 1e6, 200, time.Now())
	if veto != nil {
		t.Fatalf("unexpected veto: %s", veto)
	}
	if order.Side != exchange.Buy || math.Abs(order.Qty-0.5) > 1e-9 {
		t.Fatalf("expected BUY 0.5, got %s %.4f", order.Side, order.Qty)
	}
	if math.Abs(order.StopLoss-194) > 1e-9 {
		t.Fatalf("expected stop loss 194, got %.4f", order.StopLoss)
	}
	if math.Abs(order.TakeProfit-212) > 1e-9 {
		t.Fatalf("expected take profit 212, got %.4f", order.TakeProfit)
	}
	if order.IdempotencyKey == "" {
		t.Fatalf("order missing idempotency key")
	}
}

func TestEvaluateBuyFloorClampedToMinLot(t *testing.T) {
	mgr := NewManager("BTCUSDT", testLimits(), 15*time.Minute)
	sig := signal.Signal{Action: signal.Buy, Strength: 0.001}

	order, veto := mgr.Evaluate(sig, execution.Position{}, 1e6, 100, time.Now())
	if veto != nil {
		t.Fatalf("unexpected veto: %s", veto)
	}
	if order.Qty != 0.01 {
		t.Fatalf("expected quantity raised to min lot 0.01, got %.4f", order.Qty)
	}
}

func TestEvaluateBuyVetoedAtPositionCap(t *testing.T) {
	mgr := NewManager("BTCUSDT", testLimits(), 15*time.Minute)
	sig := signal.Signal{Action: signal.Buy, Strength: 0.5}
	pos := execution.Position{Pair: "BTCUSDT", Qty: 0.8}

	order, veto := mgr.Evaluate(sig, pos, 1e6, 100, time.Now())
	if order != nil || veto.Reason != ReasonMaxPosition {
		t.Fatalf("expected MAX_POSITION veto, got order=%v veto=%v", order, veto)
	}
}

func TestEvaluateBuyVetoedOnBalance(t *testing.T) {
	mgr := NewManager("BTCUSDT", testLimits(), 15*time.Minute)
	sig := signal.Signal{Action: signal.Buy, Strength: 1}

	order, veto := mgr.Evaluate(sig, execution.Position{}, 10, 100, time.Now())
	if order != nil || veto.Reason != ReasonInsufficientBalance {
		t.Fatalf("expected INSUFFICIENT_BALANCE veto, got order=%v veto=%v", order, veto)
	}
}

func TestEvaluateSellNothingToSell(t *testing.T) {
	mgr := NewManager("BTCUSDT", testLimits(), 15*time.Minute)
	sig := signal.Signal{Action: signal.Sell, Strength: 0.8}

	order, veto := mgr.Evaluate(sig, execution.Position{Pair: "BTCUSDT", Qty: 0}, 1e6, 100, time.Now())
	if order != nil || veto.Reason != ReasonNothingToSell {
		t.Fatalf("expected NOTHING_TO_SELL veto, got order=%v veto=%v", order, veto)
	}
}

func TestEvaluateSellCappedByPosition(t *testing.T) {
	mgr := NewManager("BTCUSDT", testLimits(), 15*time.Minute)
	sig := signal.Signal{Action: signal.Sell, Strength: 1}
	pos := execution.Position{Pair: "BTCUSDT", Qty: 0.3, AvgEntryPrice: 90}

	order, veto := mgr.Evaluate(sig, pos, 1e6, 100, time.Now())
	if veto != nil {
		t.Fatalf("unexpected veto: %s", veto)
	}
	if order.Qty != 0.3 {
		t.Fatalf("expected sell capped at position 0.3, got %.4f", order.Qty)
	}
	if order.StopLoss <= 100 || order.TakeProfit >= 100 {
		t.Fatalf("expected inverted stops for sell, got sl=%.2f tp=%.2f", order.StopLoss, order.TakeProfit)
	}
}

func TestEvaluateSellClosesDustPosition(t *testing.T) {
	mgr := NewManager("BTCUSDT", testLimits(), 15*time.Minute)
	sig := signal.Signal{Action: signal.Sell, Strength: 0.0001}
	pos := execution.Position{Pair: "BTCUSDT", Qty: 0.005}

	order, veto := mgr.Evaluate(sig, pos, 1e6, 100, time.Now())
	if veto != nil {
		t.Fatalf("unexpected veto: %s", veto)
	}
	if order.Qty != 0.005 {
		t.Fatalf("expected dust position closed whole, got %.4f", order.Qty)
	}
}

func TestCooldownVeto(t *testing.T) {
	mgr := NewManager("BTCUSDT", testLimits(), 15*time.Minute)
	now := time.Now()
	mgr.RecordExecution(now)

	sig := signal.Signal{Action: signal.Buy, Strength: 0.5}
	order, veto := mgr.Evaluate(sig, execution.Position{}, 1e6, 100, now.Add(10*time.Minute))
	if order != nil || veto.Reason != ReasonCooldown {
		t.Fatalf("expected COOLDOWN veto, got order=%v veto=%v", order, veto)
	}

	// Past the cool-down the signal trades again.
	order, veto = mgr.Evaluate(sig, execution.Position{}, 1e6, 100, now.Add(31*time.Minute))
	if veto != nil {
		t.Fatalf("expected order after cooldown, got veto %s", veto)
	}
	if order == nil {
		t.Fatalf("expected order after cooldown")
	}
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	mgr := NewManager("BTCUSDT", testLimits(), 15*time.Minute)
	now := time.Date(2026, 8, 1, 12, 7, 0, 0, time.UTC)

	a := mgr.idempotencyKey(now, exchange.Buy)
	b := mgr.idempotencyKey(now.Add(3*time.Minute), exchange.Buy) // same 15m bucket
	if a != b {
		t.Fatalf("keys in the same bucket must match: %s vs %s", a, b)
	}
	c := mgr.idempotencyKey(now.Add(20*time.Minute), exchange.Buy)
	if a == c {
		t.Fatalf("keys across buckets must differ")
	}
	d := mgr.idempotencyKey(now, exchange.Sell)
	if a == d {
		t.Fatalf("keys across actions must differ")
	}
}
