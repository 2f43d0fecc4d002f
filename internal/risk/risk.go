// Package risk turns trading signals into concrete order instructions, or
// vetoes them.
package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"sentibot-go/internal/exchange"
	"sentibot-go/internal/execution"
	"sentibot-go/internal/signal"
)

// Veto reasons. Vetoes are policy outcomes, not errors.
const (
	ReasonHoldSignal          = "HOLD_SIGNAL"
	ReasonCooldown            = "COOLDOWN"
	ReasonMaxPosition         = "MAX_POSITION"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonNothingToSell       = "NOTHING_TO_SELL"
	ReasonZeroQuantity        = "ZERO_QUANTITY"
)

// Veto explains why a signal produced no order.
type Veto struct {
	Reason string
	Detail string
}

func (v *Veto) String() string {
	if v.Detail == "" {
		return v.Reason
	}
	return fmt.Sprintf("%s (%s)", v.Reason, v.Detail)
}

// Limits bundles the guard-rails applied to every signal.
type Limits struct {
	MaxPositionSize float64
	MinLotSize      float64
	StopLossPct     float64
	TakeProfitPct   float64
	Cooldown        time.Duration
}

// Manager sizes orders and enforces limits for a single trading pair.
type Manager struct {
	pair      string
	limits    Limits
	keyBucket time.Duration

	mu        sync.Mutex
	lastTrade time.Time
}

// NewManager builds a risk manager for one pair. keyBucket is the timestamp
// granularity baked into idempotency keys, normally the refresh interval.
func NewManager(pair string, limits Limits, keyBucket time.Duration) *Manager {
	if keyBucket <= 0 {
		keyBucket = time.Minute
	}
	return &Manager{pair: pair, limits: limits, keyBucket: keyBucket}
}

// Evaluate turns a signal into an order instruction or a veto. price is the
// current mark used for sizing and stop placement; balance is free quote
// currency. Exactly one of the return values is non-nil.
func (m *Manager) Evaluate(sig signal.Signal, pos execution.Position, balance, price float64, now time.Time) (*execution.OrderInstruction, *Veto) {
	if sig.Action == signal.Hold {
		return nil, &Veto{Reason: ReasonHoldSignal}
	}

	m.mu.Lock()
	last := m.lastTrade
	m.mu.Unlock()
	if m.limits.Cooldown > 0 && !last.IsZero() && now.Sub(last) < m.limits.Cooldown {
		return nil, &Veto{
			Reason: ReasonCooldown,
			Detail: fmt.Sprintf("last trade %s ago, cooldown %s", now.Sub(last).Round(time.Second), m.limits.Cooldown),
		}
	}

	switch sig.Action {
	case signal.Buy:
		return m.evaluateBuy(sig, pos, balance, price, now)
	case signal.Sell:
		return m.evaluateSell(sig, pos, price, now)
	}
	return nil, &Veto{Reason: ReasonHoldSignal}
}

func (m *Manager) evaluateBuy(sig signal.Signal, pos execution.Position, balance, price float64, now time.Time) (*execution.OrderInstruction, *Veto) {
	qty := sig.Strength * m.limits.MaxPositionSize
	if qty < m.limits.MinLotSize {
		qty = m.limits.MinLotSize
	}
	if qty <= 0 {
		return nil, &Veto{Reason: ReasonZeroQuantity}
	}
	if pos.Qty+qty > m.limits.MaxPositionSize {
		return nil, &Veto{
			Reason: ReasonMaxPosition,
			Detail: fmt.Sprintf("position %.8f + order %.8f exceeds cap %.8f", pos.Qty, qty, m.limits.MaxPositionSize),
		}
	}
	if qty*price > balance {
		return nil, &Veto{
			Reason: ReasonInsufficientBalance,
			Detail: fmt.Sprintf("need %.2f, have %.2f", qty*price, balance),
		}
	}
	return &execution.OrderInstruction{
		Pair:           m.pair,
		Side:           exchange.Buy,
		Qty:            qty,
		StopLoss:       price * (1 - m.limits.StopLossPct),
		TakeProfit:     price * (1 + m.limits.TakeProfitPct),
		IdempotencyKey: m.idempotencyKey(now, exchange.Buy),
		Ts:             now,
		Basis:          sig.Basis,
	}, nil
}

func (m *Manager) evaluateSell(sig signal.Signal, pos execution.Position, price float64, now time.Time) (*execution.OrderInstruction, *Veto) {
	if pos.Qty <= 0 {
		return nil, &Veto{Reason: ReasonNothingToSell}
	}
	qty := sig.Strength * m.limits.MaxPositionSize
	if qty > pos.Qty {
		qty = pos.Qty
	}
	// A sub-lot remainder is unsellable later; close the whole position
	// rather than stranding dust.
	if qty < m.limits.MinLotSize {
		if pos.Qty <= m.limits.MinLotSize {
			qty = pos.Qty
		} else {
			qty = m.limits.MinLotSize
		}
	}
	if qty <= 0 {
		return nil, &Veto{Reason: ReasonZeroQuantity}
	}
	// Stops inverted against the existing long being unwound.
	return &execution.OrderInstruction{
		Pair:           m.pair,
		Side:           exchange.Sell,
		Qty:            qty,
		StopLoss:       price * (1 + m.limits.StopLossPct),
		TakeProfit:     price * (1 - m.limits.TakeProfitPct),
		IdempotencyKey: m.idempotencyKey(now, exchange.Sell),
		Ts:             now,
		Basis:          sig.Basis,
	}, nil
}

// RecordExecution arms the cool-down. Call it only after an order actually
// settled.
func (m *Manager) RecordExecution(now time.Time) {
	m.mu.Lock()
	m.lastTrade = now
	m.mu.Unlock()
}

// idempotencyKey hashes (timestamp bucket, pair, action) so a retried cycle
// in the same bucket produces the same key and the venue can reject the
// duplicate.
func (m *Manager) idempotencyKey(now time.Time, side exchange.Side) string {
	bucket := now.Truncate(m.keyBucket).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", bucket, m.pair, side)))
	return hex.EncodeToString(sum[:16])
}
