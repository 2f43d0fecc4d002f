package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sentibot-go/internal/exchange"
	"sentibot-go/internal/metrics"
)

// Store is the slice of persistence the engine needs at settlement time.
type Store interface {
	AppendTrade(ctx context.Context, trade TradeRecord) error
	SavePosition(ctx context.Context, pos Position) error
}

// Config bundles the engine's retry and fill-acceptance knobs.
type Config struct {
	MaxRetries      int
	RetryDelay      time.Duration
	MinFillFraction float64
	PollInterval    time.Duration
	PollTimeout     time.Duration
}

// settledLimit bounds the local idempotency cache. Evicted keys are many
// buckets stale; the venue still rejects them by client order ID.
const settledLimit = 1024

// Engine drives one order from instruction to settlement: submit with
// bounded retries, poll to a terminal state, then atomically persist the
// trade and the new position.
type Engine struct {
	venue exchange.Exchange
	store Store
	cfg   Config
	log   zerolog.Logger

	mu           sync.Mutex
	settled      map[string]string // idempotency key -> order ID
	settledOrder []string          // insertion order, for eviction
}

// NewEngine wires the execution engine to a venue and a store.
func NewEngine(venue exchange.Exchange, store Store, cfg Config, log zerolog.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	return &Engine{
		venue:   venue,
		store:   store,
		cfg:     cfg,
		log:     log,
		settled: make(map[string]string),
	}
}

// Execute runs the order state machine and returns the settled trade plus
// the position that results from applying it. On failure the input position
// is returned unchanged and no TradeRecord exists anywhere.
func (e *Engine) Execute(ctx context.Context, order OrderInstruction, pos Position) (TradeRecord, Position, error) {
	if order.Qty <= 0 {
		return TradeRecord{}, pos, newFailure(FailRejected, order.Pair, fmt.Errorf("quantity must be positive, got %.8f", order.Qty))
	}

	e.mu.Lock()
	if orderID, dup := e.settled[order.IdempotencyKey]; dup {
		e.mu.Unlock()
		return TradeRecord{}, pos, newFailure(FailDuplicate, order.Pair, fmt.Errorf("idempotency key %s already settled order %s", order.IdempotencyKey, orderID))
	}
	e.mu.Unlock()

	handle, err := e.submit(ctx, order)
	if err != nil {
		return TradeRecord{}, pos, err
	}
	metrics.OrdersTotal.WithLabelValues(order.Pair, string(order.Side)).Inc()

	status, err := e.poll(ctx, order, handle)
	if err != nil {
		return TradeRecord{}, pos, err
	}

	return e.settle(ctx, order, pos, handle, status)
}

// submit attempts the order up to MaxRetries times, backing off
// exponentially on transient venue failures. The idempotency key rides every
// attempt so a retry after an ambiguous timeout cannot double-execute.
func (e *Engine) submit(ctx context.Context, order OrderInstruction) (exchange.OrderHandle, error) {
	req := exchange.OrderRequest{
		Symbol:        order.Pair,
		Side:          order.Side,
		Qty:           order.Qty,
		PriceBound:    order.PriceBound,
		ClientOrderID: order.IdempotencyKey,
	}

	attempts := e.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		handle, err := e.venue.SubmitOrder(ctx, req)
		if err == nil {
			return handle, nil
		}
		switch {
		case exchange.IsDuplicate(err):
			return exchange.OrderHandle{}, newFailure(FailDuplicate, order.Pair, err)
		case exchange.IsRejected(err):
			return exchange.OrderHandle{}, newFailure(FailRejected, order.Pair, err)
		}
		lastErr = err
		e.log.Warn().Err(err).Str("pair", order.Pair).Int("attempt", attempt).Msg("transient submit failure")
		if attempt == attempts {
			break
		}
		metrics.RetriesTotal.WithLabelValues(order.Pair).Inc()
		if err := e.backoff(ctx, attempt); err != nil {
			// Deadline hit mid-retry: suppress further attempts.
			return exchange.OrderHandle{}, newFailure(FailTransient, order.Pair, fmt.Errorf("retries suppressed: %w", err))
		}
	}
	return exchange.OrderHandle{}, newFailure(FailTransient, order.Pair, lastErr)
}

func (e *Engine) backoff(ctx context.Context, attempt int) error {
	delay := e.cfg.RetryDelay << (attempt - 1)
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll watches the order until it reaches a terminal state or the poll
// budget runs out. A lingering partial fill is decided by MinFillFraction.
func (e *Engine) poll(ctx context.Context, order OrderInstruction, handle exchange.OrderHandle) (exchange.OrderStatus, error) {
	deadline := time.Now().Add(e.cfg.PollTimeout)
	var last exchange.OrderStatus
	for {
		status, err := e.venue.PollOrder(ctx, handle)
		switch {
		case err == nil:
			last = status
			switch status.State {
			case exchange.StateFilled:
				return status, nil
			case exchange.StateRejected:
				return status, newFailure(FailRejected, order.Pair, fmt.Errorf("order %s rejected by venue", handle.ID))
			}
		case exchange.IsRejected(err):
			return last, newFailure(FailRejected, order.Pair, err)
		default:
			e.log.Warn().Err(err).Str("order_id", handle.ID).Msg("transient poll failure")
		}

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-time.After(e.cfg.PollInterval):
		case <-ctx.Done():
			return last, newFailure(FailTransient, order.Pair, fmt.Errorf("poll abandoned: %w", ctx.Err()))
		}
	}

	if last.State == exchange.StatePartiallyFilled {
		fraction := last.FilledQty / order.Qty
		if fraction >= e.cfg.MinFillFraction {
			return last, nil
		}
		return last, newFailure(FailPartial, order.Pair,
			fmt.Errorf("order %s filled %.2f%% of %.8f, below acceptance threshold", handle.ID, fraction*100, order.Qty))
	}
	return last, newFailure(FailTransient, order.Pair, fmt.Errorf("order %s not terminal after %s", handle.ID, e.cfg.PollTimeout))
}

// settle builds the TradeRecord, derives the new position, and persists
// both. The position has already changed at the venue by now, so any store
// failure is a reconciliation error: surfaced, never silently dropped.
func (e *Engine) settle(ctx context.Context, order OrderInstruction, pos Position, handle exchange.OrderHandle, status exchange.OrderStatus) (TradeRecord, Position, error) {
	trade := TradeRecord{
		OrderID:     handle.ID,
		Pair:        order.Pair,
		Side:        order.Side,
		FillPrice:   status.AvgFillPrice,
		FillQty:     status.FilledQty,
		Fees:        status.Fees,
		PnLEstimate: pnlEstimate(pos, order.Side, status.AvgFillPrice, status.FilledQty, status.Fees),
		Ts:          time.Now(),
		Basis:       order.Basis,
	}
	newPos := ApplyFill(pos, trade)

	if err := e.store.AppendTrade(ctx, trade); err != nil {
		e.log.Error().Err(err).Str("order_id", handle.ID).Msg("trade record write failed after fill")
		return TradeRecord{}, pos, newFailure(FailReconciliation, order.Pair, fmt.Errorf("append trade: %w", err))
	}
	if err := e.store.SavePosition(ctx, newPos); err != nil {
		e.log.Error().Err(err).Str("order_id", handle.ID).Msg("position write failed after fill")
		return TradeRecord{}, pos, newFailure(FailReconciliation, order.Pair, fmt.Errorf("save position: %w", err))
	}

	e.mu.Lock()
	e.settled[order.IdempotencyKey] = handle.ID
	e.settledOrder = append(e.settledOrder, order.IdempotencyKey)
	if len(e.settledOrder) > settledLimit {
		delete(e.settled, e.settledOrder[0])
		e.settledOrder = e.settledOrder[1:]
	}
	e.mu.Unlock()

	e.log.Info().
		Str("pair", order.Pair).
		Str("side", string(order.Side)).
		Str("order_id", handle.ID).
		Float64("qty", trade.FillQty).
		Float64("px", trade.FillPrice).
		Float64("pnl_est", trade.PnLEstimate).
		Msg("order settled")
	return trade, newPos, nil
}
