// Package engine runs the per-pair trading loop: collect sentiment,
// aggregate, generate a signal, apply risk, execute, persist.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sentibot-go/internal/alert"
	"sentibot-go/internal/exchange"
	"sentibot-go/internal/execution"
	"sentibot-go/internal/metrics"
	"sentibot-go/internal/risk"
	"sentibot-go/internal/sentiment"
	sig "sentibot-go/internal/signal"
	"sentibot-go/internal/store"
)

// Deps bundles the collaborators one Runner needs.
type Deps struct {
	Collector  *sentiment.Collector
	Aggregator *sentiment.Aggregator
	Generator  *sig.Generator
	Risk       *risk.Manager
	Exec       *execution.Engine
	Venue      exchange.Exchange
	Store      store.Store
	Feed       *exchange.PriceFeed // optional; venue Price is the fallback
	Notifier   alert.Notifier
	Log        zerolog.Logger
}

// Runner owns the cycle loop for a single trading pair. The pair's position
// is mutated only here, under the cycle lock, so at most one order per pair
// is ever in flight.
type Runner struct {
	pair          string
	quoteCurrency string
	interval      time.Duration
	deps          Deps

	mu         sync.Mutex
	halted     bool
	haltReason string
	prevSignal sig.Signal
	lastFetch  time.Time
	position   execution.Position
}

// NewRunner builds the runner and loads the pair's last persisted position.
func NewRunner(ctx context.Context, pair, quoteCurrency string, interval time.Duration, deps Deps) (*Runner, error) {
	r := &Runner{
		pair:          pair,
		quoteCurrency: quoteCurrency,
		interval:      interval,
		deps:          deps,
	}
	pos, err := deps.Store.LoadPosition(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("load position %s: %w", pair, err)
	}
	if pos != nil {
		r.position = *pos
	} else {
		r.position = execution.Position{Pair: pair}
	}
	return r, nil
}

// Run executes one cycle immediately and then one per interval until the
// context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	r.Cycle(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Cycle(ctx)
		}
	}
}

// Position returns a read-only snapshot of the pair's position.
func (r *Runner) Position() execution.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

// Halted reports whether a reconciliation error stopped this pair.
func (r *Runner) Halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

// Cycle runs one full evaluation under the pair lock. A cycle still running
// when the next tick fires makes the new tick a no-op rather than a
// concurrent evaluation.
func (r *Runner) Cycle(parent context.Context) {
	if !r.mu.TryLock() {
		r.deps.Log.Warn().Str("pair", r.pair).Msg("previous cycle still running, skipping tick")
		metrics.CyclesTotal.WithLabelValues(r.pair, "overlap_skipped").Inc()
		return
	}
	defer r.mu.Unlock()

	if r.halted {
		r.deps.Log.Error().Str("pair", r.pair).Str("reason", r.haltReason).Msg("pair halted, cycle skipped")
		metrics.CyclesTotal.WithLabelValues(r.pair, "halted").Inc()
		return
	}

	// Hard deadline: a stuck cycle must not bleed into the next two ticks.
	ctx, cancel := context.WithTimeout(parent, 2*r.interval)
	defer cancel()

	now := time.Now()
	since := r.lastFetch
	if since.IsZero() {
		since = now.Add(-r.interval)
	}

	records, failedSources := r.deps.Collector.Collect(ctx, since)
	r.lastFetch = now

	agg := r.deps.Aggregator.Aggregate(records, now)
	if agg.Clamped > 0 {
		metrics.ClampedTotal.WithLabelValues(r.pair).Add(float64(agg.Clamped))
		r.deps.Log.Warn().Str("pair", r.pair).Int("clamped", agg.Clamped).Msg("out-of-range sentiment scores clamped")
	}
	if err := r.deps.Store.AppendSnapshot(ctx, r.pair, agg); err != nil {
		// Snapshot loss degrades auditability but not safety; keep trading.
		r.deps.Log.Warn().Err(err).Str("pair", r.pair).Msg("sentiment snapshot write failed")
	}

	s := r.deps.Generator.Generate(agg, r.prevSignal)
	r.prevSignal = s

	outcome, detail := r.act(ctx, s, now)
	metrics.CyclesTotal.WithLabelValues(r.pair, outcome).Inc()

	summary := fmt.Sprintf("%s cycle: signal=%s strength=%.2f mean=%.3f slope=%.3f samples=%d sources_failed=%d outcome=%s",
		r.pair, s.Action, s.Strength, agg.Mean, agg.TrendSlope, agg.SampleCount, failedSources, outcome)
	if detail != "" {
		summary += " " + detail
	}

	severity := cycleSeverity(outcome)
	event := r.deps.Log.Info()
	switch severity {
	case alert.SeverityCritical:
		event = r.deps.Log.Error()
	case alert.SeverityWarning:
		event = r.deps.Log.Warn()
	}
	event.
		Str("pair", r.pair).
		Str("signal", string(s.Action)).
		Float64("strength", s.Strength).
		Float64("mean", agg.Mean).
		Int("samples", agg.SampleCount).
		Int("sources_failed", failedSources).
		Str("outcome", outcome).
		Msg("cycle complete")

	if err := r.deps.Notifier.Notify(ctx, summary, severity); err != nil {
		r.deps.Log.Warn().Err(err).Msg("alert delivery failed")
	}
}

// cycleSeverity grades a cycle outcome for logging and alert delivery.
// Anything that left an order unsettled, or that trips the duplicate guard,
// is at least a warning.
func cycleSeverity(outcome string) alert.Severity {
	switch outcome {
	case "reconciliation_error":
		return alert.SeverityCritical
	case "exchange_fatal", "duplicate_submission", "partial_fill", "exchange_transient", "no_price", "no_balance":
		return alert.SeverityWarning
	}
	return alert.SeverityInfo
}

// act evaluates risk and drives execution, returning the cycle outcome label
// and optional human detail for the summary line.
func (r *Runner) act(ctx context.Context, s sig.Signal, now time.Time) (string, string) {
	price, ok := r.markPrice(ctx)
	if !ok {
		return "no_price", ""
	}
	balance, err := r.deps.Venue.Balance(ctx, r.quoteCurrency)
	if err != nil {
		r.deps.Log.Warn().Err(err).Str("pair", r.pair).Msg("balance fetch failed")
		return "no_balance", ""
	}

	order, veto := r.deps.Risk.Evaluate(s, r.position, balance, price, now)
	if veto != nil {
		metrics.VetoesTotal.WithLabelValues(r.pair, veto.Reason).Inc()
		return "veto", "veto=" + veto.String()
	}

	trade, newPos, err := r.deps.Exec.Execute(ctx, *order, r.position)
	if err != nil {
		if execution.IsReconciliation(err) {
			r.halted = true
			r.haltReason = err.Error()
			return "reconciliation_error", err.Error()
		}
		switch execution.KindOf(err) {
		case execution.FailRejected:
			return "exchange_fatal", err.Error()
		case execution.FailDuplicate:
			return "duplicate_submission", err.Error()
		case execution.FailPartial:
			return "partial_fill", err.Error()
		default:
			return "exchange_transient", err.Error()
		}
	}

	r.position = newPos
	r.deps.Risk.RecordExecution(now)
	return "executed", fmt.Sprintf("filled %s %.8f @ %.2f pnl_est=%.2f", trade.Side, trade.FillQty, trade.FillPrice, trade.PnLEstimate)
}

func (r *Runner) markPrice(ctx context.Context) (float64, bool) {
	if r.deps.Feed != nil {
		if px, ok := r.deps.Feed.Mark(r.pair); ok {
			return px, true
		}
	}
	px, err := r.deps.Venue.Price(ctx, r.pair)
	if err != nil {
		r.deps.Log.Warn().Err(err).Str("pair", r.pair).Msg("price fetch failed")
		return 0, false
	}
	return px, true
}
