// Package execution handles order lifecycle: submission, retries, fill
// settlement, and the position bookkeeping that follows.
package execution

import (
	"math"
	"time"

	"sentibot-go/internal/exchange"
	"sentibot-go/internal/sentiment"
)

const epsilon = 1e-9

// OrderInstruction is the risk-approved order handed to the engine. Never
// mutated after creation.
type OrderInstruction struct {
	Pair           string
	Side           exchange.Side
	Qty            float64
	PriceBound     float64 // 0 means market
	StopLoss       float64
	TakeProfit     float64
	IdempotencyKey string
	Ts             time.Time
	Basis          sentiment.Aggregated
}

// TradeRecord is the append-only settlement record for one filled order. It
// carries the sentiment basis so every trade stays auditable back to the
// aggregation that triggered it.
type TradeRecord struct {
	OrderID     string               `bson:"order_id"`
	Pair        string               `bson:"pair"`
	Side        exchange.Side        `bson:"side"`
	FillPrice   float64              `bson:"fill_price"`
	FillQty     float64              `bson:"fill_qty"`
	Fees        float64              `bson:"fees"`
	PnLEstimate float64              `bson:"pnl_estimate"`
	Ts          time.Time            `bson:"timestamp"`
	Basis       sentiment.Aggregated `bson:"sentiment_basis"`
}

// Position is the single open position for a trading pair. Quantity stays
// non-negative; only the execution engine produces new Position values, and
// only after a confirmed fill.
type Position struct {
	Pair          string    `bson:"pair"`
	BaseCurrency  string    `bson:"base_currency"`
	QuoteCurrency string    `bson:"quote_currency"`
	Qty           float64   `bson:"quantity"`
	AvgEntryPrice float64   `bson:"average_entry_price"`
	OpenedAt      time.Time `bson:"open_timestamp"`
}

// ApplyFill folds a settled trade into a position. Pure function: it never
// mutates its inputs, so the caller can apply it only once settlement is
// confirmed and discard it otherwise.
func ApplyFill(pos Position, trade TradeRecord) Position {
	next := pos
	next.Pair = trade.Pair
	switch trade.Side {
	case exchange.Buy:
		newQty := pos.Qty + trade.FillQty
		if newQty > 0 {
			next.AvgEntryPrice = (pos.AvgEntryPrice*pos.Qty + trade.FillPrice*trade.FillQty) / newQty
		}
		next.Qty = newQty
		if pos.Qty <= epsilon {
			next.OpenedAt = trade.Ts
		}
	case exchange.Sell:
		newQty := pos.Qty - trade.FillQty
		if newQty <= epsilon {
			newQty = 0
			next.AvgEntryPrice = 0
			next.OpenedAt = time.Time{}
		}
		next.Qty = newQty
	}
	return next
}

// pnlEstimate values a fill against the average entry. Buys only book fees;
// sells realize the spread to entry net of fees.
func pnlEstimate(pos Position, side exchange.Side, fillPrice, fillQty, fees float64) float64 {
	if side == exchange.Sell && pos.AvgEntryPrice > 0 {
		return (fillPrice-pos.AvgEntryPrice)*math.Min(fillQty, pos.Qty) - fees
	}
	return -fees
}
