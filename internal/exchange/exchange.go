// Package exchange hosts the venue abstraction the execution engine trades
// against, plus its concrete connectors.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Side enumerates order directions.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderState is the venue-reported lifecycle state of an order.
type OrderState string

const (
	StateNew             OrderState = "NEW"
	StateFilled          OrderState = "FILLED"
	StatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	StateRejected        OrderState = "REJECTED"
)

// OrderRequest is the thin wire-level order the venue accepts. ClientOrderID
// carries the idempotency key so the venue can reject duplicate submissions.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Qty           float64
	PriceBound    float64 // 0 means market
	ClientOrderID string
}

// OrderHandle identifies a submitted order for later polling.
type OrderHandle struct {
	ID          string
	Symbol      string
	SubmittedAt time.Time
}

// OrderStatus is a point-in-time view of a submitted order.
type OrderStatus struct {
	State        OrderState
	FilledQty    float64
	AvgFillPrice float64
	Fees         float64
}

// Exchange is the venue contract. Every method is a suspension point and
// honors context cancellation. Failures carry an Error so callers can tell
// transient conditions from fatal rejections.
type Exchange interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	PollOrder(ctx context.Context, handle OrderHandle) (OrderStatus, error)
	Balance(ctx context.Context, asset string) (float64, error)
	Price(ctx context.Context, symbol string) (float64, error)
}

// ErrorKind classifies venue failures for the execution state machine.
type ErrorKind string

const (
	// KindTransient covers timeouts and rate limits: safe to retry.
	KindTransient ErrorKind = "transient"
	// KindRejected covers fatal rejections: bad parameters, insufficient
	// funds. Never retried.
	KindRejected ErrorKind = "rejected"
	// KindDuplicate means the venue already saw this client order ID.
	KindDuplicate ErrorKind = "duplicate"
)

// Error wraps a venue failure with its classification.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exchange %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("exchange %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified venue error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func kindOf(err error) (ErrorKind, bool) {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return "", false
}

// IsTransient reports whether err is a retryable venue failure. Unclassified
// errors are treated as transient so a flaky transport never escalates to a
// fatal rejection by accident.
func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return !ok || k == KindTransient
}

// IsRejected reports whether err is a fatal venue rejection.
func IsRejected(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindRejected
}

// IsDuplicate reports whether err marks a duplicate client order ID.
func IsDuplicate(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindDuplicate
}
