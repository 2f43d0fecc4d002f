package execution

import (
	"errors"
	"fmt"
)

// FailureKind is the engine-level failure taxonomy. Adapter errors are
// converted into one of these before leaving the engine; no raw transport
// error crosses into business logic.
type FailureKind string

const (
	// FailTransient: the venue kept timing out or rate limiting through the
	// whole retry budget.
	FailTransient FailureKind = "EXCHANGE_TRANSIENT"
	// FailRejected: the venue fatally rejected the order (bad parameters,
	// insufficient funds). The cycle aborts for this pair.
	FailRejected FailureKind = "EXCHANGE_FATAL"
	// FailDuplicate: this idempotency key already settled an order.
	FailDuplicate FailureKind = "DUPLICATE_SUBMISSION"
	// FailPartial: the order filled below the acceptable fraction and was
	// abandoned for manual intervention.
	FailPartial FailureKind = "PARTIAL_FILL"
	// FailReconciliation: the fill happened but position and audit trail
	// could not both be persisted. Trading on this pair must halt.
	FailReconciliation FailureKind = "RECONCILIATION_ERROR"
)

// Failure is the typed error returned by Engine.Execute.
type Failure struct {
	Kind FailureKind
	Pair string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s %s", f.Pair, f.Kind)
	}
	return fmt.Sprintf("%s %s: %v", f.Pair, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(kind FailureKind, pair string, err error) *Failure {
	return &Failure{Kind: kind, Pair: pair, Err: err}
}

// KindOf extracts the failure kind, or "" for foreign errors.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsReconciliation reports whether err must halt trading for the pair.
func IsReconciliation(err error) bool { return KindOf(err) == FailReconciliation }
