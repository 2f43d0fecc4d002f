// Package signal standardizes the trading intent produced from aggregated sentiment.
package signal

import (
	"time"

	"sentibot-go/internal/sentiment"
)

// Action is the directional trading intent before risk filtering.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// Signal expresses a trading bias derived from one aggregation cycle. It is
// ephemeral: each cycle supersedes the last, and Basis keeps the audit link
// back to the sentiment that produced it.
type Signal struct {
	Ts       time.Time
	Action   Action
	Strength float64 // [0,1]
	Basis    sentiment.Aggregated
}
