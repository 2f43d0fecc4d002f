// Package alert pushes fire-and-forget notifications about trading activity.
package alert

import "context"

// Severity orders notifications for the receiving channel.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Notifier delivers one message. Implementations must never block a trading
// cycle on delivery problems: callers log returned errors and move on.
type Notifier interface {
	Notify(ctx context.Context, message string, severity Severity) error
}

// Nop discards every notification.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string, Severity) error { return nil }
