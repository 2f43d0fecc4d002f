package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPriceFeedStubMarksSymbols(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	feed := NewPriceFeed(FeedStub, []string{"BTCUSDT", "ETHUSDT"}, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := feed.Mark("BTCUSDT"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for stub mark")
		case <-time.After(50 * time.Millisecond):
		}
	}

	marks := feed.Marks()
	if len(marks) != 2 {
		t.Fatalf("expected marks for both symbols, got %+v", marks)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestParseStreamSymbol(t *testing.T) {
	if got := parseStreamSymbol("btcusdt@trade"); got != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT, got %s", got)
	}
	if got := parseStreamSymbol("ethusdt"); got != "ETHUSDT" {
		t.Fatalf("expected ETHUSDT, got %s", got)
	}
}

func TestErrorClassification(t *testing.T) {
	transient := NewError(KindTransient, "submit", errors.New("timeout"))
	if !IsTransient(transient) || IsRejected(transient) || IsDuplicate(transient) {
		t.Fatalf("transient error misclassified")
	}

	rejected := NewError(KindRejected, "submit", errors.New("insufficient funds"))
	if !IsRejected(rejected) || IsTransient(rejected) {
		t.Fatalf("rejected error misclassified")
	}

	// Unclassified transport errors default to transient.
	if !IsTransient(errors.New("connection reset")) {
		t.Fatalf("bare error should be treated as transient")
	}
}
