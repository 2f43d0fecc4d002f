package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sentibot-go/internal/metrics"
)

const (
	// FeedStub emits deterministic synthetic prices (useful for tests/offline work).
	FeedStub = "stub"
	// FeedBinance streams live trades from Binance public websockets.
	FeedBinance = "binance"
)

// PriceFeed maintains last-trade marks for a symbol set, either from the
// Binance trade stream or a synthetic stub. The engine reads marks for entry
// pricing and equity reporting; the venue Price call is the fallback when no
// mark has arrived yet.
type PriceFeed struct {
	provider string
	symbols  []string
	log      zerolog.Logger

	mu    sync.RWMutex
	marks map[string]float64
}

// NewPriceFeed constructs a feed backed by the requested provider.
func NewPriceFeed(provider string, symbols []string, log zerolog.Logger) *PriceFeed {
	if provider == "" {
		provider = FeedStub
	}
	return &PriceFeed{
		provider: strings.ToLower(provider),
		symbols:  append([]string(nil), symbols...),
		log:      log,
		marks:    make(map[string]float64),
	}
}

// Mark returns the last observed price for symbol.
func (f *PriceFeed) Mark(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	px, ok := f.marks[symbol]
	return px, ok
}

// Marks returns a copy of all current marks.
func (f *PriceFeed) Marks() map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]float64, len(f.marks))
	for sym, px := range f.marks {
		out[sym] = px
	}
	return out
}

func (f *PriceFeed) setMark(symbol string, price float64) {
	f.mu.Lock()
	f.marks[symbol] = price
	f.mu.Unlock()
	metrics.TicksTotal.WithLabelValues(symbol).Inc()
}

// Run updates marks until the context is canceled.
func (f *PriceFeed) Run(ctx context.Context) error {
	switch f.provider {
	case FeedBinance:
		return f.runBinance(ctx)
	default:
		return f.runStub(ctx)
	}
}

func (f *PriceFeed) runStub(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	px := 100.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			px += 0.1
			for _, sym := range f.symbols {
				f.setMark(sym, px)
			}
		}
	}
}

type tradeEnvelope struct {
	Stream string      `json:"stream"`
	Data   streamTrade `json:"data"`
}

type streamTrade struct {
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

func (f *PriceFeed) runBinance(ctx context.Context) error {
	if len(f.symbols) == 0 {
		return fmt.Errorf("binance price feed requires at least one symbol")
	}

	streams := make([]string, len(f.symbols))
	for i, sym := range f.symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	url := fmt.Sprintf("wss://stream.binance.com:9443/stream?streams=%s", strings.Join(streams, "/"))

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeStream(ctx, url); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Msg("price feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *PriceFeed) consumeStream(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Strs("symbols", f.symbols).Msg("connected price feed")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("price feed ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env tradeEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			f.log.Warn().Err(err).Msg("failed to decode trade message")
			continue
		}
		px, err := strconv.ParseFloat(env.Data.Price, 64)
		if err != nil {
			f.log.Warn().Err(err).Msg("invalid price on trade stream")
			continue
		}
		f.setMark(parseStreamSymbol(env.Stream), px)
	}
}

func parseStreamSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
