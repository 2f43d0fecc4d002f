package sentiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sentibot-go/internal/metrics"
)

// ErrSourceUnavailable marks a collector failure that degrades the cycle
// instead of aborting it.
var ErrSourceUnavailable = errors.New("sentiment source unavailable")

// SourceAdapter supplies scored records newer than a watermark.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context, since time.Time) ([]Record, error)
}

// Collector fans fetches out across all configured sources in parallel and
// joins the results. Source failures are tolerated: the cycle proceeds with
// whatever records the healthy sources returned.
type Collector struct {
	sources []SourceAdapter
	timeout time.Duration
	log     zerolog.Logger
}

// NewCollector wires the source adapters behind a shared per-fetch timeout.
func NewCollector(log zerolog.Logger, timeout time.Duration, sources ...SourceAdapter) *Collector {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Collector{sources: sources, timeout: timeout, log: log}
}

// Collect returns every record fetched since the watermark plus the number of
// sources that failed. It never returns an error: a dead source only shrinks
// the sample.
func (c *Collector) Collect(ctx context.Context, since time.Time) ([]Record, int) {
	var (
		mu      sync.Mutex
		records []Record
		failed  int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range c.sources {
		local := src
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()
			got, err := local.Fetch(fetchCtx, since)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				c.log.Warn().Err(err).Str("source", local.Name()).Msg("sentiment fetch failed")
				return nil
			}
			records = append(records, got...)
			metrics.RecordsTotal.WithLabelValues(local.Name()).Add(float64(len(got)))
			return nil
		})
	}
	_ = g.Wait()
	return records, failed
}

// StubSource emits deterministic synthetic records around a fixed bias,
// useful for paper trading and offline work. Safe for concurrent use: one
// stub instance is typically shared by every pair's collector.
type StubSource struct {
	source Source
	bias   float64
	calls  atomic.Int64
}

// NewStubSource builds a stub emitting scores near bias for the given source.
func NewStubSource(source Source, bias float64) *StubSource {
	return &StubSource{source: source, bias: bias}
}

// Name implements SourceAdapter.
func (s *StubSource) Name() string { return string(s.source) }

// Fetch emits three records per call with slight deterministic jitter.
func (s *StubSource) Fetch(_ context.Context, since time.Time) ([]Record, error) {
	call := s.calls.Add(1)
	base := since.Add(time.Second)
	out := make([]Record, 0, 3)
	for i := 0; i < 3; i++ {
		jitter := 0.02 * float64(i-1)
		out = append(out, Record{
			Source:     s.source,
			Ts:         base.Add(time.Duration(i) * time.Second),
			Score:      s.bias + jitter,
			Confidence: 0.8,
			TextRef:    fmt.Sprintf("%s-stub-%d-%d", s.source, call, i),
		})
	}
	return out, nil
}
