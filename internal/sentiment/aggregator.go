package sentiment

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
)

const defaultTrendCycles = 5

// Aggregator collapses record batches into Aggregated values and tracks the
// mean-score series across cycles to derive a trend slope. One Aggregator per
// trading pair; not safe for concurrent use (cycles for a pair never overlap).
type Aggregator struct {
	window      time.Duration
	trendCycles int
	means       []float64
}

// NewAggregator builds an aggregator with the given lookback window and the
// number of cycle means retained for the trend regression.
func NewAggregator(window time.Duration, trendCycles int) *Aggregator {
	if trendCycles < 2 {
		trendCycles = defaultTrendCycles
	}
	return &Aggregator{window: window, trendCycles: trendCycles}
}

type dedupKey struct {
	source  Source
	textRef string
}

// Aggregate computes the confidence-weighted mean and dispersion of records
// falling inside the window ending at now. Records may arrive out of order
// and duplicated by (source, text ref); the most recent duplicate wins.
// With zero in-window records the result carries SampleCount 0 and zeroed
// statistics so the caller can force HOLD.
func (a *Aggregator) Aggregate(records []Record, now time.Time) Aggregated {
	cutoff := now.Add(-a.window)
	inWindow := lo.Filter(records, func(r Record, _ int) bool {
		return r.Ts.After(cutoff) && !r.Ts.After(now)
	})

	// Oldest-first so the map overwrite below keeps the freshest duplicate.
	sort.SliceStable(inWindow, func(i, j int) bool { return inWindow[i].Ts.Before(inWindow[j].Ts) })
	deduped := make(map[dedupKey]Record, len(inWindow))
	for _, r := range inWindow {
		deduped[dedupKey{r.Source, r.TextRef}] = r
	}

	if len(deduped) == 0 {
		return Aggregated{Ts: now}
	}

	var clamped int
	var sumW, sumWX float64
	samples := make([]Record, 0, len(deduped))
	for _, r := range deduped {
		score := r.Score
		if score > 1 {
			score = 1
			clamped++
		} else if score < -1 {
			score = -1
			clamped++
		}
		r.Score = score
		w := r.Confidence
		if w < 0 {
			w = 0
		} else if w > 1 {
			w = 1
		}
		r.Confidence = w
		samples = append(samples, r)
		sumW += w
		sumWX += w * score
	}
	if sumW == 0 {
		// All confidences zero: fall back to an unweighted mean rather than
		// discarding the batch.
		for i := range samples {
			samples[i].Confidence = 1
		}
		sumW = float64(len(samples))
		sumWX = lo.SumBy(samples, func(r Record) float64 { return r.Score })
	}

	mean := sumWX / sumW
	var sumWD float64
	for _, r := range samples {
		d := r.Score - mean
		sumWD += r.Confidence * d * d
	}
	dispersion := math.Sqrt(sumWD / sumW)

	a.means = append(a.means, mean)
	if len(a.means) > a.trendCycles {
		a.means = a.means[len(a.means)-a.trendCycles:]
	}

	return Aggregated{
		Ts:          now,
		Mean:        mean,
		Dispersion:  dispersion,
		SampleCount: len(samples),
		TrendSlope:  slope(a.means),
		Clamped:     clamped,
	}
}

// slope fits a least-squares line through the cycle means, x being the cycle
// index. Fewer than two points yield zero.
func slope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
