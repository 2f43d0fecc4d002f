package signal

import (
	"math"

	"sentibot-go/internal/sentiment"
)

// Generator maps aggregated sentiment onto BUY/SELL/HOLD with hysteresis.
// Generate is a pure function of its inputs; the generator carries only
// immutable thresholds.
type Generator struct {
	minThreshold float64
	maxThreshold float64
	trendFactor  float64
	minSamples   int
}

// NewGenerator builds a generator. minThreshold/maxThreshold bound the SELL
// and BUY bands in [-1,1]; trendFactor scales how much the slope contributes
// to strength; minSamples below which HOLD is forced.
func NewGenerator(minThreshold, maxThreshold, trendFactor float64, minSamples int) *Generator {
	return &Generator{
		minThreshold: minThreshold,
		maxThreshold: maxThreshold,
		trendFactor:  trendFactor,
		minSamples:   minSamples,
	}
}

// Generate derives this cycle's signal from the aggregated sentiment and the
// previous cycle's signal.
//
// Entry requires conviction: BUY needs the mean strictly above the max
// threshold with a non-negative slope; SELL needs the mean at or below the
// min threshold with a non-positive slope. A standing BUY or SELL persists
// while the mean stays on its side of the entry threshold (inclusive), which
// stops the signal chattering when the mean hovers at a boundary.
func (g *Generator) Generate(agg sentiment.Aggregated, prev Signal) Signal {
	out := Signal{Ts: agg.Ts, Action: Hold, Basis: agg}

	if agg.SampleCount == 0 || agg.SampleCount < g.minSamples {
		return out
	}

	// Hold bands first: an open bias outlasts slope wobble.
	switch prev.Action {
	case Buy:
		if agg.Mean >= g.maxThreshold {
			out.Action = Buy
			out.Strength = g.buyStrength(agg)
			return out
		}
	case Sell:
		if agg.Mean <= g.minThreshold {
			out.Action = Sell
			out.Strength = g.sellStrength(agg)
			return out
		}
	}

	switch {
	case agg.Mean > g.maxThreshold && agg.TrendSlope >= 0:
		out.Action = Buy
		out.Strength = g.buyStrength(agg)
	case agg.Mean <= g.minThreshold && agg.TrendSlope <= 0:
		out.Action = Sell
		out.Strength = g.sellStrength(agg)
	}
	return out
}

func (g *Generator) buyStrength(agg sentiment.Aggregated) float64 {
	span := 1 - g.maxThreshold
	if span <= 0 {
		return 1
	}
	s := (agg.Mean-g.maxThreshold)/span + g.trendFactor*math.Max(0, agg.TrendSlope)
	return clamp01(s)
}

func (g *Generator) sellStrength(agg sentiment.Aggregated) float64 {
	span := g.minThreshold + 1
	if span <= 0 {
		return 1
	}
	s := (g.minThreshold-agg.Mean)/span + g.trendFactor*math.Max(0, -agg.TrendSlope)
	return clamp01(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
