// Package sentiment turns raw per-article sentiment scores into one
// aggregated market-mood value per evaluation cycle.
package sentiment

import "time"

// Source identifies where a sentiment record was collected from.
type Source string

const (
	SourceNews    Source = "NEWS"
	SourceTwitter Source = "TWITTER"
	SourceReddit  Source = "REDDIT"
)

// Record is a single scored article or post. Immutable once created;
// produced by external collectors and consumed only by the Aggregator.
type Record struct {
	Source     Source    `json:"source" bson:"source"`
	Ts         time.Time `json:"timestamp" bson:"timestamp"`
	Score      float64   `json:"score" bson:"score"`           // [-1,1]
	Confidence float64   `json:"confidence" bson:"confidence"` // [0,1]
	TextRef    string    `json:"text_ref" bson:"text_ref"`
}

// Aggregated is the per-cycle collapse of a record batch. One instance per
// evaluation cycle; superseded by the next cycle, never mutated.
type Aggregated struct {
	Ts          time.Time `json:"timestamp" bson:"timestamp"`
	Mean        float64   `json:"mean_score" bson:"mean_score"`
	Dispersion  float64   `json:"dispersion" bson:"dispersion"`
	SampleCount int       `json:"sample_count" bson:"sample_count"`
	TrendSlope  float64   `json:"trend_slope" bson:"trend_slope"`
	Clamped     int       `json:"clamped" bson:"clamped"` // out-of-range scores clamped (reportable anomaly)
}
