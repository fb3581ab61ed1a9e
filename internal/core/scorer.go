package core

import (
	"math"
)

// Blend ratio applied when the behavioral engine produced a non-zero
// deviation: the computed deviation dominates the model's own estimate of
// the same dimension.
const (
	behavioralBlend = 0.6
	modelBlend      = 0.4
)

// ScoreAggregator merges model dimension scores with behavioral signals and
// computes the weighted aggregate. Aggregation is deterministic: the same
// inputs always reproduce the same aggregate bit-for-bit.
type ScoreAggregator struct{}

// NewScoreAggregator creates a new aggregator.
func NewScoreAggregator() *ScoreAggregator {
	return &ScoreAggregator{}
}

// Merge clamps the model scores into [0,100] over the canonical dimension
// set and folds the behavioral deviation score into the
// sender_behavioral_deviation dimension.
func (a *ScoreAggregator) Merge(modelScores map[Dimension]float64, deviationScore float64) map[Dimension]float64 {
	merged := make(map[Dimension]float64, len(Dimensions))
	for _, d := range Dimensions {
		merged[d] = clampScore(modelScores[d])
	}

	if deviationScore > 0 {
		blended := deviationScore*behavioralBlend + merged[DimSenderBehavioralDeviation]*modelBlend
		merged[DimSenderBehavioralDeviation] = math.Min(100.0, blended)
	}

	return merged
}

// Aggregate computes the weighted aggregate score over the twelve
// dimensions, clamped to [0,100] and rounded to two decimals.
func (a *ScoreAggregator) Aggregate(scores map[Dimension]float64) float64 {
	var aggregate float64
	for _, d := range Dimensions {
		aggregate += scores[d] * DimensionWeights[d]
	}
	return round2(math.Min(100.0, math.Max(0.0, aggregate)))
}

// SeverityFor maps an aggregate score onto the four-tier severity scale.
// Boundaries are inclusive lower bounds: <35 low, 35-59 medium, 60-79
// high, >=80 critical.
func SeverityFor(score float64) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 35:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AlertThreshold is the minimum aggregate score that produces an alert.
const AlertThreshold = 35.0

func clampScore(v float64) float64 {
	return math.Max(0.0, math.Min(100.0, v))
}
