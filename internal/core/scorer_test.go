package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDimensionWeights_SumToOne(t *testing.T) {
	var sum float64
	for _, d := range Dimensions {
		sum += DimensionWeights[d]
	}
	assert.InDelta(t, 1.0, sum, 0.0001)
	assert.Len(t, DimensionWeights, len(Dimensions))
}

func TestScoreAggregator_Merge(t *testing.T) {
	a := NewScoreAggregator()

	merged := a.Merge(map[Dimension]float64{
		DimArtificialUrgency:      150, // clamped to 100
		DimAuthorityImpersonation: -10, // clamped to 0
		DimFearThreatInduction:    42,
	}, 0)

	assert.Len(t, merged, len(Dimensions))
	assert.Equal(t, 100.0, merged[DimArtificialUrgency])
	assert.Equal(t, 0.0, merged[DimAuthorityImpersonation])
	assert.Equal(t, 42.0, merged[DimFearThreatInduction])
	assert.Equal(t, 0.0, merged[DimTimingAnomaly])
}

func TestScoreAggregator_MergeNilScores(t *testing.T) {
	a := NewScoreAggregator()

	merged := a.Merge(nil, 0)
	assert.Len(t, merged, len(Dimensions))
	for _, d := range Dimensions {
		assert.Equal(t, 0.0, merged[d])
	}
}

func TestScoreAggregator_DeviationBlend(t *testing.T) {
	a := NewScoreAggregator()

	// Computed deviation dominates the model's estimate 60/40
	merged := a.Merge(map[Dimension]float64{
		DimSenderBehavioralDeviation: 50,
	}, 80)
	assert.InDelta(t, 80*0.6+50*0.4, merged[DimSenderBehavioralDeviation], 0.001)

	// Zero deviation leaves the model's estimate untouched
	merged = a.Merge(map[Dimension]float64{
		DimSenderBehavioralDeviation: 50,
	}, 0)
	assert.Equal(t, 50.0, merged[DimSenderBehavioralDeviation])
}

func TestScoreAggregator_Aggregate(t *testing.T) {
	a := NewScoreAggregator()

	all70 := make(map[Dimension]float64, len(Dimensions))
	for _, d := range Dimensions {
		all70[d] = 70
	}
	// Weights sum to 1.0, so a uniform score aggregates to itself
	assert.InDelta(t, 70.0, a.Aggregate(all70), 0.001)

	single := map[Dimension]float64{DimAuthorityImpersonation: 100}
	assert.InDelta(t, 15.0, a.Aggregate(single), 0.001)

	assert.Zero(t, a.Aggregate(map[Dimension]float64{}))
}

func TestScoreAggregator_Deterministic(t *testing.T) {
	a := NewScoreAggregator()

	scores := map[Dimension]float64{
		DimArtificialUrgency:      63.7,
		DimFearThreatInduction:    21.4,
		DimUnusualActionRequested: 88.8,
	}
	first := a.Aggregate(a.Merge(scores, 41.2))
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, a.Aggregate(a.Merge(scores, 41.2)))
	}
}

func TestSeverityFor_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0, SeverityLow},
		{34.99, SeverityLow},
		{35, SeverityMedium},
		{59.99, SeverityMedium},
		{60, SeverityHigh},
		{79.99, SeverityHigh},
		{80, SeverityCritical},
		{100, SeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.score), "score %.2f", tt.score)
	}
}

func TestValidDimension(t *testing.T) {
	assert.True(t, ValidDimension("artificial_urgency"))
	assert.True(t, ValidDimension("timing_anomaly"))
	assert.False(t, ValidDimension("made_up_dimension"))
	assert.False(t, ValidDimension(""))
}
