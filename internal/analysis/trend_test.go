package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float64
		expected types.Trend
		delta    *float64
	}{
		{name: "no samples", samples: nil, expected: types.TrendUnknown},
		{name: "single sample", samples: []float64{0.5}, expected: types.TrendUnknown},
		{name: "two samples rising", samples: []float64{0.6, 0.2}, expected: types.TrendImproving, delta: fp(0.4)},
		{name: "three samples falling", samples: []float64{-0.2, 0.3, 0.4}, expected: types.TrendDeclining, delta: fp(-0.55)},
		{name: "within threshold", samples: []float64{0.35, 0.3, 0.3}, expected: types.TrendStable, delta: fp(0.05)},
		{name: "only the two after the latest count", samples: []float64{0.5, 0.5, 0.5, -1, -1}, expected: types.TrendStable, delta: fp(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend, delta := ClassifyTrend(tt.samples, 0.1)
			assert.Equal(t, tt.expected, trend)
			if tt.delta == nil {
				assert.Nil(t, delta)
				return
			}
			require.NotNil(t, delta)
			assert.InDelta(t, *tt.delta, *delta, 1e-9)
		})
	}
}

func TestSummarizeSentiment(t *testing.T) {
	empty := SummarizeSentiment(nil, 0.1)
	assert.Nil(t, empty.Average)
	assert.Equal(t, types.TrendUnknown, empty.Trend)

	summary := SummarizeSentiment([]float64{0.9, 0.1, 0.2}, 0.1)
	require.NotNil(t, summary.Average)
	assert.InDelta(t, 0.4, *summary.Average, 1e-9)
	assert.Equal(t, types.TrendImproving, summary.Trend)
	assert.Len(t, summary.Samples, 3)
}
