package analysis

import "github.com/ZanzyTHEbar/deal-health-engine/internal/types"

// ClassifyTrend compares the most recent sample against the mean of the next
// two. Samples must be ordered newest first. With only two samples the plain
// difference is used; fewer than two yields TrendUnknown.
func ClassifyTrend(samples []float64, threshold float64) (types.Trend, *float64) {
	var delta float64
	switch {
	case len(samples) >= 3:
		delta = samples[0] - mean(samples[1:3])
	case len(samples) == 2:
		delta = samples[0] - samples[1]
	default:
		return types.TrendUnknown, nil
	}

	switch {
	case delta > threshold:
		return types.TrendImproving, &delta
	case delta < -threshold:
		return types.TrendDeclining, &delta
	default:
		return types.TrendStable, &delta
	}
}

// SummarizeSentiment builds the shared sentiment summary from merged samples
func SummarizeSentiment(samples []float64, threshold float64) types.SentimentSummary {
	summary := types.SentimentSummary{Samples: samples, Trend: types.TrendUnknown}
	if len(samples) == 0 {
		return summary
	}
	summary.Average = floatPtr(mean(samples))
	summary.Trend, summary.Delta = ClassifyTrend(samples, threshold)
	return summary
}
