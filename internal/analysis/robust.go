package analysis

import "math"

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// clampScore rounds half away from zero and bounds the result to 0..100
func clampScore(x float64) int {
	return int(math.Round(clip(x, 0, 100)))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range xs {
		s += v
	}
	return s / float64(len(xs))
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
