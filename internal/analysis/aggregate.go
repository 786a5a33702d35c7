package analysis

import (
	"sort"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// Aggregate computes the weighted mean of the present signals, re-normalizing
// the weights over those signals. It returns nil when no weighted signal is
// present. Signals without a weight are ignored.
func Aggregate(signals map[types.Signal]*int, weights map[types.Signal]float64) *int {
	names := make([]types.Signal, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	// fixed order keeps float summation deterministic
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var weighted, total float64
	for _, name := range names {
		s, ok := signals[name]
		if !ok || s == nil {
			continue
		}
		w := weights[name]
		weighted += w * float64(*s)
		total += w
	}
	if total <= 0 {
		return nil
	}
	return intPtr(clampScore(weighted / total))
}

// ClassifyDeal maps a deal score onto healthy/warning/critical/stalled
func ClassifyDeal(score int, bands StatusBands) types.HealthStatus {
	switch {
	case score >= bands.Healthy:
		return types.StatusHealthy
	case score >= bands.Warning:
		return types.StatusWarning
	case score >= bands.Critical:
		return types.StatusCritical
	default:
		return types.StatusStalled
	}
}

// ClassifyRelationship maps a relationship score onto a status. The ghost
// flag overrides the score bands.
func ClassifyRelationship(score int, ghost bool, bands StatusBands) types.HealthStatus {
	switch {
	case ghost:
		return types.StatusGhost
	case score >= bands.Healthy:
		return types.StatusHealthy
	case score >= bands.Warning:
		return types.StatusAtRisk
	default:
		return types.StatusCritical
	}
}

// ClassifyRisk escalates on either a low score or many risk factors.
// forceCritical short-circuits to critical (ghost relationships).
func ClassifyRisk(score, factors int, forceCritical bool, bands RiskBands) types.RiskLevel {
	switch {
	case forceCritical, score < bands.CriticalBelow, factors >= bands.CriticalFactors:
		return types.RiskCritical
	case score < bands.HighBelow, factors >= bands.HighFactors:
		return types.RiskHigh
	case score < bands.MediumBelow, factors >= bands.MediumFactors:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}
