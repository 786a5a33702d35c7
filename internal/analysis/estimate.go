package analysis

import (
	"math"
	"strings"
)

// The estimators below are heuristics with no fit against outcomes. They
// live behind named functions so a trained model can replace them without
// touching the scoring core.

// GhostProbability is max(MinProbability, 100-score) for a ghost-risk
// relationship
func GhostProbability(score int, cfg GhostConfig) int {
	p := 100 - score
	if p < cfg.MinProbability {
		p = cfg.MinProbability
	}
	if p > 100 {
		p = 100
	}
	return p
}

// PredictDaysUntilGhost scales the days left in the ghost window by
// (1 - probability/100). A relationship with no recorded response has no days
// left. The result is never below one day.
func PredictDaysUntilGhost(probability int, daysSinceLastResponse *int, cfg GhostConfig) int {
	remaining := 0
	if daysSinceLastResponse != nil {
		remaining = cfg.WindowDays - *daysSinceLastResponse
		if remaining < 0 {
			remaining = 0
		}
	}
	days := int(math.Round(float64(remaining) * (1 - float64(probability)/100)))
	if days < 1 {
		days = 1
	}
	return days
}

// PredictDaysToClose returns the days until the expected close date when it
// lies ahead. Otherwise it sums the optimal durations left in the current
// stage and every later stage, stretched by how unhealthy the deal is.
// Returns nil for a stage outside the configured pipeline order.
func PredictDaysToClose(stage string, daysInStage, daysUntilClose *int, score int, cfg *ScoringConfig) *int {
	if daysUntilClose != nil && *daysUntilClose > 0 {
		return intPtr(*daysUntilClose)
	}

	key := strings.ToLower(strings.TrimSpace(stage))
	idx := -1
	for i, s := range cfg.StageOrder {
		if strings.EqualFold(s, key) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	remaining := cfg.ThresholdsFor(key).Optimal
	if daysInStage != nil {
		remaining -= *daysInStage
		if remaining < 0 {
			remaining = 0
		}
	}
	for _, later := range cfg.StageOrder[idx+1:] {
		remaining += cfg.ThresholdsFor(later).Optimal
	}

	stretch := 1 + float64(100-score)/100
	days := int(math.Round(float64(remaining) * stretch))
	if days < 1 {
		days = 1
	}
	return intPtr(days)
}
