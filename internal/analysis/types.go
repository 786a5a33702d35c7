package analysis

import "github.com/ZanzyTHEbar/deal-health-engine/internal/types"

// ScoreResult is the output of one pass of the scoring core, before it is
// attached to an entity and persisted
type ScoreResult struct {
	Signals                 map[types.Signal]*int `json:"signals"`
	Overall                 *int                  `json:"overall"`
	Status                  types.HealthStatus    `json:"status"`
	RiskLevel               types.RiskLevel       `json:"risk_level"`
	RiskFactors             []string              `json:"risk_factors"`
	IsGhostRisk             bool                  `json:"is_ghost_risk"`
	GhostProbabilityPercent *int                  `json:"ghost_probability_percent,omitempty"`
	DaysUntilPredictedGhost *int                  `json:"days_until_predicted_ghost,omitempty"`
	PredictedDaysToClose    *int                  `json:"predicted_days_to_close,omitempty"`
}

// PresentSignals drops the missing signals
func (r *ScoreResult) PresentSignals() map[types.Signal]int {
	out := make(map[types.Signal]int, len(r.Signals))
	for name, s := range r.Signals {
		if s != nil {
			out[name] = *s
		}
	}
	return out
}
