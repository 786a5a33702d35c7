package analysis

import (
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// Analyzer runs the scoring pipeline: signal scorers, aggregation,
// classification, risk detection and the heuristic estimators
type Analyzer struct {
	config *ScoringConfig
}

// NewAnalyzer creates an analyzer over the given tables. A nil config uses
// the defaults.
func NewAnalyzer(cfg *ScoringConfig) *Analyzer {
	if cfg == nil {
		cfg = DefaultScoringConfig()
	}
	return &Analyzer{config: cfg}
}

// Config returns the tables in use
func (a *Analyzer) Config() *ScoringConfig {
	return a.config
}

// ScoreDeal scores a deal. Overall is nil when no signal could be computed.
func (a *Analyzer) ScoreDeal(m *types.DealMetrics, baseline *types.Baseline) *ScoreResult {
	cfg := a.config
	sentiment := SentimentScore(m.Sentiment, cfg.Sentiment)

	result := &ScoreResult{
		Signals: map[types.Signal]*int{
			types.SignalStage:        StageVelocityScore(m.DaysInStage, cfg.ThresholdsFor(m.Stage)),
			types.SignalSentiment:    &sentiment,
			types.SignalEngagement:   EngagementScore(m, cfg),
			types.SignalActivity:     ActivityScore(m, cfg),
			types.SignalResponseTime: ResponseTimeScore(m.AvgResponseHours, baseline, cfg.Response),
		},
	}
	result.Overall = Aggregate(result.Signals, cfg.DealWeights)
	if result.Overall == nil {
		return result
	}

	score := *result.Overall
	result.RiskFactors = DetectDealRisks(m, baseline, cfg)
	result.Status = ClassifyDeal(score, cfg.DealStatus)
	result.RiskLevel = ClassifyRisk(score, len(result.RiskFactors), false, cfg.DealRisk)
	result.PredictedDaysToClose = PredictDaysToClose(m.Stage, m.DaysInStage, m.DaysUntilClose, score, cfg)
	return result
}

// ScoreRelationship scores a contact or company relationship
func (a *Analyzer) ScoreRelationship(m *types.RelationshipMetrics, baseline *types.Baseline) *ScoreResult {
	cfg := a.config
	sentiment := SentimentScore(m.Sentiment, cfg.Sentiment)

	result := &ScoreResult{
		Signals: map[types.Signal]*int{
			types.SignalResponseBehavior:       ResponseBehaviorScore(m.ResponseRatePercent, m.AvgResponseHours, baseline, cfg.Response),
			types.SignalCommunicationFrequency: CommunicationFrequencyScore(m, baseline, cfg.CommunicationFrequency),
			types.SignalEngagementQuality:      EngagementQualityScore(m, cfg.EngagementQuality),
			types.SignalSentiment:              &sentiment,
			types.SignalMeetingPattern:         MeetingPatternScore(m, baseline, cfg.MeetingPattern),
		},
	}
	result.Overall = Aggregate(result.Signals, cfg.RelationshipWeights)
	if result.Overall == nil {
		return result
	}

	score := *result.Overall
	result.RiskFactors = DetectRelationshipRisks(m, baseline, cfg)
	result.IsGhostRisk = IsGhostRisk(result.RiskFactors)
	if result.IsGhostRisk {
		p := GhostProbability(score, cfg.Ghost)
		days := PredictDaysUntilGhost(p, m.DaysSinceLastResponse, cfg.Ghost)
		result.GhostProbabilityPercent = &p
		result.DaysUntilPredictedGhost = &days
	}
	result.Status = ClassifyRelationship(score, result.IsGhostRisk, cfg.RelationshipStatus)
	result.RiskLevel = ClassifyRisk(score, len(result.RiskFactors), result.IsGhostRisk, cfg.RelationshipRisk)
	return result
}
