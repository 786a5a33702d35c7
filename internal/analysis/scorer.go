package analysis

import (
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// Signal scorers are pure: same metrics and config always give the same
// score. A nil return means the input was missing, not that it scored zero.

// StageVelocityScore decays from 100 at the optimal day bound to 60 at the
// warning bound and 20 at the critical bound, then by one point per five
// days beyond critical.
func StageVelocityScore(daysInStage *int, t StageThresholds) *int {
	if daysInStage == nil {
		return nil
	}
	d := float64(*daysInStage)
	opt, warn, crit := float64(t.Optimal), float64(t.Warning), float64(t.Critical)

	var score float64
	switch {
	case d <= opt:
		score = 100
	case d <= warn:
		score = 100 - 40*fraction(d-opt, warn-opt)
	case d <= crit:
		score = 60 - 40*fraction(d-warn, crit-warn)
	default:
		score = 20 - (d-crit)/5
	}
	return intPtr(clampScore(score))
}

func fraction(n, d float64) float64 {
	if d <= 0 {
		return 1
	}
	return n / d
}

// SentimentScore maps an average in [-1,1] onto [0,100] and adjusts it for the
// trend. No sentiment data scores a neutral 50.
func SentimentScore(s types.SentimentSummary, cfg SentimentConfig) int {
	if s.Average == nil {
		return 50
	}
	score := (clip(*s.Average, -1, 1) + 1) / 2 * 100
	switch s.Trend {
	case types.TrendImproving:
		score += float64(cfg.ImprovingBonus)
	case types.TrendDeclining:
		score += float64(cfg.DecliningPenalty)
	}
	return clampScore(score)
}

// VolumeRecencyScore scores a count over the last 30 days plus the recency of
// the latest event. A known count with no latest event is treated as a gap
// beyond every recency cutoff.
func VolumeRecencyScore(count, daysSinceLast *int, cfg VolumeRecencyConfig) *int {
	if count == nil {
		return nil
	}
	score := cfg.Base + cfg.Volume.Points(float64(*count))
	if daysSinceLast != nil {
		score += cfg.Recency.Points(float64(*daysSinceLast))
	} else {
		score += cfg.Recency.Else
	}
	return intPtr(clampScore(float64(score)))
}

// EngagementScore is the deal meeting engagement score
func EngagementScore(m *types.DealMetrics, cfg *ScoringConfig) *int {
	return VolumeRecencyScore(m.MeetingsLast30Days, m.DaysSinceLastMeeting, cfg.Engagement)
}

// ActivityScore is the deal activity score
func ActivityScore(m *types.DealMetrics, cfg *ScoringConfig) *int {
	return VolumeRecencyScore(m.ActivitiesLast30Days, m.DaysSinceLastActivity, cfg.Activity)
}

// responseTimeAdjustment compares hours against the baseline latency when
// one exists and against absolute hour bounds otherwise
func responseTimeAdjustment(hours float64, baseline *types.Baseline, cfg ResponseConfig) int {
	if baseline != nil && baseline.ResponseHours != nil && *baseline.ResponseHours > 0 {
		return cfg.BaselineRatio.Points(hours / *baseline.ResponseHours)
	}
	return cfg.AbsoluteHours.Points(hours)
}

// ResponseTimeScore scores the deal's average response latency
func ResponseTimeScore(avgHours *float64, baseline *types.Baseline, cfg ResponseConfig) *int {
	if avgHours == nil {
		return nil
	}
	return intPtr(clampScore(float64(cfg.Base + responseTimeAdjustment(*avgHours, baseline, cfg))))
}

// ResponseBehaviorScore combines response rate tiers with response latency
func ResponseBehaviorScore(ratePercent, avgHours *float64, baseline *types.Baseline, cfg ResponseConfig) *int {
	if ratePercent == nil && avgHours == nil {
		return nil
	}
	score := cfg.Base
	if ratePercent != nil {
		score += cfg.Rate.Points(*ratePercent)
	}
	if avgHours != nil {
		score += responseTimeAdjustment(*avgHours, baseline, cfg)
	}
	return intPtr(clampScore(float64(score)))
}

// CommunicationFrequencyScore scores how recently and how often the
// relationship has been in touch, relative to its usual gap when known
func CommunicationFrequencyScore(m *types.RelationshipMetrics, baseline *types.Baseline, cfg CommunicationConfig) *int {
	if m.DaysSinceLastContact == nil && m.CommunicationsLast30Days == nil {
		return nil
	}
	score := cfg.Base
	if m.DaysSinceLastContact != nil {
		gap := float64(*m.DaysSinceLastContact)
		score += cfg.Recency.Points(gap)
		if baseline != nil && baseline.ContactGapDays != nil && *baseline.ContactGapDays > 0 {
			usual := *baseline.ContactGapDays
			switch {
			case gap <= usual:
				score += cfg.BaselineBonus
			case gap > cfg.BaselinePenaltyRatio*usual:
				score += cfg.BaselinePenalty
			}
		}
	} else {
		score += cfg.Recency.Else
	}
	if m.CommunicationsLast30Days != nil {
		score += cfg.Volume.Points(float64(*m.CommunicationsLast30Days))
	}
	return intPtr(clampScore(float64(score)))
}

// EngagementQualityScore scores email opens and inbound replies
func EngagementQualityScore(m *types.RelationshipMetrics, cfg QualityConfig) *int {
	if m.EmailOpenRatePercent == nil && m.InboundLast30Days == nil {
		return nil
	}
	score := cfg.Base
	if m.EmailOpenRatePercent != nil {
		score += cfg.OpenRate.Points(*m.EmailOpenRatePercent)
	}
	if m.InboundLast30Days != nil {
		score += cfg.Inbound.Points(float64(*m.InboundLast30Days))
	}
	return intPtr(clampScore(float64(score)))
}

// MeetingPatternScore scores meeting volume and recency, penalizing a gap
// well beyond the relationship's usual meeting cadence
func MeetingPatternScore(m *types.RelationshipMetrics, baseline *types.Baseline, cfg MeetingConfig) *int {
	if m.MeetingsLast30Days == nil {
		return nil
	}
	score := cfg.Base + cfg.Volume.Points(float64(*m.MeetingsLast30Days))
	if m.DaysSinceLastMeeting == nil {
		return intPtr(clampScore(float64(score + cfg.Recency.Else)))
	}
	gap := float64(*m.DaysSinceLastMeeting)
	score += cfg.Recency.Points(gap)
	if baseline != nil && baseline.MeetingGapDays != nil && *baseline.MeetingGapDays > 0 {
		usual := *baseline.MeetingGapDays
		if gap > cfg.BaselinePenaltyRatio*usual {
			score += cfg.BaselinePenalty
		}
	}
	return intPtr(clampScore(float64(score)))
}
