package analysis

import (
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// Risk factor tags. They are stored and matched by value, do not rename.
const (
	FactorStageStalled            = "stage_stalled"
	FactorSentimentDeclining      = "sentiment_declining"
	FactorNegativeSentiment       = "negative_sentiment"
	FactorNoMeetings30Days        = "no_meetings_30_days"
	FactorNoRecentActivity        = "no_recent_activity"
	FactorSlowResponseTime        = "slow_response_time"
	FactorCloseDatePassed         = "close_date_passed"
	FactorNoResponse14Days        = "no_response_14_days"
	FactorEmailOpensStopped       = "email_opens_stopped"
	FactorResponseTimeTripled     = "response_time_tripled"
	FactorContactFrequencyDropped = "contact_frequency_dropped"
	FactorLowResponseRate         = "low_response_rate"
	FactorNoMeetings60Days        = "no_meetings_60_days"
	FactorDealsAtRisk             = "deals_at_risk"
)

// ghostFactors are the tags that mark a relationship as going silent
var ghostFactors = []string{FactorNoResponse14Days, FactorEmailOpensStopped, FactorResponseTimeTripled}

type check struct {
	tag  string
	test func() bool
}

func collect(checks []check) []string {
	factors := make([]string, 0, len(checks))
	for _, c := range checks {
		if c.test() {
			factors = append(factors, c.tag)
		}
	}
	return factors
}

func sentimentChecks(s types.SentimentSummary, cfg SentimentConfig) []check {
	return []check{
		{FactorSentimentDeclining, func() bool { return s.Trend == types.TrendDeclining }},
		{FactorNegativeSentiment, func() bool { return s.Average != nil && *s.Average < cfg.NegativeCutoff }},
	}
}

// DetectDealRisks runs the deal checklist in order
func DetectDealRisks(m *types.DealMetrics, baseline *types.Baseline, cfg *ScoringConfig) []string {
	thresholds := cfg.ThresholdsFor(m.Stage)
	checks := []check{
		{FactorStageStalled, func() bool { return m.DaysInStage != nil && *m.DaysInStage > thresholds.Warning }},
	}
	checks = append(checks, sentimentChecks(m.Sentiment, cfg.Sentiment)...)
	checks = append(checks,
		check{FactorNoMeetings30Days, func() bool { return m.MeetingsLast30Days != nil && *m.MeetingsLast30Days == 0 }},
		check{FactorNoRecentActivity, func() bool {
			if m.ActivitiesLast30Days != nil && *m.ActivitiesLast30Days == 0 {
				return true
			}
			return m.DaysSinceLastActivity != nil && *m.DaysSinceLastActivity > cfg.Risk.InactiveDays
		}},
		check{FactorSlowResponseTime, func() bool {
			if m.AvgResponseHours == nil {
				return false
			}
			if baseline != nil && baseline.ResponseHours != nil && *baseline.ResponseHours > 0 {
				return *m.AvgResponseHours > cfg.Risk.SlowResponseRatio*(*baseline.ResponseHours)
			}
			return *m.AvgResponseHours > cfg.Risk.SlowResponseHours
		}},
		check{FactorCloseDatePassed, func() bool { return m.DaysUntilClose != nil && *m.DaysUntilClose < 0 }},
	)
	return collect(checks)
}

// DetectRelationshipRisks runs the relationship checklist in order
func DetectRelationshipRisks(m *types.RelationshipMetrics, baseline *types.Baseline, cfg *ScoringConfig) []string {
	rc := cfg.Risk
	checks := []check{
		{FactorNoResponse14Days, func() bool {
			if m.DaysSinceLastResponse != nil {
				return *m.DaysSinceLastResponse >= rc.SilenceDays
			}
			return m.OutboundLast30Days != nil && *m.OutboundLast30Days > 0
		}},
		{FactorEmailOpensStopped, func() bool {
			return m.EmailsSentLast30Days != nil && *m.EmailsSentLast30Days >= rc.MinEmailsForOpenCheck &&
				m.EmailOpenRatePercent != nil && *m.EmailOpenRatePercent == 0
		}},
		{FactorResponseTimeTripled, func() bool {
			return m.AvgResponseHours != nil && baseline != nil && baseline.ResponseHours != nil &&
				*baseline.ResponseHours > 0 && *m.AvgResponseHours > rc.SlowResponseRatio*(*baseline.ResponseHours)
		}},
		{FactorContactFrequencyDropped, func() bool {
			return m.DaysSinceLastContact != nil && baseline != nil && baseline.ContactGapDays != nil &&
				*baseline.ContactGapDays > 0 && float64(*m.DaysSinceLastContact) > rc.ContactGapRatio*(*baseline.ContactGapDays)
		}},
		{FactorLowResponseRate, func() bool {
			return m.ResponseRatePercent != nil && *m.ResponseRatePercent < rc.LowResponseRate
		}},
	}
	checks = append(checks, sentimentChecks(m.Sentiment, cfg.Sentiment)...)
	checks = append(checks,
		check{FactorNoMeetings60Days, func() bool {
			if m.MeetingsLast30Days == nil {
				return false
			}
			return m.DaysSinceLastMeeting == nil || *m.DaysSinceLastMeeting > rc.MeetingDroughtDays
		}},
		check{FactorDealsAtRisk, func() bool {
			return m.RelatedDeals != nil && m.RelatedDeals.ValueAtRisk.IsPositive()
		}},
	)
	return collect(checks)
}

// IsGhostRisk reports whether any ghost-pattern tag is present
func IsGhostRisk(factors []string) bool {
	for _, f := range factors {
		for _, g := range ghostFactors {
			if f == g {
				return true
			}
		}
	}
	return false
}
