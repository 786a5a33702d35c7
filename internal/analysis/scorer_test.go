package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

func ip(v int) *int { return &v }

func fp(v float64) *float64 { return &v }

func TestStageVelocityScore(t *testing.T) {
	opportunity := StageThresholds{Optimal: 14, Warning: 21, Critical: 45}
	sql := StageThresholds{Optimal: 7, Warning: 14, Critical: 30}

	tests := []struct {
		name       string
		days       *int
		thresholds StageThresholds
		expected   *int
	}{
		{name: "missing days", days: nil, thresholds: opportunity, expected: nil},
		{name: "fresh in stage", days: ip(0), thresholds: opportunity, expected: ip(100)},
		{name: "at optimal bound", days: ip(14), thresholds: opportunity, expected: ip(100)},
		{name: "at warning bound", days: ip(21), thresholds: opportunity, expected: ip(60)},
		{name: "between warning and critical", days: ip(33), thresholds: opportunity, expected: ip(40)},
		{name: "at critical bound", days: ip(45), thresholds: opportunity, expected: ip(20)},
		{name: "beyond critical decays slowly", days: ip(65), thresholds: opportunity, expected: ip(16)},
		{name: "far beyond critical floors at zero", days: ip(500), thresholds: opportunity, expected: ip(0)},
		{name: "sql at 25 days", days: ip(25), thresholds: sql, expected: ip(33)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StageVelocityScore(tt.days, tt.thresholds)
			if tt.expected == nil {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, *tt.expected, *result)
		})
	}
}

func TestStageVelocityScore_CollapsedThresholds(t *testing.T) {
	result := StageVelocityScore(ip(8), StageThresholds{Optimal: 7, Warning: 7, Critical: 7})
	require.NotNil(t, result)
	assert.Equal(t, 20, *result)
}

func TestSentimentScore(t *testing.T) {
	cfg := DefaultScoringConfig().Sentiment

	tests := []struct {
		name     string
		summary  types.SentimentSummary
		expected int
	}{
		{name: "no data is neutral", summary: types.SentimentSummary{Trend: types.TrendUnknown}, expected: 50},
		{name: "neutral average without trend", summary: types.SentimentSummary{Average: fp(0), Trend: types.TrendUnknown}, expected: 50},
		{name: "best average improving is capped", summary: types.SentimentSummary{Average: fp(1), Trend: types.TrendImproving}, expected: 100},
		{name: "worst average declining is floored", summary: types.SentimentSummary{Average: fp(-1), Trend: types.TrendDeclining}, expected: 0},
		{name: "positive and stable", summary: types.SentimentSummary{Average: fp(0.5), Trend: types.TrendStable}, expected: 75},
		{name: "mild positive declining", summary: types.SentimentSummary{Average: fp(0.2), Trend: types.TrendDeclining}, expected: 45},
		{name: "out of range average is clipped", summary: types.SentimentSummary{Average: fp(3), Trend: types.TrendStable}, expected: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SentimentScore(tt.summary, cfg))
		})
	}
}

func TestEngagementScore(t *testing.T) {
	cfg := DefaultScoringConfig()

	tests := []struct {
		name     string
		metrics  types.DealMetrics
		expected *int
	}{
		{name: "meeting source unavailable", metrics: types.DealMetrics{}, expected: nil},
		{name: "never met", metrics: types.DealMetrics{MeetingsLast30Days: ip(0)}, expected: ip(10)},
		{name: "busy and recent", metrics: types.DealMetrics{MeetingsLast30Days: ip(4), DaysSinceLastMeeting: ip(2)}, expected: ip(100)},
		{name: "two meetings a few weeks back", metrics: types.DealMetrics{MeetingsLast30Days: ip(2), DaysSinceLastMeeting: ip(20)}, expected: ip(75)},
		{name: "nothing recent after a long gap", metrics: types.DealMetrics{MeetingsLast30Days: ip(0), DaysSinceLastMeeting: ip(40)}, expected: ip(10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EngagementScore(&tt.metrics, cfg)
			if tt.expected == nil {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, *tt.expected, *result)
		})
	}
}

func TestActivityScore(t *testing.T) {
	cfg := DefaultScoringConfig()

	result := ActivityScore(&types.DealMetrics{ActivitiesLast30Days: ip(1), DaysSinceLastActivity: ip(10)}, cfg)
	require.NotNil(t, result)
	assert.Equal(t, 60, *result)

	result = ActivityScore(&types.DealMetrics{ActivitiesLast30Days: ip(12), DaysSinceLastActivity: ip(1)}, cfg)
	require.NotNil(t, result)
	assert.Equal(t, 100, *result)

	result = ActivityScore(&types.DealMetrics{ActivitiesLast30Days: ip(0)}, cfg)
	require.NotNil(t, result)
	assert.Equal(t, 0, *result)
}

func TestResponseTimeScore(t *testing.T) {
	cfg := DefaultScoringConfig().Response
	withBaseline := &types.Baseline{ResponseHours: fp(10)}

	tests := []struct {
		name     string
		hours    *float64
		baseline *types.Baseline
		expected *int
	}{
		{name: "no latency data", hours: nil, expected: nil},
		{name: "fast without baseline", hours: fp(2), expected: ip(100)},
		{name: "within two days without baseline", hours: fp(30), expected: ip(60)},
		{name: "very slow without baseline", hours: fp(100), expected: ip(10)},
		{name: "on baseline", hours: fp(10), baseline: withBaseline, expected: ip(100)},
		{name: "two and a half times baseline", hours: fp(25), baseline: withBaseline, expected: ip(30)},
		{name: "zero baseline falls back to absolute", hours: fp(30), baseline: &types.Baseline{ResponseHours: fp(0)}, expected: ip(60)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ResponseTimeScore(tt.hours, tt.baseline, cfg)
			if tt.expected == nil {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, *tt.expected, *result)
		})
	}
}

func TestResponseBehaviorScore(t *testing.T) {
	cfg := DefaultScoringConfig().Response

	t.Run("full rate on baseline clamps to 100", func(t *testing.T) {
		result := ResponseBehaviorScore(fp(100), fp(12), &types.Baseline{ResponseHours: fp(12)}, cfg)
		require.NotNil(t, result)
		assert.Equal(t, 100, *result)
	})

	t.Run("rate only", func(t *testing.T) {
		result := ResponseBehaviorScore(fp(10), nil, nil, cfg)
		require.NotNil(t, result)
		assert.Equal(t, 20, *result)
	})

	t.Run("middling rate and latency", func(t *testing.T) {
		result := ResponseBehaviorScore(fp(50), fp(30), nil, cfg)
		require.NotNil(t, result)
		assert.Equal(t, 70, *result)
	})

	t.Run("nothing known", func(t *testing.T) {
		assert.Nil(t, ResponseBehaviorScore(nil, nil, nil, cfg))
	})
}

func TestCommunicationFrequencyScore(t *testing.T) {
	cfg := DefaultScoringConfig().CommunicationFrequency
	baseline := &types.Baseline{ContactGapDays: fp(5)}

	tests := []struct {
		name     string
		metrics  types.RelationshipMetrics
		baseline *types.Baseline
		expected *int
	}{
		{name: "no communication data", expected: nil},
		{name: "in touch more than usual", metrics: types.RelationshipMetrics{DaysSinceLastContact: ip(2), CommunicationsLast30Days: ip(10)}, baseline: baseline, expected: ip(100)},
		{name: "silent well past usual gap", metrics: types.RelationshipMetrics{DaysSinceLastContact: ip(20), CommunicationsLast30Days: ip(0)}, baseline: baseline, expected: ip(0)},
		{name: "no baseline", metrics: types.RelationshipMetrics{DaysSinceLastContact: ip(5), CommunicationsLast30Days: ip(4)}, expected: ip(80)},
		{name: "never contacted", metrics: types.RelationshipMetrics{CommunicationsLast30Days: ip(3)}, expected: ip(5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CommunicationFrequencyScore(&tt.metrics, tt.baseline, cfg)
			if tt.expected == nil {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, *tt.expected, *result)
		})
	}
}

func TestEngagementQualityScore(t *testing.T) {
	cfg := DefaultScoringConfig().EngagementQuality

	result := EngagementQualityScore(&types.RelationshipMetrics{EmailOpenRatePercent: fp(70), InboundLast30Days: ip(3)}, cfg)
	require.NotNil(t, result)
	assert.Equal(t, 95, *result)

	result = EngagementQualityScore(&types.RelationshipMetrics{EmailOpenRatePercent: fp(0), InboundLast30Days: ip(0)}, cfg)
	require.NotNil(t, result)
	assert.Equal(t, 15, *result)

	assert.Nil(t, EngagementQualityScore(&types.RelationshipMetrics{}, cfg))
}

func TestMeetingPatternScore(t *testing.T) {
	cfg := DefaultScoringConfig().MeetingPattern

	tests := []struct {
		name     string
		metrics  types.RelationshipMetrics
		baseline *types.Baseline
		expected *int
	}{
		{name: "meeting source unavailable", expected: nil},
		{name: "never met", metrics: types.RelationshipMetrics{MeetingsLast30Days: ip(0)}, expected: ip(5)},
		{name: "regular recent meetings", metrics: types.RelationshipMetrics{MeetingsLast30Days: ip(3), DaysSinceLastMeeting: ip(5)}, expected: ip(100)},
		{name: "gap beyond usual cadence", metrics: types.RelationshipMetrics{MeetingsLast30Days: ip(1), DaysSinceLastMeeting: ip(25)}, baseline: &types.Baseline{MeetingGapDays: fp(10)}, expected: ip(55)},
		{name: "gap within usual cadence", metrics: types.RelationshipMetrics{MeetingsLast30Days: ip(1), DaysSinceLastMeeting: ip(15)}, baseline: &types.Baseline{MeetingGapDays: fp(10)}, expected: ip(65)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MeetingPatternScore(&tt.metrics, tt.baseline, cfg)
			if tt.expected == nil {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, *tt.expected, *result)
		})
	}
}

func TestTierTables(t *testing.T) {
	floor := FloorTable{Steps: []Step{{10, 3}, {5, 2}, {1, 1}}, Else: -1}
	assert.Equal(t, 3, floor.Points(10))
	assert.Equal(t, 2, floor.Points(9.9))
	assert.Equal(t, 1, floor.Points(1))
	assert.Equal(t, -1, floor.Points(0))

	ceil := CeilTable{Steps: []Step{{1, 3}, {5, 2}}, Else: -1}
	assert.Equal(t, 3, ceil.Points(0))
	assert.Equal(t, 3, ceil.Points(1))
	assert.Equal(t, 2, ceil.Points(5))
	assert.Equal(t, -1, ceil.Points(5.1))
}
