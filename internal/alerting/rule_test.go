package alerting

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func dealSubject() *Subject {
	return &Subject{
		Entity: &types.Entity{
			ID:      "deal-1",
			Kind:    types.KindDeal,
			OwnerID: "owner-1",
			Name:    "Acme Renewal",
			Stage:   "SQL",
			Value:   decimal.RequireFromString("50000"),
		},
		Score: &types.HealthScore{
			ID:           "score-1",
			EntityID:     "deal-1",
			EntityKind:   types.KindDeal,
			EntityName:   "Acme Renewal",
			OwnerID:      "owner-1",
			OverallScore: 35,
			Status:       types.StatusCritical,
			RiskLevel:    types.RiskHigh,
			Signals: map[types.Signal]int{
				types.SignalStage:      33,
				types.SignalSentiment:  40,
				types.SignalEngagement: 20,
			},
			DealMetrics: &types.DealMetrics{
				Stage:                 "sql",
				DaysInStage:           ip(25),
				DaysSinceLastMeeting:  ip(40),
				DaysSinceLastActivity: ip(9),
				MeetingsLast30Days:    ip(0),
				Sentiment:             types.SentimentSummary{Delta: fp(-0.35), Trend: types.TrendDeclining},
				Value:                 decimal.RequireFromString("50000"),
			},
			RiskFactors: []string{"stage_stalled", "sentiment_declining", "no_meetings_30_days"},
		},
	}
}

func contactSubject() *Subject {
	return &Subject{
		Entity: &types.Entity{ID: "contact-1", Kind: types.KindContact, OwnerID: "owner-1", Name: "Dana"},
		Score: &types.HealthScore{
			EntityID:                "contact-1",
			EntityKind:              types.KindContact,
			EntityName:              "Dana",
			OwnerID:                 "owner-1",
			OverallScore:            28,
			Status:                  types.StatusGhost,
			GhostProbabilityPercent: ip(75),
			Signals:                 map[types.Signal]int{types.SignalEngagementQuality: 15},
			RelationshipMetrics: &types.RelationshipMetrics{
				DaysSinceLastContact:  ip(21),
				DaysSinceLastResponse: ip(35),
				MeetingsLast30Days:    ip(1),
				RelatedDeals: &types.DealRollup{
					Count:      2,
					TotalValue: decimal.RequireFromString("12000"),
				},
			},
		},
	}
}

func TestCompileConditions(t *testing.T) {
	tests := []struct {
		name    string
		raw     []types.RuleCondition
		subject *Subject
		holds   bool
		wantErr bool
	}{
		{
			name:    "stage matches case-insensitively",
			raw:     []types.RuleCondition{{Kind: types.ConditionStageEquals, Stage: " Sql "}},
			subject: dealSubject(),
			holds:   true,
		},
		{
			name:    "stage mismatch",
			raw:     []types.RuleCondition{{Kind: types.ConditionStageEquals, Stage: "proposal"}},
			subject: dealSubject(),
			holds:   false,
		},
		{
			name:    "deal value inside range",
			raw:     []types.RuleCondition{{Kind: types.ConditionValueRange, Min: decPtr("10000"), Max: decPtr("50000")}},
			subject: dealSubject(),
			holds:   true,
		},
		{
			name:    "deal value below min",
			raw:     []types.RuleCondition{{Kind: types.ConditionValueRange, Min: decPtr("50000.01")}},
			subject: dealSubject(),
			holds:   false,
		},
		{
			name:    "relationship uses linked deal total",
			raw:     []types.RuleCondition{{Kind: types.ConditionValueRange, Max: decPtr("15000")}},
			subject: contactSubject(),
			holds:   true,
		},
		{
			name:    "missing close date",
			raw:     []types.RuleCondition{{Kind: types.ConditionHasCloseDate}},
			subject: dealSubject(),
			holds:   false,
		},
		{
			name:    "empty stage",
			raw:     []types.RuleCondition{{Kind: types.ConditionStageEquals}},
			wantErr: true,
		},
		{
			name:    "range without bounds",
			raw:     []types.RuleCondition{{Kind: types.ConditionValueRange}},
			wantErr: true,
		},
		{
			name:    "inverted range",
			raw:     []types.RuleCondition{{Kind: types.ConditionValueRange, Min: decPtr("10"), Max: decPtr("5")}},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			raw:     []types.RuleCondition{{Kind: "owner_is"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conds, err := CompileConditions(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidRule)
				return
			}
			require.NoError(t, err)
			require.Len(t, conds, 1)
			assert.Equal(t, tt.holds, conds[0].Holds(tt.subject))
		})
	}
}

func TestHasCloseDate_FromEntity(t *testing.T) {
	s := dealSubject()
	closeAt := testNow.AddDate(0, 0, 10)
	s.Entity.ExpectedCloseDate = &closeAt

	conds, err := CompileConditions([]types.RuleCondition{{Kind: types.ConditionHasCloseDate}})
	require.NoError(t, err)
	assert.True(t, conds[0].Holds(s))
}

func validRule() *types.AlertRule {
	return &types.AlertRule{
		OwnerID:           "owner-1",
		Name:              "Stalled deals",
		RuleType:          types.AlertStageStall,
		ThresholdValue:    14,
		ThresholdOperator: types.OpGreater,
		ThresholdUnit:     types.UnitDays,
		Severity:          types.SeverityHigh,
		TitleTemplate:     "{{deal_name}} is stalled",
		IsActive:          true,
	}
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *types.AlertRule)
		ok     bool
	}{
		{name: "valid", mutate: func(r *types.AlertRule) {}, ok: true},
		{name: "scoped to contacts", mutate: func(r *types.AlertRule) { r.EntityKind = types.KindContact }, ok: true},
		{name: "missing owner", mutate: func(r *types.AlertRule) { r.OwnerID = " " }},
		{name: "unknown kind", mutate: func(r *types.AlertRule) { r.EntityKind = "lead" }},
		{name: "unsupported unit", mutate: func(r *types.AlertRule) { r.ThresholdUnit = types.UnitPercent }},
		{name: "unknown rule type", mutate: func(r *types.AlertRule) { r.RuleType = "churn" }},
		{name: "bad operator", mutate: func(r *types.AlertRule) { r.ThresholdOperator = "!=" }},
		{name: "bad severity", mutate: func(r *types.AlertRule) { r.Severity = "urgent" }},
		{name: "missing title", mutate: func(r *types.AlertRule) { r.TitleTemplate = "" }},
		{name: "bad condition", mutate: func(r *types.AlertRule) {
			r.Conditions = []types.RuleCondition{{Kind: "nope"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)
			err := ValidateRule(r)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrInvalidRule)
			}
		})
	}
}

func TestResolveMetric(t *testing.T) {
	tests := []struct {
		name     string
		ruleType types.AlertType
		unit     types.ThresholdUnit
		subject  *Subject
		want     float64
		ok       bool
	}{
		{"stage stall days", types.AlertStageStall, types.UnitDays, dealSubject(), 25, true},
		{"stage stall score", types.AlertStageStall, types.UnitScore, dealSubject(), 33, true},
		{"sentiment delta", types.AlertSentimentDrop, types.UnitDelta, dealSubject(), -0.35, true},
		{"sentiment score", types.AlertSentimentDrop, types.UnitScore, dealSubject(), 40, true},
		{"deal engagement score", types.AlertEngagementDecline, types.UnitScore, dealSubject(), 20, true},
		{"relationship engagement quality", types.AlertEngagementDecline, types.UnitScore, contactSubject(), 15, true},
		{"meeting count", types.AlertEngagementDecline, types.UnitCount, contactSubject(), 1, true},
		{"deal inactivity", types.AlertNoActivity, types.UnitDays, dealSubject(), 9, true},
		{"relationship inactivity", types.AlertNoActivity, types.UnitDays, contactSubject(), 21, true},
		{"deal missed follow up", types.AlertMissedFollowUp, types.UnitDays, dealSubject(), 40, true},
		{"relationship missed follow up", types.AlertMissedFollowUp, types.UnitDays, contactSubject(), 35, true},
		{"no close date", types.AlertCloseDateApproaching, types.UnitDays, dealSubject(), 0, false},
		{"close date on relationship", types.AlertCloseDateApproaching, types.UnitDays, contactSubject(), 0, false},
		{"high risk score", types.AlertHighRisk, types.UnitScore, dealSubject(), 35, true},
		{"high risk count", types.AlertHighRisk, types.UnitCount, dealSubject(), 3, true},
		{"ghost percent", types.AlertGhostRisk, types.UnitPercent, contactSubject(), 75, true},
		{"ghost percent missing", types.AlertGhostRisk, types.UnitPercent, dealSubject(), 0, false},
		{"missing signal", types.AlertEngagementDecline, types.UnitScore, func() *Subject {
			s := dealSubject()
			delete(s.Score.Signals, types.SignalEngagement)
			return s
		}(), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &types.AlertRule{RuleType: tt.ruleType, ThresholdUnit: tt.unit}
			got, ok := ResolveMetric(rule, tt.subject)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		op        types.ThresholdOperator
		value     float64
		threshold float64
		want      bool
	}{
		{types.OpGreater, 15, 14, true},
		{types.OpGreater, 14, 14, false},
		{types.OpLess, -0.35, -0.3, true},
		{types.OpLess, -0.3, -0.3, false},
		{types.OpGreaterEqual, 14, 14, true},
		{types.OpLessEqual, 0.1 + 0.2, 0.3, true},
		{types.OpEqual, 0.1 + 0.2, 0.3, true},
		{types.OpEqual, 3, 4, false},
		{"!=", 3, 4, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Compare(tt.op, tt.value, tt.threshold), "%v %s %v", tt.value, tt.op, tt.threshold)
	}
}
