package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// Subject is what a rule is evaluated against: the entity and its freshly
// computed score
type Subject struct {
	Entity *types.Entity
	Score  *types.HealthScore
}

func (s *Subject) isDeal() bool {
	return s.Score.EntityKind == types.KindDeal
}

func (s *Subject) stage() string {
	if s.Score.DealMetrics != nil && s.Score.DealMetrics.Stage != "" {
		return s.Score.DealMetrics.Stage
	}
	if s.Entity != nil {
		return s.Entity.Stage
	}
	return ""
}

// value is the deal amount, or the total of the linked deals for a
// relationship
func (s *Subject) value() (decimal.Decimal, bool) {
	if s.isDeal() {
		if s.Entity != nil {
			return s.Entity.Value, true
		}
		if s.Score.DealMetrics != nil {
			return s.Score.DealMetrics.Value, true
		}
		return decimal.Zero, false
	}
	if m := s.Score.RelationshipMetrics; m != nil && m.RelatedDeals != nil {
		return m.RelatedDeals.TotalValue, true
	}
	return decimal.Zero, false
}

// Condition is a compiled entity filter. Every condition of a rule must hold.
type Condition interface {
	Holds(s *Subject) bool
}

type stageEquals struct{ stage string }

func (c stageEquals) Holds(s *Subject) bool {
	return strings.EqualFold(strings.TrimSpace(s.stage()), c.stage)
}

type valueRange struct{ min, max *decimal.Decimal }

func (c valueRange) Holds(s *Subject) bool {
	v, ok := s.value()
	if !ok {
		return false
	}
	if c.min != nil && v.LessThan(*c.min) {
		return false
	}
	if c.max != nil && v.GreaterThan(*c.max) {
		return false
	}
	return true
}

type hasCloseDate struct{}

func (hasCloseDate) Holds(s *Subject) bool {
	if s.Entity != nil && s.Entity.ExpectedCloseDate != nil {
		return true
	}
	return s.Score.DealMetrics != nil && s.Score.DealMetrics.DaysUntilClose != nil
}

// CompileConditions turns persisted conditions into evaluators. An unknown
// kind is an error so a bad rule is caught when it is saved.
func CompileConditions(raw []types.RuleCondition) ([]Condition, error) {
	out := make([]Condition, 0, len(raw))
	for i, rc := range raw {
		switch rc.Kind {
		case types.ConditionStageEquals:
			stage := strings.ToLower(strings.TrimSpace(rc.Stage))
			if stage == "" {
				return nil, fmt.Errorf("condition %d: stage_equals needs a stage: %w", i, apperrors.ErrInvalidRule)
			}
			out = append(out, stageEquals{stage: stage})
		case types.ConditionValueRange:
			if rc.Min == nil && rc.Max == nil {
				return nil, fmt.Errorf("condition %d: value_range needs min or max: %w", i, apperrors.ErrInvalidRule)
			}
			if rc.Min != nil && rc.Max != nil && rc.Min.GreaterThan(*rc.Max) {
				return nil, fmt.Errorf("condition %d: value_range min exceeds max: %w", i, apperrors.ErrInvalidRule)
			}
			out = append(out, valueRange{min: rc.Min, max: rc.Max})
		case types.ConditionHasCloseDate:
			out = append(out, hasCloseDate{})
		default:
			return nil, fmt.Errorf("condition %d: unknown kind %q: %w", i, rc.Kind, apperrors.ErrInvalidRule)
		}
	}
	return out, nil
}

// ValidateRule checks a rule before it is stored
func ValidateRule(rule *types.AlertRule) error {
	if strings.TrimSpace(rule.OwnerID) == "" {
		return fmt.Errorf("owner_id is required: %w", apperrors.ErrInvalidRule)
	}
	if rule.EntityKind != "" {
		if _, ok := types.ParseEntityKind(string(rule.EntityKind)); !ok {
			return fmt.Errorf("entity_kind %q: %w", rule.EntityKind, apperrors.ErrInvalidRule)
		}
	}
	if !supportsUnit(rule.RuleType, rule.ThresholdUnit) {
		return fmt.Errorf("rule type %q cannot be measured in %q: %w", rule.RuleType, rule.ThresholdUnit, apperrors.ErrInvalidRule)
	}
	switch rule.ThresholdOperator {
	case types.OpGreater, types.OpLess, types.OpGreaterEqual, types.OpLessEqual, types.OpEqual:
	default:
		return fmt.Errorf("operator %q: %w", rule.ThresholdOperator, apperrors.ErrInvalidRule)
	}
	switch rule.Severity {
	case types.SeverityLow, types.SeverityMedium, types.SeverityHigh, types.SeverityCritical:
	default:
		return fmt.Errorf("severity %q: %w", rule.Severity, apperrors.ErrInvalidRule)
	}
	if strings.TrimSpace(rule.TitleTemplate) == "" {
		return fmt.Errorf("title_template is required: %w", apperrors.ErrInvalidRule)
	}
	_, err := CompileConditions(rule.Conditions)
	return err
}

// metricUnits lists the units each rule type can be measured in
var metricUnits = map[types.AlertType][]types.ThresholdUnit{
	types.AlertStageStall:           {types.UnitDays, types.UnitScore},
	types.AlertSentimentDrop:        {types.UnitDelta, types.UnitScore},
	types.AlertEngagementDecline:    {types.UnitScore, types.UnitCount},
	types.AlertNoActivity:           {types.UnitDays},
	types.AlertMissedFollowUp:       {types.UnitDays},
	types.AlertCloseDateApproaching: {types.UnitDays},
	types.AlertHighRisk:             {types.UnitScore, types.UnitCount},
	types.AlertGhostRisk:            {types.UnitPercent},
}

func supportsUnit(ruleType types.AlertType, unit types.ThresholdUnit) bool {
	for _, u := range metricUnits[ruleType] {
		if u == unit {
			return true
		}
	}
	return false
}

// ResolveMetric returns the value a rule compares against its threshold.
// ok is false when the subject lacks the data, in which case the rule does
// not fire.
func ResolveMetric(rule *types.AlertRule, s *Subject) (value float64, ok bool) {
	score := s.Score
	deal := score.DealMetrics
	rel := score.RelationshipMetrics

	fromInt := func(p *int) (float64, bool) {
		if p == nil {
			return 0, false
		}
		return float64(*p), true
	}
	fromSignal := func(name types.Signal) (float64, bool) {
		v, present := score.Signals[name]
		return float64(v), present
	}

	switch rule.RuleType {
	case types.AlertStageStall:
		switch rule.ThresholdUnit {
		case types.UnitDays:
			if deal != nil {
				return fromInt(deal.DaysInStage)
			}
		case types.UnitScore:
			return fromSignal(types.SignalStage)
		}
	case types.AlertSentimentDrop:
		switch rule.ThresholdUnit {
		case types.UnitDelta:
			var summary *types.SentimentSummary
			if deal != nil {
				summary = &deal.Sentiment
			} else if rel != nil {
				summary = &rel.Sentiment
			}
			if summary != nil && summary.Delta != nil {
				return *summary.Delta, true
			}
		case types.UnitScore:
			return fromSignal(types.SignalSentiment)
		}
	case types.AlertEngagementDecline:
		switch rule.ThresholdUnit {
		case types.UnitScore:
			if s.isDeal() {
				return fromSignal(types.SignalEngagement)
			}
			return fromSignal(types.SignalEngagementQuality)
		case types.UnitCount:
			if deal != nil {
				return fromInt(deal.MeetingsLast30Days)
			}
			if rel != nil {
				return fromInt(rel.MeetingsLast30Days)
			}
		}
	case types.AlertNoActivity:
		if rule.ThresholdUnit == types.UnitDays {
			if deal != nil {
				return fromInt(deal.DaysSinceLastActivity)
			}
			if rel != nil {
				return fromInt(rel.DaysSinceLastContact)
			}
		}
	case types.AlertMissedFollowUp:
		if rule.ThresholdUnit == types.UnitDays {
			if deal != nil {
				return fromInt(deal.DaysSinceLastMeeting)
			}
			if rel != nil {
				return fromInt(rel.DaysSinceLastResponse)
			}
		}
	case types.AlertCloseDateApproaching:
		if rule.ThresholdUnit == types.UnitDays && deal != nil {
			return fromInt(deal.DaysUntilClose)
		}
	case types.AlertHighRisk:
		switch rule.ThresholdUnit {
		case types.UnitScore:
			return float64(score.OverallScore), true
		case types.UnitCount:
			return float64(len(score.RiskFactors)), true
		}
	case types.AlertGhostRisk:
		if rule.ThresholdUnit == types.UnitPercent && score.GhostProbabilityPercent != nil {
			return float64(*score.GhostProbabilityPercent), true
		}
	}
	return 0, false
}

// Compare applies the rule operator. Equality uses a small tolerance since
// deltas are fractional.
func Compare(op types.ThresholdOperator, value, threshold float64) bool {
	const epsilon = 1e-9
	switch op {
	case types.OpGreater:
		return value > threshold
	case types.OpLess:
		return value < threshold
	case types.OpGreaterEqual:
		return value >= threshold-epsilon
	case types.OpLessEqual:
		return value <= threshold+epsilon
	case types.OpEqual:
		return value-threshold < epsilon && threshold-value < epsilon
	default:
		return false
	}
}
