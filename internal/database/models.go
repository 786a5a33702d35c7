package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// Timestamps are stored as fixed width UTC text so string comparison in
// SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const entityColumns = `id, kind, owner_id, name, company_name, stage, stage_entered_at,
	value, expected_close_date, created_at`

const scoreColumns = `id, entity_id, entity_kind, entity_name, owner_id, overall_score, status,
	risk_level, signals, deal_metrics, relationship_metrics, baseline, risk_factors,
	is_ghost_risk, ghost_probability_percent, days_until_predicted_ghost,
	predicted_days_to_close, last_calculated_at`

const alertColumns = `id, entity_id, entity_kind, owner_id, health_score_id, rule_id, alert_type,
	severity, title, message, suggested_actions, action_priority, status, created_at,
	acknowledged_at, resolved_at, notified_at, notification_channels, notification_error`

const ruleColumns = `id, owner_id, name, entity_kind, rule_type, threshold_value,
	threshold_operator, threshold_unit, severity, title_template, message_template,
	suggested_actions, conditions, is_active, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// nullableJSON stores nil pointers as NULL
func nullableJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	s, err := toJSON(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func fromJSON(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatFromNull(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func scanEntity(row scanner) (*types.Entity, error) {
	var (
		e                     types.Entity
		kind                  string
		stageEntered, closeAt sql.NullString
		createdAt             string
		value                 decimal.Decimal
	)
	if err := row.Scan(&e.ID, &kind, &e.OwnerID, &e.Name, &e.CompanyName, &e.Stage,
		&stageEntered, &value, &closeAt, &createdAt); err != nil {
		return nil, err
	}
	e.Kind = types.EntityKind(kind)
	e.Value = value

	var err error
	if e.StageEnteredAt, err = parseNullTime(stageEntered); err != nil {
		return nil, err
	}
	if e.ExpectedCloseDate, err = parseNullTime(closeAt); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanScore(row scanner) (*types.HealthScore, error) {
	var (
		s                                  types.HealthScore
		kind, status, risk                 string
		signals, riskFactors, calculatedAt string
		dealMetrics, relMetrics, baseline  sql.NullString
		ghostProb, ghostDays, daysToClose  sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.EntityID, &kind, &s.EntityName, &s.OwnerID, &s.OverallScore,
		&status, &risk, &signals, &dealMetrics, &relMetrics, &baseline, &riskFactors,
		&s.IsGhostRisk, &ghostProb, &ghostDays, &daysToClose, &calculatedAt); err != nil {
		return nil, err
	}
	s.EntityKind = types.EntityKind(kind)
	s.Status = types.HealthStatus(status)
	s.RiskLevel = types.RiskLevel(risk)
	s.GhostProbabilityPercent = intFromNull(ghostProb)
	s.DaysUntilPredictedGhost = intFromNull(ghostDays)
	s.PredictedDaysToClose = intFromNull(daysToClose)

	if err := json.Unmarshal([]byte(signals), &s.Signals); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	if err := json.Unmarshal([]byte(riskFactors), &s.RiskFactors); err != nil {
		return nil, fmt.Errorf("decode risk factors: %w", err)
	}
	if dealMetrics.Valid {
		s.DealMetrics = &types.DealMetrics{}
		if err := fromJSON(dealMetrics, s.DealMetrics); err != nil {
			return nil, fmt.Errorf("decode deal metrics: %w", err)
		}
	}
	if relMetrics.Valid {
		s.RelationshipMetrics = &types.RelationshipMetrics{}
		if err := fromJSON(relMetrics, s.RelationshipMetrics); err != nil {
			return nil, fmt.Errorf("decode relationship metrics: %w", err)
		}
	}
	if baseline.Valid {
		s.Baseline = &types.Baseline{}
		if err := fromJSON(baseline, s.Baseline); err != nil {
			return nil, fmt.Errorf("decode baseline: %w", err)
		}
	}

	var err error
	if s.LastCalculatedAt, err = parseTime(calculatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanAlert(row scanner) (*types.HealthAlert, error) {
	var (
		a                                    types.HealthAlert
		kind, alertType, severity            string
		priority, status, actions, createdAt string
		ackAt, resolvedAt, notifiedAt        sql.NullString
		channels                             sql.NullString
	)
	if err := row.Scan(&a.ID, &a.EntityID, &kind, &a.OwnerID, &a.HealthScoreID, &a.RuleID,
		&alertType, &severity, &a.Title, &a.Message, &actions, &priority, &status, &createdAt,
		&ackAt, &resolvedAt, &notifiedAt, &channels, &a.NotificationError); err != nil {
		return nil, err
	}
	a.EntityKind = types.EntityKind(kind)
	a.AlertType = types.AlertType(alertType)
	a.Severity = types.Severity(severity)
	a.ActionPriority = types.ActionPriority(priority)
	a.Status = types.AlertStatus(status)

	if err := json.Unmarshal([]byte(actions), &a.SuggestedActions); err != nil {
		return nil, fmt.Errorf("decode suggested actions: %w", err)
	}
	if err := fromJSON(channels, &a.NotificationChannels); err != nil {
		return nil, fmt.Errorf("decode notification channels: %w", err)
	}

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.AcknowledgedAt, err = parseNullTime(ackAt); err != nil {
		return nil, err
	}
	if a.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, err
	}
	if a.NotifiedAt, err = parseNullTime(notifiedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanRule(row scanner) (*types.AlertRule, error) {
	var (
		r                                  types.AlertRule
		kind, ruleType, op, unit, severity string
		actions, conditions, createdAt     string
	)
	if err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &kind, &ruleType, &r.ThresholdValue,
		&op, &unit, &severity, &r.TitleTemplate, &r.MessageTemplate, &actions, &conditions,
		&r.IsActive, &createdAt); err != nil {
		return nil, err
	}
	r.EntityKind = types.EntityKind(kind)
	r.RuleType = types.AlertType(ruleType)
	r.ThresholdOperator = types.ThresholdOperator(op)
	r.ThresholdUnit = types.ThresholdUnit(unit)
	r.Severity = types.Severity(severity)

	if err := json.Unmarshal([]byte(actions), &r.SuggestedActions); err != nil {
		return nil, fmt.Errorf("decode suggested actions: %w", err)
	}
	if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
		return nil, fmt.Errorf("decode rule conditions: %w", err)
	}

	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}
