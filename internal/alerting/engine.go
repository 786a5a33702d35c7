// Package alerting evaluates owner-defined rules against fresh health
// scores, manages the alert lifecycle and dispatches notifications.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/eventbus"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// DefaultDismissCooldown is how long a dismissed alert holds back a new alert
// of the same type for the same entity
const DefaultDismissCooldown = 7 * 24 * time.Hour

// RuleStore persists alert rules
type RuleStore interface {
	ActiveRules(ctx context.Context, ownerID string) ([]*types.AlertRule, error)
	ListRules(ctx context.Context, ownerID string) ([]*types.AlertRule, error)
	SaveRule(ctx context.Context, rule *types.AlertRule) error
}

// AlertStore persists alerts. InsertAlert returns ErrDuplicateAlert when an
// open alert of the same type already exists for the entity.
// TransitionAlert moves an alert to `to` only if its status is one of `from`
// and reports whether a row changed.
type AlertStore interface {
	HasOpenAlert(ctx context.Context, entityID string, alertType types.AlertType) (bool, error)
	LastDismissedAt(ctx context.Context, entityID string, alertType types.AlertType) (*time.Time, error)
	InsertAlert(ctx context.Context, alert *types.HealthAlert) error
	GetAlert(ctx context.Context, id string) (*types.HealthAlert, error)
	TransitionAlert(ctx context.Context, id string, from []types.AlertStatus, to types.AlertStatus, at time.Time) (bool, error)
	RecordNotification(ctx context.Context, id string, at time.Time, channels []string, notifyErr string) error
	ListAlerts(ctx context.Context, filter types.AlertFilter) ([]*types.HealthAlert, error)
}

// Engine evaluates rules and owns alert state changes
type Engine struct {
	rules     RuleStore
	alerts    AlertStore
	publisher eventbus.Publisher
	cooldown  time.Duration
	now       func() time.Time
}

// NewEngine creates a rule engine. publisher may be nil.
func NewEngine(rules RuleStore, alerts AlertStore, publisher eventbus.Publisher, dismissCooldown time.Duration) *Engine {
	if dismissCooldown < 0 {
		dismissCooldown = DefaultDismissCooldown
	}
	return &Engine{
		rules:     rules,
		alerts:    alerts,
		publisher: publisher,
		cooldown:  dismissCooldown,
		now:       time.Now,
	}
}

// WithClock overrides the time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate runs the owner's active rules against the subject and persists an
// alert for each rule that fires and is not suppressed. A rule that cannot be
// evaluated is skipped; only rule loading failures are returned.
func (e *Engine) Evaluate(ctx context.Context, s *Subject) ([]*types.HealthAlert, error) {
	if s == nil || s.Score == nil {
		return nil, nil
	}
	score := s.Score

	rules, err := e.rules.ActiveRules(ctx, score.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load alert rules for owner %s: %w", score.OwnerID, err)
	}

	var created []*types.HealthAlert
	for _, rule := range rules {
		if !rule.IsActive || !rule.AppliesTo(score.EntityKind) {
			continue
		}

		metric, fires := e.fires(rule, s)
		if !fires {
			continue
		}

		suppressed, err := e.suppressed(ctx, score.EntityID, rule.RuleType)
		if err != nil {
			slog.Warn("Alert dedup check failed, skipping rule",
				"rule_id", rule.ID,
				"entity_id", score.EntityID,
				"error", err,
			)
			continue
		}
		if suppressed {
			continue
		}

		alert := e.build(rule, s, metric)
		if err := e.alerts.InsertAlert(ctx, alert); err != nil {
			if errors.Is(err, apperrors.ErrDuplicateAlert) {
				continue
			}
			slog.Error("Failed to persist alert",
				"rule_id", rule.ID,
				"entity_id", score.EntityID,
				"alert_type", rule.RuleType,
				"error", err,
			)
			continue
		}

		slog.Info("Alert created",
			"alert_id", alert.ID,
			"alert_type", alert.AlertType,
			"severity", alert.Severity,
			"entity_id", alert.EntityID,
			"owner_id", alert.OwnerID,
		)
		if e.publisher != nil {
			e.publisher.Publish(ctx, eventbus.AlertCreated(alert))
		}
		created = append(created, alert)
	}
	return created, nil
}

// fires checks conditions and threshold for one rule
func (e *Engine) fires(rule *types.AlertRule, s *Subject) (float64, bool) {
	conditions, err := CompileConditions(rule.Conditions)
	if err != nil {
		slog.Warn("Skipping misconfigured alert rule", "rule_id", rule.ID, "error", err)
		return 0, false
	}
	for _, c := range conditions {
		if !c.Holds(s) {
			return 0, false
		}
	}
	metric, ok := ResolveMetric(rule, s)
	if !ok {
		return 0, false
	}
	return metric, Compare(rule.ThresholdOperator, metric, rule.ThresholdValue)
}

// suppressed reports whether an open alert or a recent dismissal blocks a
// new alert of this type
func (e *Engine) suppressed(ctx context.Context, entityID string, alertType types.AlertType) (bool, error) {
	open, err := e.alerts.HasOpenAlert(ctx, entityID, alertType)
	if err != nil || open {
		return open, err
	}
	if e.cooldown == 0 {
		return false, nil
	}
	dismissedAt, err := e.alerts.LastDismissedAt(ctx, entityID, alertType)
	if err != nil {
		return false, err
	}
	return dismissedAt != nil && e.now().Sub(*dismissedAt) < e.cooldown, nil
}

func (e *Engine) build(rule *types.AlertRule, s *Subject, metric float64) *types.HealthAlert {
	score := s.Score
	vars := templateVars(rule, s, metric)

	actions := make([]string, 0, len(rule.SuggestedActions))
	for _, a := range rule.SuggestedActions {
		actions = append(actions, Render(a, vars))
	}

	priority := types.PriorityMedium
	if rule.Severity == types.SeverityCritical {
		priority = types.PriorityUrgent
	}

	return &types.HealthAlert{
		ID:               uuid.NewString(),
		EntityID:         score.EntityID,
		EntityKind:       score.EntityKind,
		OwnerID:          score.OwnerID,
		HealthScoreID:    score.ID,
		RuleID:           rule.ID,
		AlertType:        rule.RuleType,
		Severity:         rule.Severity,
		Title:            Render(rule.TitleTemplate, vars),
		Message:          Render(rule.MessageTemplate, vars),
		SuggestedActions: actions,
		ActionPriority:   priority,
		Status:           types.AlertActive,
		CreatedAt:        e.now().UTC(),
	}
}

// SaveRule validates and stores a rule, assigning an id when missing
func (e *Engine) SaveRule(ctx context.Context, rule *types.AlertRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = e.now().UTC()
	}
	return e.rules.SaveRule(ctx, rule)
}

// ListRules returns every rule of the owner
func (e *Engine) ListRules(ctx context.Context, ownerID string) ([]*types.AlertRule, error) {
	return e.rules.ListRules(ctx, ownerID)
}

// ListAlerts returns alerts matching the filter
func (e *Engine) ListAlerts(ctx context.Context, filter types.AlertFilter) ([]*types.HealthAlert, error) {
	return e.alerts.ListAlerts(ctx, filter)
}
