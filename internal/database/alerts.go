package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// HasOpenAlert reports whether an active or acknowledged alert of the type
// exists for the entity
func (r *Repository) HasOpenAlert(ctx context.Context, entityID string, alertType types.AlertType) (bool, error) {
	stmt, err := r.db.GetPreparedStatement(stmtHasOpenAlert)
	if err != nil {
		return false, err
	}
	var open bool
	if err := stmt.QueryRowContext(ctx, entityID, string(alertType)).Scan(&open); err != nil {
		return false, fmt.Errorf("failed to check open alerts: %w", err)
	}
	return open, nil
}

// LastDismissedAt returns when the latest dismissed alert of the type was
// dismissed, or nil
func (r *Repository) LastDismissedAt(ctx context.Context, entityID string, alertType types.AlertType) (*time.Time, error) {
	var at sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(resolved_at) FROM alerts
		WHERE entity_id = ? AND alert_type = ? AND status = 'dismissed'
	`, entityID, string(alertType)).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("failed to query dismissed alerts: %w", err)
	}
	return parseNullTime(at)
}

// InsertAlert persists a new alert. The open-alert unique index turns a
// concurrent duplicate into ErrDuplicateAlert.
func (r *Repository) InsertAlert(ctx context.Context, a *types.HealthAlert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	actions := a.SuggestedActions
	if actions == nil {
		actions = []string{}
	}
	actionsJSON, err := toJSON(actions)
	if err != nil {
		return fmt.Errorf("encode suggested actions: %w", err)
	}
	var channels sql.NullString
	if a.NotificationChannels != nil {
		s, err := toJSON(a.NotificationChannels)
		if err != nil {
			return fmt.Errorf("encode notification channels: %w", err)
		}
		channels = sql.NullString{String: s, Valid: true}
	}

	stmt, err := r.db.GetPreparedStatement(stmtInsertAlert)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		a.ID, a.EntityID, string(a.EntityKind), a.OwnerID, a.HealthScoreID, a.RuleID,
		string(a.AlertType), string(a.Severity), a.Title, a.Message, actionsJSON,
		string(a.ActionPriority), string(a.Status), formatTime(a.CreatedAt),
		nullableTime(a.AcknowledgedAt), nullableTime(a.ResolvedAt), nullableTime(a.NotifiedAt),
		channels, a.NotificationError,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s on %s: %w", a.AlertType, a.EntityID, apperrors.ErrDuplicateAlert)
	}
	if err != nil {
		return apperrors.NewStorageError("insert alert", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// GetAlert loads one alert
func (r *Repository) GetAlert(ctx context.Context, id string) (*types.HealthAlert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, apperrors.ErrAlertNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// TransitionAlert moves the alert to `to` only when its current status is
// one of from. Acknowledging stamps acknowledged_at; resolving or dismissing
// stamps resolved_at.
func (r *Repository) TransitionAlert(ctx context.Context, id string, from []types.AlertStatus, to types.AlertStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	var stampColumn string
	switch to {
	case types.AlertAcknowledged:
		stampColumn = "acknowledged_at"
	case types.AlertResolved, types.AlertDismissed:
		stampColumn = "resolved_at"
	default:
		return false, fmt.Errorf("transition to %s: %w", to, apperrors.ErrInvalidTransition)
	}

	args := []any{string(to), formatTime(at), id}
	placeholders := make([]string, len(from))
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, string(s))
	}

	query := fmt.Sprintf(`UPDATE alerts SET status = ?, %s = ? WHERE id = ? AND status IN (%s)`,
		stampColumn, strings.Join(placeholders, ", "))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, apperrors.NewStorageError("transition alert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordNotification stores the outcome of notifying the owner
func (r *Repository) RecordNotification(ctx context.Context, id string, at time.Time, channels []string, notifyErr string) error {
	if channels == nil {
		channels = []string{}
	}
	channelsJSON, err := toJSON(channels)
	if err != nil {
		return fmt.Errorf("encode notification channels: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET notified_at = ?, notification_channels = ?, notification_error = ?
		WHERE id = ?
	`, formatTime(at), channelsJSON, notifyErr, id)
	if err != nil {
		return apperrors.NewStorageError("record notification", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %s: %w", id, apperrors.ErrAlertNotFound)
	}
	return nil
}

// ListAlerts returns alerts matching the filter, newest first
func (r *Repository) ListAlerts(ctx context.Context, filter types.AlertFilter) ([]*types.HealthAlert, error) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []*types.HealthAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActiveRules returns the owner's enabled rules in creation order
func (r *Repository) ActiveRules(ctx context.Context, ownerID string) ([]*types.AlertRule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules
		WHERE owner_id = ? AND is_active = 1 ORDER BY created_at, id`, ownerID)
}

// ListRules returns every rule of the owner
func (r *Repository) ListRules(ctx context.Context, ownerID string) ([]*types.AlertRule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules
		WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
}

func (r *Repository) queryRules(ctx context.Context, query string, args ...any) ([]*types.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer rows.Close()

	var out []*types.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// SaveRule inserts or replaces a rule by id
func (r *Repository) SaveRule(ctx context.Context, rule *types.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	actions := rule.SuggestedActions
	if actions == nil {
		actions = []string{}
	}
	actionsJSON, err := toJSON(actions)
	if err != nil {
		return fmt.Errorf("encode suggested actions: %w", err)
	}
	conditions := rule.Conditions
	if conditions == nil {
		conditions = []types.RuleCondition{}
	}
	conditionsJSON, err := toJSON(conditions)
	if err != nil {
		return fmt.Errorf("encode rule conditions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alert_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			entity_kind = excluded.entity_kind,
			rule_type = excluded.rule_type,
			threshold_value = excluded.threshold_value,
			threshold_operator = excluded.threshold_operator,
			threshold_unit = excluded.threshold_unit,
			severity = excluded.severity,
			title_template = excluded.title_template,
			message_template = excluded.message_template,
			suggested_actions = excluded.suggested_actions,
			conditions = excluded.conditions,
			is_active = excluded.is_active
	`, rule.ID, rule.OwnerID, rule.Name, string(rule.EntityKind), string(rule.RuleType),
		rule.ThresholdValue, string(rule.ThresholdOperator), string(rule.ThresholdUnit),
		string(rule.Severity), rule.TitleTemplate, rule.MessageTemplate, actionsJSON,
		conditionsJSON, rule.IsActive, formatTime(rule.CreatedAt))
	if err != nil {
		return apperrors.NewStorageError("save alert rule", err)
	}
	return nil
}
