package alerting

import (
	"context"
	"errors"
	"log/slog"

	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// allowedFrom lists the states each target state can be reached from
var allowedFrom = map[types.AlertStatus][]types.AlertStatus{
	types.AlertAcknowledged: {types.AlertActive},
	types.AlertResolved:     {types.AlertActive, types.AlertAcknowledged},
	types.AlertDismissed:    {types.AlertActive},
}

// Acknowledge moves an active alert to acknowledged
func (e *Engine) Acknowledge(ctx context.Context, alertID string) (bool, error) {
	return e.transition(ctx, alertID, types.AlertAcknowledged)
}

// Resolve moves an active or acknowledged alert to resolved
func (e *Engine) Resolve(ctx context.Context, alertID string) (bool, error) {
	return e.transition(ctx, alertID, types.AlertResolved)
}

// Dismiss moves an active alert to dismissed
func (e *Engine) Dismiss(ctx context.Context, alertID string) (bool, error) {
	return e.transition(ctx, alertID, types.AlertDismissed)
}

// transition returns true when the alert ends up in the target state,
// including when it was already there. A missing alert or a disallowed
// transition returns false without an error.
func (e *Engine) transition(ctx context.Context, alertID string, to types.AlertStatus) (bool, error) {
	changed, err := e.alerts.TransitionAlert(ctx, alertID, allowedFrom[to], to, e.now().UTC())
	if err != nil {
		return false, err
	}
	if changed {
		slog.Info("Alert status changed", "alert_id", alertID, "status", to)
		return true, nil
	}

	current, err := e.alerts.GetAlert(ctx, alertID)
	if errors.Is(err, apperrors.ErrAlertNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return current.Status == to, nil
}
