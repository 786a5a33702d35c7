package alerting

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/eventbus"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/ratelimit"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// NotificationRecorder writes the delivery outcome back onto the alert
type NotificationRecorder interface {
	RecordNotification(ctx context.Context, id string, at time.Time, channels []string, notifyErr string) error
}

// Throttle caps notifications per owner
type Throttle interface {
	AllowNotification(ctx context.Context, ownerID string) (*ratelimit.Result, error)
}

// NotificationObserver receives dispatch outcomes for metrics
type NotificationObserver interface {
	ObserveNotification(channel string, success bool)
	ObserveNotificationThrottled()
}

// Dispatcher fans created alerts out to every notifier. It runs as an event
// bus subscriber and its failures never reach the scoring path.
type Dispatcher struct {
	notifiers []Notifier
	recorder  NotificationRecorder
	throttle  Throttle
	observer  NotificationObserver
	timeout   time.Duration
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. throttle and observer may be nil.
func NewDispatcher(recorder NotificationRecorder, throttle Throttle, observer NotificationObserver, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		recorder:  recorder,
		throttle:  throttle,
		observer:  observer,
		timeout:   30 * time.Second,
		now:       time.Now,
	}
}

// HandleEvent implements eventbus.Handler for alert.created events
func (d *Dispatcher) HandleEvent(ctx context.Context, evt eventbus.Event) error {
	if evt.Type != eventbus.TypeAlertCreated || evt.Alert == nil {
		return nil
	}
	alert := evt.Alert

	if d.throttle != nil {
		res, err := d.throttle.AllowNotification(ctx, alert.OwnerID)
		if err != nil {
			slog.Warn("Notification throttle check failed, sending anyway", "owner_id", alert.OwnerID, "error", err)
		} else if !res.Allowed {
			if d.observer != nil {
				d.observer.ObserveNotificationThrottled()
			}
			slog.Info("Notification throttled",
				"alert_id", alert.ID,
				"owner_id", alert.OwnerID,
				"retry_after", res.RetryAfter,
			)
			return d.record(ctx, alert.ID, nil, "throttled: owner notification budget exhausted")
		}
	}

	delivered, errs := d.fanOut(ctx, alert)

	msg := ""
	if len(errs) > 0 {
		parts := make([]string, 0, len(errs))
		for _, err := range errs {
			parts = append(parts, err.Error())
		}
		msg = strings.Join(parts, "; ")
	}
	if err := d.record(ctx, alert.ID, delivered, msg); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// fanOut calls every notifier concurrently and returns the channels that
// succeeded, in notifier order
func (d *Dispatcher) fanOut(ctx context.Context, alert *types.HealthAlert) ([]string, []error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	results := make([]error, len(d.notifiers))
	var wg sync.WaitGroup
	for i, n := range d.notifiers {
		wg.Add(1)
		go func(i int, n Notifier) {
			defer wg.Done()
			results[i] = n.Notify(ctx, alert)
		}(i, n)
	}
	wg.Wait()

	var delivered []string
	var errs []error
	for i, n := range d.notifiers {
		ok := results[i] == nil
		if d.observer != nil {
			d.observer.ObserveNotification(n.Name(), ok)
		}
		if ok {
			delivered = append(delivered, n.Name())
			continue
		}
		slog.Warn("Notification failed", "channel", n.Name(), "alert_id", alert.ID, "error", results[i])
		errs = append(errs, results[i])
	}
	return delivered, errs
}

func (d *Dispatcher) record(ctx context.Context, alertID string, channels []string, notifyErr string) error {
	if d.recorder == nil {
		return nil
	}
	if err := d.recorder.RecordNotification(ctx, alertID, d.now().UTC(), channels, notifyErr); err != nil {
		slog.Error("Failed to record notification outcome", "alert_id", alertID, "error", err)
		return err
	}
	return nil
}
