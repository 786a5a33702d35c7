package alerting

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/eventbus"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type notification struct {
	at       time.Time
	channels []string
	err      string
}

// memStore is an in-memory RuleStore and AlertStore
type memStore struct {
	mu            sync.Mutex
	rules         []*types.AlertRule
	alerts        map[string]*types.HealthAlert
	order         []string
	notifications map[string]notification
	insertErr     error
}

func newMemStore(rules ...*types.AlertRule) *memStore {
	return &memStore{
		rules:         rules,
		alerts:        make(map[string]*types.HealthAlert),
		notifications: make(map[string]notification),
	}
}

func (m *memStore) ActiveRules(_ context.Context, ownerID string) ([]*types.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.AlertRule
	for _, r := range m.rules {
		if r.OwnerID == ownerID && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ListRules(_ context.Context, ownerID string) ([]*types.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.AlertRule
	for _, r := range m.rules {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) SaveRule(_ context.Context, rule *types.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule)
	return nil
}

func (m *memStore) HasOpenAlert(_ context.Context, entityID string, alertType types.AlertType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasOpen(entityID, alertType), nil
}

func (m *memStore) hasOpen(entityID string, alertType types.AlertType) bool {
	for _, a := range m.alerts {
		if a.EntityID == entityID && a.AlertType == alertType && a.Status.IsOpen() {
			return true
		}
	}
	return false
}

func (m *memStore) LastDismissedAt(_ context.Context, entityID string, alertType types.AlertType) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, a := range m.alerts {
		if a.EntityID != entityID || a.AlertType != alertType || a.Status != types.AlertDismissed || a.ResolvedAt == nil {
			continue
		}
		if last == nil || a.ResolvedAt.After(*last) {
			t := *a.ResolvedAt
			last = &t
		}
	}
	return last, nil
}

func (m *memStore) InsertAlert(_ context.Context, alert *types.HealthAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if m.hasOpen(alert.EntityID, alert.AlertType) {
		return apperrors.ErrDuplicateAlert
	}
	cp := *alert
	m.alerts[alert.ID] = &cp
	m.order = append(m.order, alert.ID)
	return nil
}

func (m *memStore) GetAlert(_ context.Context, id string) (*types.HealthAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, apperrors.ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) TransitionAlert(_ context.Context, id string, from []types.AlertStatus, to types.AlertStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if a.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	a.Status = to
	switch to {
	case types.AlertAcknowledged:
		a.AcknowledgedAt = &at
	case types.AlertResolved, types.AlertDismissed:
		a.ResolvedAt = &at
	}
	return true, nil
}

func (m *memStore) RecordNotification(_ context.Context, id string, at time.Time, channels []string, notifyErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[id]; !ok {
		return apperrors.ErrAlertNotFound
	}
	m.notifications[id] = notification{at: at, channels: channels, err: notifyErr}
	return nil
}

func (m *memStore) ListAlerts(_ context.Context, filter types.AlertFilter) ([]*types.HealthAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.HealthAlert
	for _, id := range m.order {
		a := m.alerts[id]
		if filter.OwnerID != "" && a.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// seed stores an alert as-is, bypassing dedup
func (m *memStore) seed(a *types.HealthAlert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = a
	m.order = append(m.order, a.ID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt eventbus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func ip(v int) *int { return &v }

func fp(v float64) *float64 { return &v }
