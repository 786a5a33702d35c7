package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/alerting"
	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/eventbus"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/telemetry"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func daysAgo(d int) time.Time { return testNow.AddDate(0, 0, -d) }

func f64(v float64) *float64 { return &v }

type fakeEntities struct {
	entities map[string]*types.Entity
	errs     map[string]error
}

func (f *fakeEntities) GetEntity(_ context.Context, kind types.EntityKind, id string) (*types.Entity, error) {
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	e, ok := f.entities[id]
	if !ok || e.Kind != kind {
		return nil, apperrors.ErrEntityNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEntities) ListEntities(_ context.Context, ownerID string) ([]types.EntityRef, error) {
	var refs []types.EntityRef
	for _, id := range []string{"deal-1", "deal-2", "contact-1", "deal-broken"} {
		if e, ok := f.entities[id]; ok && e.OwnerID == ownerID {
			refs = append(refs, types.EntityRef{ID: e.ID, Kind: e.Kind})
		} else if _, broken := f.errs[id]; broken {
			refs = append(refs, types.EntityRef{ID: id, Kind: types.KindDeal})
		}
	}
	return refs, nil
}

type fakeInteractions struct {
	comms      map[string][]types.Communication
	activities map[string][]types.Activity
}

func (f *fakeInteractions) Meetings(context.Context, string, time.Time) ([]types.Meeting, error) {
	return nil, nil
}

func (f *fakeInteractions) Communications(_ context.Context, id string, _ time.Time) ([]types.Communication, error) {
	return f.comms[id], nil
}

func (f *fakeInteractions) Activities(_ context.Context, id string, _ time.Time) ([]types.Activity, error) {
	return f.activities[id], nil
}

type memScores struct {
	mu         sync.Mutex
	scores     map[string]*types.HealthScore
	history    []*types.HistorySnapshot
	upsertErr  error
	historyErr error
	upserts    int
}

func newMemScores() *memScores {
	return &memScores{scores: map[string]*types.HealthScore{}}
}

func key(kind types.EntityKind, id string) string { return string(kind) + ":" + id }

// SaveScore mirrors the sqlite transaction: a failure writes nothing
func (m *memScores) SaveScore(_ context.Context, s *types.HealthScore, snap *types.HistorySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if m.historyErr != nil {
		return m.historyErr
	}
	m.upserts++
	if prev, ok := m.scores[key(s.EntityKind, s.EntityID)]; ok {
		s.ID = prev.ID
	}
	cp := *s
	m.scores[key(s.EntityKind, s.EntityID)] = &cp
	m.history = append(m.history, snap)
	return nil
}

func (m *memScores) GetScore(_ context.Context, kind types.EntityKind, id string) (*types.HealthScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[key(kind, id)]
	if !ok {
		return nil, apperrors.ErrScoreNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memScores) ListScores(_ context.Context, ownerID string) ([]*types.HealthScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.HealthScore
	for _, s := range m.scores {
		if s.OwnerID == ownerID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memScores) History(_ context.Context, kind types.EntityKind, id string, limit int) ([]*types.HistorySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.HistorySnapshot
	for i := len(m.history) - 1; i >= 0; i-- {
		h := m.history[i]
		if h.EntityKind == kind && h.EntityID == id {
			out = append(out, h)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// memAlerts is the smallest rule and alert store the rule engine needs
type memAlerts struct {
	mu     sync.Mutex
	rules  []*types.AlertRule
	alerts []*types.HealthAlert
}

func (m *memAlerts) ActiveRules(context.Context, string) ([]*types.AlertRule, error) {
	return m.rules, nil
}

func (m *memAlerts) ListRules(context.Context, string) ([]*types.AlertRule, error) {
	return m.rules, nil
}

func (m *memAlerts) SaveRule(_ context.Context, r *types.AlertRule) error {
	m.rules = append(m.rules, r)
	return nil
}

func (m *memAlerts) HasOpenAlert(_ context.Context, entityID string, t types.AlertType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.EntityID == entityID && a.AlertType == t && a.Status.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAlerts) LastDismissedAt(context.Context, string, types.AlertType) (*time.Time, error) {
	return nil, nil
}

func (m *memAlerts) InsertAlert(_ context.Context, a *types.HealthAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *memAlerts) GetAlert(_ context.Context, id string) (*types.HealthAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, apperrors.ErrAlertNotFound
}

func (m *memAlerts) TransitionAlert(_ context.Context, id string, from []types.AlertStatus, to types.AlertStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID != id {
			continue
		}
		for _, s := range from {
			if a.Status == s {
				a.Status = to
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *memAlerts) RecordNotification(context.Context, string, time.Time, []string, string) error {
	return nil
}

func (m *memAlerts) ListAlerts(context.Context, types.AlertFilter) ([]*types.HealthAlert, error) {
	return m.alerts, nil
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

type countingObserver struct {
	scores []string
	alerts []string
}

func (o *countingObserver) ObserveScore(kind, status string, _ time.Duration) {
	o.scores = append(o.scores, kind+"/"+status)
}

func (o *countingObserver) ObserveAlert(alertType, severity string) {
	o.alerts = append(o.alerts, alertType+"/"+severity)
}

type fixture struct {
	entities  *fakeEntities
	scores    *memScores
	alerts    *memAlerts
	publisher *recordingPublisher
	observer  *countingObserver
	engine    *Engine
}

func stallRule() *types.AlertRule {
	return &types.AlertRule{
		ID:                "rule-stall",
		OwnerID:           "owner-1",
		EntityKind:        types.KindDeal,
		RuleType:          types.AlertStageStall,
		ThresholdValue:    14,
		ThresholdOperator: types.OpGreater,
		ThresholdUnit:     types.UnitDays,
		Severity:          types.SeverityHigh,
		TitleTemplate:     "{{deal_name}} stuck in {{stage}} for {{days_in_stage}} days",
		IsActive:          true,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	entered := daysAgo(25)
	entities := &fakeEntities{
		entities: map[string]*types.Entity{
			"deal-1": {ID: "deal-1", Kind: types.KindDeal, OwnerID: "owner-1", Name: "Acme Renewal", Stage: "SQL", StageEnteredAt: &entered, CreatedAt: daysAgo(60)},
			"deal-2": {ID: "deal-2", Kind: types.KindDeal, OwnerID: "owner-1", Name: "No Stage", CreatedAt: daysAgo(5)},
			"contact-1": {ID: "contact-1", Kind: types.KindContact, OwnerID: "owner-1", Name: "Dana"},
		},
		errs: map[string]error{},
	}
	interactions := &fakeInteractions{
		comms: map[string][]types.Communication{
			"deal-1": {
				{ID: "c-3", Direction: types.DirectionInbound, Timestamp: daysAgo(8), Sentiment: f64(0.4)},
				{ID: "c-1", Direction: types.DirectionInbound, Timestamp: daysAgo(1), Sentiment: f64(-0.2)},
				{ID: "c-2", Direction: types.DirectionInbound, Timestamp: daysAgo(5), Sentiment: f64(0.3)},
			},
		},
		activities: map[string][]types.Activity{
			"deal-1": {{ID: "a-1", Timestamp: daysAgo(10)}},
		},
	}

	f := &fixture{
		entities:  entities,
		scores:    newMemScores(),
		alerts:    &memAlerts{rules: []*types.AlertRule{stallRule()}},
		publisher: &recordingPublisher{},
		observer:  &countingObserver{},
	}
	alerts := alerting.NewEngine(f.alerts, f.alerts, f.publisher, alerting.DefaultDismissCooldown).WithClock(clock)
	f.engine = NewEngine(Deps{
		Entities:   entities,
		Aggregator: telemetry.NewAggregator(interactions, nil, nil, telemetry.DefaultAggregatorConfig()).WithClock(clock),
		Tracker:    telemetry.NewTracker(interactions, nil, nil, 0).WithClock(clock),
		Scores:     f.scores,
		Alerts:     alerts,
		Publisher:  f.publisher,
		Observer:   f.observer,
	}, 0).WithClock(clock)
	return f
}

func TestCalculateHealth_StalledDeal(t *testing.T) {
	f := newFixture(t)

	score, err := f.engine.CalculateHealth(context.Background(), types.KindDeal, "deal-1")
	require.NoError(t, err)
	require.NotNil(t, score)

	assert.NotEmpty(t, score.ID)
	assert.Equal(t, "owner-1", score.OwnerID)
	assert.Equal(t, "Acme Renewal", score.EntityName)
	assert.Equal(t, 35, score.OverallScore)
	assert.Equal(t, 33, score.Signals[types.SignalStage])
	assert.NotContains(t, score.Signals, types.SignalResponseTime)
	assert.Equal(t, types.RiskHigh, score.RiskLevel)
	assert.Equal(t, []string{"stage_stalled", "sentiment_declining", "no_meetings_30_days"}, score.RiskFactors)
	assert.Equal(t, testNow, score.LastCalculatedAt)
	require.NotNil(t, score.Baseline)
	require.NotNil(t, score.Baseline.ContactGapDays)
	assert.InDelta(t, 3.5, *score.Baseline.ContactGapDays, 1e-9)

	assert.Equal(t, 1, f.scores.upserts)
	require.Len(t, f.scores.history, 1)
	assert.Equal(t, 35, f.scores.history[0].OverallScore)

	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, "Acme Renewal stuck in SQL for 25 days", f.alerts.alerts[0].Title)
	assert.Equal(t, score.ID, f.alerts.alerts[0].HealthScoreID)

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, eventbus.TypeScoreCalculated, f.publisher.events[0].Type)
	assert.Equal(t, eventbus.TypeAlertCreated, f.publisher.events[1].Type)

	assert.Equal(t, []string{"deal/" + string(score.Status)}, f.observer.scores)
	assert.Equal(t, []string{"stage_stall/high"}, f.observer.alerts)
}

func TestCalculateHealth_RecalculationKeepsIDAndDedupsAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.CalculateHealth(ctx, types.KindDeal, "deal-1")
	require.NoError(t, err)
	second, err := f.engine.CalculateHealth(ctx, types.KindDeal, "deal-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.scores.history, 2)
	assert.Len(t, f.alerts.alerts, 1)
}

func TestCalculateHealth_Skips(t *testing.T) {
	tests := []struct {
		name string
		kind types.EntityKind
		id   string
	}{
		{"missing entity", types.KindDeal, "nope"},
		{"wrong kind", types.KindCompany, "deal-1"},
		{"deal without stage", types.KindDeal, "deal-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			score, err := f.engine.CalculateHealth(context.Background(), tt.kind, tt.id)
			assert.NoError(t, err)
			assert.Nil(t, score)
			assert.Zero(t, f.scores.upserts)
		})
	}
}

func TestCalculateHealth_ReaderError(t *testing.T) {
	f := newFixture(t)
	f.entities.errs["deal-1"] = errors.New("connection reset")

	score, err := f.engine.CalculateHealth(context.Background(), types.KindDeal, "deal-1")
	require.Error(t, err)
	assert.Nil(t, score)
}

func TestCalculateHealth_StoreFailureDiscards(t *testing.T) {
	f := newFixture(t)
	f.scores.upsertErr = errors.New("database is locked")

	score, err := f.engine.CalculateHealth(context.Background(), types.KindDeal, "deal-1")
	require.Error(t, err)
	assert.Nil(t, score)
	assert.Empty(t, f.scores.history)
	assert.Empty(t, f.alerts.alerts)
	assert.Empty(t, f.publisher.events)
}

func TestCalculateHealth_HistoryFailureLeavesNoLiveScore(t *testing.T) {
	f := newFixture(t)
	f.scores.historyErr = errors.New("disk I/O error")

	score, err := f.engine.CalculateHealth(context.Background(), types.KindDeal, "deal-1")
	require.Error(t, err)
	assert.Nil(t, score)

	_, err = f.engine.GetScore(context.Background(), types.KindDeal, "deal-1")
	assert.ErrorIs(t, err, apperrors.ErrScoreNotFound)
	assert.Empty(t, f.scores.history)
	assert.Empty(t, f.alerts.alerts)

	// the entity stays stale, so the next refresh retries it
	f.scores.historyErr = nil
	result, err := f.engine.RefreshStale(context.Background(), "owner-1", 0, false)
	require.NoError(t, err)
	ids := make([]string, 0, len(result.Updated))
	for _, s := range result.Updated {
		ids = append(ids, s.EntityID)
	}
	assert.Contains(t, ids, "deal-1")
	assert.Len(t, f.scores.history, len(result.Updated))
}

func TestCalculateHealth_Relationship(t *testing.T) {
	f := newFixture(t)

	score, err := f.engine.CalculateHealth(context.Background(), types.KindContact, "contact-1")
	require.NoError(t, err)
	require.NotNil(t, score)
	assert.Equal(t, types.KindContact, score.EntityKind)
	assert.NotNil(t, score.RelationshipMetrics)
	assert.Nil(t, score.DealMetrics)
	assert.GreaterOrEqual(t, score.OverallScore, 0)
	assert.LessOrEqual(t, score.OverallScore, 100)
	// stage rule is scoped to deals
	assert.Empty(t, f.alerts.alerts)
}

func TestCalculateAllHealth_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.entities.errs["deal-broken"] = errors.New("timeout")

	scores, err := f.engine.CalculateAllHealth(context.Background(), "owner-1")
	require.NoError(t, err)

	ids := make([]string, 0, len(scores))
	for _, s := range scores {
		ids = append(ids, s.EntityID)
	}
	assert.Equal(t, []string{"deal-1", "contact-1"}, ids)
}

func TestRefreshStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// deal-1 scored an hour ago, contact-1 never
	_, err := f.engine.CalculateHealth(ctx, types.KindDeal, "deal-1")
	require.NoError(t, err)
	f.engine.WithClock(func() time.Time { return testNow.Add(time.Hour) })

	result, err := f.engine.RefreshStale(ctx, "owner-1", 0, false)
	require.NoError(t, err)
	require.Len(t, result.Updated, 1)
	assert.Equal(t, "contact-1", result.Updated[0].EntityID)
	// deal-1 is fresh; deal-2 has no score but cannot be scored
	assert.Equal(t, 1, result.Skipped)

	f.engine.WithClock(func() time.Time { return testNow.Add(25 * time.Hour) })
	result, err = f.engine.RefreshStale(ctx, "owner-1", 0, false)
	require.NoError(t, err)
	assert.Len(t, result.Updated, 2)
	assert.Zero(t, result.Skipped)

	result, err = f.engine.RefreshStale(ctx, "owner-1", 48*time.Hour, true)
	require.NoError(t, err)
	assert.Len(t, result.Updated, 2)
	assert.Zero(t, result.Skipped)
}

func TestTriage_InvalidatedAfterCalculation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.engine.Triage(ctx, "owner-1", 10)
	require.NoError(t, err)
	assert.Empty(t, empty.Entries)

	_, err = f.engine.CalculateAllHealth(ctx, "owner-1")
	require.NoError(t, err)

	ranked, err := f.engine.Triage(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, ranked.Entries, 2)
	assert.Equal(t, 1, ranked.Entries[0].Rank)
	assert.Equal(t, 2, ranked.Total)
}

func TestAlertLifecycleDelegation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CalculateHealth(ctx, types.KindDeal, "deal-1")
	require.NoError(t, err)
	require.Len(t, f.alerts.alerts, 1)
	id := f.alerts.alerts[0].ID

	ok, err := f.engine.AcknowledgeAlert(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.engine.DismissAlert(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.engine.ResolveAlert(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.engine.ResolveAlert(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerateAlertsForEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.engine.GenerateAlertsForEntity(ctx, "deal-1", nil)
	require.NoError(t, err)
	assert.Nil(t, created)

	score := &types.HealthScore{
		ID:          "s-1",
		EntityID:    "deal-1",
		EntityKind:  types.KindDeal,
		OwnerID:     "owner-1",
		EntityName:  "Acme Renewal",
		DealMetrics: &types.DealMetrics{Stage: "sql", DaysInStage: func() *int { v := 40; return &v }()},
	}
	created, err = f.engine.GenerateAlertsForEntity(ctx, "deal-1", score)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "Acme Renewal stuck in sql for 40 days", created[0].Title)
}
