package alerting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

func TestLifecycle(t *testing.T) {
	type op func(e *Engine, ctx context.Context, id string) (bool, error)
	ack := (*Engine).Acknowledge
	resolve := (*Engine).Resolve
	dismiss := (*Engine).Dismiss

	tests := []struct {
		name       string
		from       types.AlertStatus
		op         op
		want       bool
		wantStatus types.AlertStatus
	}{
		{"ack active", types.AlertActive, ack, true, types.AlertAcknowledged},
		{"ack twice", types.AlertAcknowledged, ack, true, types.AlertAcknowledged},
		{"ack resolved", types.AlertResolved, ack, false, types.AlertResolved},
		{"resolve active", types.AlertActive, resolve, true, types.AlertResolved},
		{"resolve acknowledged", types.AlertAcknowledged, resolve, true, types.AlertResolved},
		{"resolve dismissed", types.AlertDismissed, resolve, false, types.AlertDismissed},
		{"dismiss active", types.AlertActive, dismiss, true, types.AlertDismissed},
		{"dismiss acknowledged", types.AlertAcknowledged, dismiss, false, types.AlertAcknowledged},
		{"dismiss resolved", types.AlertResolved, dismiss, false, types.AlertResolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.seed(&types.HealthAlert{ID: "a1", EntityID: "deal-1", AlertType: types.AlertStageStall, Status: tt.from})
			engine := newTestEngine(store, nil)

			ok, err := tt.op(engine, context.Background(), "a1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)

			got, err := store.GetAlert(context.Background(), "a1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

func TestLifecycle_SetsTimestamps(t *testing.T) {
	store := newMemStore()
	store.seed(&types.HealthAlert{ID: "a1", Status: types.AlertActive})
	engine := newTestEngine(store, nil)
	ctx := context.Background()

	_, err := engine.Acknowledge(ctx, "a1")
	require.NoError(t, err)
	_, err = engine.Resolve(ctx, "a1")
	require.NoError(t, err)

	got, _ := store.GetAlert(ctx, "a1")
	require.NotNil(t, got.AcknowledgedAt)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, testNow, *got.AcknowledgedAt)
	assert.Equal(t, testNow, *got.ResolvedAt)
}

func TestLifecycle_MissingAlert(t *testing.T) {
	engine := newTestEngine(newMemStore(), nil)
	for _, fn := range []func(context.Context, string) (bool, error){engine.Acknowledge, engine.Resolve, engine.Dismiss} {
		ok, err := fn(context.Background(), "missing")
		assert.NoError(t, err)
		assert.False(t, ok)
	}
}
