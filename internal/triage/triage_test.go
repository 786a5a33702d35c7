package triage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

type fakeScores struct {
	scores map[string][]*types.HealthScore
	err    error
	calls  atomic.Int32
}

func (f *fakeScores) ListScores(_ context.Context, ownerID string) ([]*types.HealthScore, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.scores[ownerID], nil
}

func score(id string, overall int, status types.HealthStatus, risk types.RiskLevel) *types.HealthScore {
	return &types.HealthScore{EntityID: id, OverallScore: overall, Status: status, RiskLevel: risk}
}

func ids(r *Response) []string {
	out := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, e.Score.EntityID)
	}
	return out
}

func TestRank_Order(t *testing.T) {
	fake := &fakeScores{scores: map[string][]*types.HealthScore{
		"owner-1": {
			score("deal-healthy", 90, types.StatusHealthy, types.RiskLow),
			score("contact-ghost", 45, types.StatusGhost, types.RiskHigh),
			score("deal-b", 30, types.StatusCritical, types.RiskMedium),
			score("deal-a", 30, types.StatusCritical, types.RiskMedium),
			score("deal-risky", 30, types.StatusCritical, types.RiskCritical),
			score("company-ghost", 20, types.StatusGhost, types.RiskCritical),
		},
	}}
	svc := NewService(fake, 0)
	t.Cleanup(svc.Close)

	resp, err := svc.Rank(context.Background(), "owner-1", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"company-ghost", "contact-ghost", "deal-risky", "deal-a", "deal-b", "deal-healthy"}, ids(resp))
	assert.Equal(t, 6, resp.Total)
	assert.Equal(t, 1, resp.Entries[0].Rank)
	assert.Equal(t, 6, resp.Entries[5].Rank)
}

func TestRank_LimitAndCache(t *testing.T) {
	fake := &fakeScores{scores: map[string][]*types.HealthScore{
		"owner-1": {
			score("a", 10, types.StatusCritical, types.RiskHigh),
			score("b", 20, types.StatusCritical, types.RiskHigh),
			score("c", 30, types.StatusCritical, types.RiskHigh),
		},
	}}
	svc := NewService(fake, 0)
	t.Cleanup(svc.Close)
	ctx := context.Background()

	top, err := svc.Rank(ctx, "owner-1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(top))
	assert.Equal(t, 3, top.Total)

	all, err := svc.Rank(ctx, "owner-1", 0)
	require.NoError(t, err)
	assert.Len(t, all.Entries, 3)
	assert.Equal(t, int32(1), fake.calls.Load())

	svc.Invalidate("owner-1")
	_, err = svc.Rank(ctx, "owner-1", 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.calls.Load())
}

func TestRank_ErrorNotCached(t *testing.T) {
	fake := &fakeScores{err: errors.New("db locked")}
	svc := NewService(fake, 0)
	t.Cleanup(svc.Close)

	_, err := svc.Rank(context.Background(), "owner-1", 0)
	require.Error(t, err)

	fake.err = nil
	resp, err := svc.Rank(context.Background(), "owner-1", 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Entries)
}
