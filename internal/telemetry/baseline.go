package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/cache"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// minBaselineSamples is the fewest points a baseline may be built from
const minBaselineSamples = 2

// Tracker computes an entity's own historical normal over a trailing window
type Tracker struct {
	interactions InteractionReader
	recorder     SourceRecorder
	cache        *cache.Cache[*types.Baseline]
	window       time.Duration
	now          func() time.Time
}

// BaselineTTL is how long a computed baseline is reused
const BaselineTTL = time.Hour

// NewTracker creates a baseline tracker. cache may be nil to disable caching.
func NewTracker(interactions InteractionReader, recorder SourceRecorder, c *cache.Cache[*types.Baseline], window time.Duration) *Tracker {
	if window <= 0 {
		window = 90 * 24 * time.Hour
	}
	return &Tracker{
		interactions: interactions,
		recorder:     recorder,
		cache:        c,
		window:       window,
		now:          time.Now,
	}
}

// WithClock overrides the time source
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Baseline returns the entity baseline. Fields with fewer than two samples
// are nil; a baseline with every field nil is a valid answer.
func (t *Tracker) Baseline(ctx context.Context, entityID string) (*types.Baseline, error) {
	if t.cache != nil {
		if b, ok := t.cache.Get(entityID); ok {
			return b, nil
		}
	}

	now := t.now()
	since := now.Add(-t.window)

	var meetings []types.Meeting
	var comms []types.Communication
	var meetingsErr, commsErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		meetings, err = t.interactions.Meetings(gctx, entityID, since)
		meetingsErr = err
		return nil
	})
	g.Go(func() error {
		var err error
		comms, err = t.interactions.Communications(gctx, entityID, since)
		commsErr = err
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for source, err := range map[string]error{SourceMeetings: meetingsErr, SourceCommunications: commsErr} {
		if t.recorder != nil {
			t.recorder.RecordRequest(source, err == nil)
		}
		if err != nil {
			slog.Warn("Baseline source failed", "source", source, "entity_id", entityID, "error", err)
		}
	}

	baseline := &types.Baseline{WindowDays: int(t.window.Hours() / 24)}
	held := normalizeMeetings(meetings, now)
	msgs := normalizeCommunications(comms, now)

	if commsErr == nil {
		if latencies := responseLatencies(msgs, since); len(latencies) >= minBaselineSamples {
			baseline.ResponseHours = floatPtr(mean(latencies))
		}
	}

	if meetingsErr == nil {
		stamps := make([]time.Time, 0, len(held))
		for _, m := range held {
			stamps = append(stamps, m.StartTime)
		}
		baseline.MeetingGapDays = meanGapDays(stamps)
	}

	if commsErr == nil && meetingsErr == nil {
		stamps := make([]time.Time, 0, len(held)+len(msgs))
		for _, m := range held {
			stamps = append(stamps, m.StartTime)
		}
		for _, c := range msgs {
			stamps = append(stamps, c.Timestamp)
		}
		baseline.ContactGapDays = meanGapDays(stamps)
	}

	// partial baselines are recomputed next time instead of cached
	if t.cache != nil && meetingsErr == nil && commsErr == nil {
		t.cache.Set(entityID, baseline)
	}
	return baseline, nil
}

// Invalidate drops the cached baseline of an entity
func (t *Tracker) Invalidate(entityID string) {
	if t.cache != nil {
		t.cache.Delete(entityID)
	}
}

// meanGapDays is the mean distance in days between consecutive timestamps
func meanGapDays(stamps []time.Time) *float64 {
	if len(stamps) < minBaselineSamples {
		return nil
	}
	sorted := append([]time.Time(nil), stamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	total := 0.0
	for i := 1; i < len(sorted); i++ {
		total += sorted[i].Sub(sorted[i-1]).Hours() / 24
	}
	return floatPtr(total / float64(len(sorted)-1))
}
