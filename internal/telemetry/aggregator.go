package telemetry

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/analysis"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// AggregatorConfig sets the windows and sample caps
type AggregatorConfig struct {
	RecentWindow     time.Duration
	LookbackWindow   time.Duration
	MeetingSampleCap int
	MessageSampleCap int
	TrendThreshold   float64
}

// DefaultAggregatorConfig returns 30 day counts over a 90 day lookback with
// 3 meeting and 5 message sentiment samples
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		RecentWindow:     30 * 24 * time.Hour,
		LookbackWindow:   90 * 24 * time.Hour,
		MeetingSampleCap: 3,
		MessageSampleCap: 5,
		TrendThreshold:   0.1,
	}
}

// Aggregator builds metric snapshots. A failing source degrades the fields
// it feeds to nil and never fails the snapshot.
type Aggregator struct {
	interactions InteractionReader
	links        DealLinkReader
	recorder     SourceRecorder
	config       AggregatorConfig
	now          func() time.Time
}

// NewAggregator creates an aggregator. links and recorder may be nil.
func NewAggregator(interactions InteractionReader, links DealLinkReader, recorder SourceRecorder, cfg AggregatorConfig) *Aggregator {
	return &Aggregator{
		interactions: interactions,
		links:        links,
		recorder:     recorder,
		config:       cfg,
		now:          time.Now,
	}
}

// WithClock overrides the time source
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

type snapshot struct {
	meetings     []types.Meeting
	meetingsOK   bool
	comms        []types.Communication
	commsOK      bool
	activities   []types.Activity
	activitiesOK bool
	deals        []types.LinkedDeal
	dealsOK      bool
}

func (a *Aggregator) record(source, entityID string, err error) bool {
	if a.recorder != nil {
		a.recorder.RecordRequest(source, err == nil)
	}
	if err != nil {
		slog.Warn("Interaction source failed, continuing without it",
			"source", source,
			"entity_id", entityID,
			"error", err,
		)
		return false
	}
	return true
}

// collect fetches the independent sources concurrently and joins them
func (a *Aggregator) collect(ctx context.Context, entity *types.Entity, withActivities, withLinks bool, now time.Time) (*snapshot, error) {
	since := now.Add(-a.config.LookbackWindow)
	snap := &snapshot{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		meetings, err := a.interactions.Meetings(gctx, entity.ID, since)
		if snap.meetingsOK = a.record(SourceMeetings, entity.ID, err); snap.meetingsOK {
			snap.meetings = normalizeMeetings(meetings, now)
		}
		return nil
	})
	g.Go(func() error {
		comms, err := a.interactions.Communications(gctx, entity.ID, since)
		if snap.commsOK = a.record(SourceCommunications, entity.ID, err); snap.commsOK {
			snap.comms = normalizeCommunications(comms, now)
		}
		return nil
	})
	if withActivities {
		g.Go(func() error {
			activities, err := a.interactions.Activities(gctx, entity.ID, since)
			if snap.activitiesOK = a.record(SourceActivities, entity.ID, err); snap.activitiesOK {
				snap.activities = normalizeActivities(activities, now)
			}
			return nil
		})
	}
	if withLinks && a.links != nil {
		g.Go(func() error {
			deals, err := a.links.RelatedDeals(gctx, entity.Kind, entity.ID)
			if snap.dealsOK = a.record(SourceDealLinks, entity.ID, err); snap.dealsOK {
				snap.deals = deals
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// DealMetrics builds the metric snapshot of a deal
func (a *Aggregator) DealMetrics(ctx context.Context, deal *types.Entity) (*types.DealMetrics, error) {
	now := a.now()
	snap, err := a.collect(ctx, deal, true, false, now)
	if err != nil {
		return nil, err
	}
	recent := now.Add(-a.config.RecentWindow)

	m := &types.DealMetrics{
		Stage: strings.TrimSpace(deal.Stage),
		Value: deal.Value,
	}

	if deal.StageEnteredAt != nil && !deal.StageEnteredAt.IsZero() {
		m.DaysInStage = intPtr(daysSince(*deal.StageEnteredAt, now))
	} else if !deal.CreatedAt.IsZero() {
		m.DaysInStage = intPtr(daysSince(deal.CreatedAt, now))
	}

	if snap.meetingsOK {
		count := 0
		for _, mt := range snap.meetings {
			if !mt.StartTime.Before(recent) {
				count++
			}
		}
		m.MeetingsLast30Days = intPtr(count)
		if len(snap.meetings) > 0 {
			m.DaysSinceLastMeeting = intPtr(daysSince(snap.meetings[0].StartTime, now))
		}
	}

	if snap.activitiesOK {
		count := 0
		for _, act := range snap.activities {
			if !act.Timestamp.Before(recent) {
				count++
			}
		}
		m.ActivitiesLast30Days = intPtr(count)
		if len(snap.activities) > 0 {
			m.DaysSinceLastActivity = intPtr(daysSince(snap.activities[0].Timestamp, now))
		}
	}

	m.Sentiment = a.sentiment(snap)

	if snap.commsOK {
		if latencies := responseLatencies(snap.comms, recent); len(latencies) > 0 {
			m.AvgResponseHours = floatPtr(mean(latencies))
		}
	}

	if deal.ExpectedCloseDate != nil && !deal.ExpectedCloseDate.IsZero() {
		days := int(math.Floor(deal.ExpectedCloseDate.Sub(now).Hours() / 24))
		m.DaysUntilClose = &days
	}

	return m, nil
}

// RelationshipMetrics builds the metric snapshot of a contact or company
func (a *Aggregator) RelationshipMetrics(ctx context.Context, rel *types.Entity) (*types.RelationshipMetrics, error) {
	now := a.now()
	snap, err := a.collect(ctx, rel, false, true, now)
	if err != nil {
		return nil, err
	}
	recent := now.Add(-a.config.RecentWindow)

	m := &types.RelationshipMetrics{}

	if snap.meetingsOK {
		count := 0
		for _, mt := range snap.meetings {
			if !mt.StartTime.Before(recent) {
				count++
			}
		}
		m.MeetingsLast30Days = intPtr(count)
		if len(snap.meetings) > 0 {
			m.DaysSinceLastMeeting = intPtr(daysSince(snap.meetings[0].StartTime, now))
		}
	}

	if snap.commsOK {
		var last, lastInbound time.Time
		var total, inbound, outbound, replied, emails, opened int
		for _, c := range snap.comms {
			if c.Timestamp.After(last) {
				last = c.Timestamp
			}
			if c.Direction == types.DirectionInbound && c.Timestamp.After(lastInbound) {
				lastInbound = c.Timestamp
			}
			if c.Timestamp.Before(recent) {
				continue
			}
			total++
			switch c.Direction {
			case types.DirectionInbound:
				inbound++
			case types.DirectionOutbound:
				outbound++
				if c.Replied {
					replied++
				}
				if c.IsEmail() {
					emails++
					if c.Opened {
						opened++
					}
				}
			}
		}

		if snap.meetingsOK && len(snap.meetings) > 0 && snap.meetings[0].StartTime.After(last) {
			last = snap.meetings[0].StartTime
		}
		if !last.IsZero() {
			m.DaysSinceLastContact = intPtr(daysSince(last, now))
		}
		if !lastInbound.IsZero() {
			m.DaysSinceLastResponse = intPtr(daysSince(lastInbound, now))
		}

		m.CommunicationsLast30Days = intPtr(total)
		m.InboundLast30Days = intPtr(inbound)
		m.OutboundLast30Days = intPtr(outbound)
		m.EmailsSentLast30Days = intPtr(emails)
		if outbound > 0 {
			m.ResponseRatePercent = floatPtr(100 * float64(replied) / float64(outbound))
		}
		if emails > 0 {
			m.EmailOpenRatePercent = floatPtr(100 * float64(opened) / float64(emails))
		}
		if latencies := responseLatencies(snap.comms, recent); len(latencies) > 0 {
			m.AvgResponseHours = floatPtr(mean(latencies))
		}
	}

	m.Sentiment = a.sentiment(snap)

	if snap.dealsOK {
		m.RelatedDeals = rollupDeals(snap.deals)
	}

	return m, nil
}

func (a *Aggregator) sentiment(snap *snapshot) types.SentimentSummary {
	samples := mergeSentiment(snap.meetings, snap.comms, a.config.MeetingSampleCap, a.config.MessageSampleCap)
	return analysis.SummarizeSentiment(samples, a.config.TrendThreshold)
}

func rollupDeals(deals []types.LinkedDeal) *types.DealRollup {
	rollup := &types.DealRollup{
		Count:       len(deals),
		TotalValue:  decimal.Zero,
		ValueAtRisk: decimal.Zero,
	}
	for _, d := range deals {
		rollup.TotalValue = rollup.TotalValue.Add(d.Value)
		if d.HealthStatus == types.StatusCritical || d.HealthStatus == types.StatusStalled {
			rollup.ValueAtRisk = rollup.ValueAtRisk.Add(d.Value)
		}
	}
	return rollup
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range xs {
		s += v
	}
	return s / float64(len(xs))
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
