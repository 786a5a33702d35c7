package telemetry

import (
	"sort"
	"time"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// Records arrive from several writers and may repeat or be out of order.
// Everything downstream assumes newest-first with no duplicate ids.

func normalizeMeetings(meetings []types.Meeting, now time.Time) []types.Meeting {
	seen := make(map[string]struct{}, len(meetings))
	held := make([]types.Meeting, 0, len(meetings))
	for _, m := range meetings {
		// scheduled meetings have not happened yet
		if m.StartTime.After(now) {
			continue
		}
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		held = append(held, m)
	}
	sort.SliceStable(held, func(i, j int) bool {
		return held[i].StartTime.After(held[j].StartTime)
	})
	return held
}

func normalizeCommunications(comms []types.Communication, now time.Time) []types.Communication {
	seen := make(map[string]struct{}, len(comms))
	cleaned := make([]types.Communication, 0, len(comms))
	for _, c := range comms {
		if c.Timestamp.After(now) {
			continue
		}
		if c.ID != "" {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
		}
		cleaned = append(cleaned, c)
	}
	sort.SliceStable(cleaned, func(i, j int) bool {
		return cleaned[i].Timestamp.After(cleaned[j].Timestamp)
	})
	return cleaned
}

func normalizeActivities(activities []types.Activity, now time.Time) []types.Activity {
	seen := make(map[string]struct{}, len(activities))
	cleaned := make([]types.Activity, 0, len(activities))
	for _, a := range activities {
		if a.Timestamp.After(now) {
			continue
		}
		if a.ID != "" {
			if _, dup := seen[a.ID]; dup {
				continue
			}
			seen[a.ID] = struct{}{}
		}
		cleaned = append(cleaned, a)
	}
	sort.SliceStable(cleaned, func(i, j int) bool {
		return cleaned[i].Timestamp.After(cleaned[j].Timestamp)
	})
	return cleaned
}

type timedSample struct {
	at    time.Time
	value float64
}

// mergeSentiment takes the newest meetingCap meeting samples and the newest
// messageCap message samples and merges them newest-first
func mergeSentiment(meetings []types.Meeting, comms []types.Communication, meetingCap, messageCap int) []float64 {
	samples := make([]timedSample, 0, meetingCap+messageCap)
	for _, m := range meetings {
		if len(samples) >= meetingCap {
			break
		}
		if m.Sentiment != nil {
			samples = append(samples, timedSample{at: m.StartTime, value: *m.Sentiment})
		}
	}
	taken := 0
	for _, c := range comms {
		if taken >= messageCap {
			break
		}
		if c.Sentiment != nil {
			samples = append(samples, timedSample{at: c.Timestamp, value: *c.Sentiment})
			taken++
		}
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].at.After(samples[j].at)
	})

	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.value
	}
	return out
}

// responseLatencies returns the counterpart's reply latencies in hours since
// the cutoff. Measured values on inbound messages win; without any, latency
// is inferred from each outbound message to the next inbound one.
func responseLatencies(comms []types.Communication, since time.Time) []float64 {
	var measured []float64
	for _, c := range comms {
		if c.Timestamp.Before(since) {
			continue
		}
		if c.Direction == types.DirectionInbound && c.ResponseTimeHours != nil && *c.ResponseTimeHours >= 0 {
			measured = append(measured, *c.ResponseTimeHours)
		}
	}
	if len(measured) > 0 {
		return measured
	}

	// comms are newest-first, walk oldest-first
	var inferred []float64
	var pending *time.Time
	for i := len(comms) - 1; i >= 0; i-- {
		c := comms[i]
		if c.Timestamp.Before(since) {
			continue
		}
		switch c.Direction {
		case types.DirectionOutbound:
			if pending == nil {
				ts := c.Timestamp
				pending = &ts
			}
		case types.DirectionInbound:
			if pending != nil {
				inferred = append(inferred, c.Timestamp.Sub(*pending).Hours())
				pending = nil
			}
		}
	}
	return inferred
}

func daysSince(t, now time.Time) int {
	d := int(now.Sub(t).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
