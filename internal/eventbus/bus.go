// Package eventbus is an in-process pub/sub bus for engine events. The engine
// publishes after its own writes commit; subscribers run on a single consumer
// goroutine so a slow or failing subscriber never affects the publisher.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// Event types
const (
	TypeAlertCreated    = "alert.created"
	TypeScoreCalculated = "score.calculated"
)

// Event is one engine event. Exactly one of the payload fields is set,
// matching Type.
type Event struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	OccurredAt time.Time          `json:"occurred_at"`
	Alert      *types.HealthAlert `json:"alert,omitempty"`
	Score      *types.HealthScore `json:"score,omitempty"`
}

// AlertCreated builds the event emitted for a newly persisted alert
func AlertCreated(alert *types.HealthAlert) Event {
	return Event{ID: uuid.NewString(), Type: TypeAlertCreated, OccurredAt: time.Now().UTC(), Alert: alert}
}

// ScoreCalculated builds the event emitted after a score is persisted
func ScoreCalculated(score *types.HealthScore) Event {
	return Event{ID: uuid.NewString(), Type: TypeScoreCalculated, OccurredAt: time.Now().UTC(), Score: score}
}

// Handler processes an event. Implementations must be safe for concurrent
// calls from different goroutines.
type Handler interface {
	HandleEvent(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a plain function to the Handler interface
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Publisher is the publishing side of the bus
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Bus buffers events on a channel and dispatches them to every subscriber in
// subscription order
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	events      chan Event
	done        chan struct{}
	started     bool
	closed      bool
	dropped     atomic.Uint64
}

type namedHandler struct {
	name    string
	handler Handler
}

// New creates a bus with the given buffer size
func New(bufSize int) *Bus {
	if bufSize < 1 {
		bufSize = 256
	}
	return &Bus{
		events: make(chan Event, bufSize),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a named handler. Must be called before Start.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, namedHandler{name: name, handler: h})
}

// Publish enqueues an event without blocking. When the buffer is full or the
// bus is stopped the event is dropped and logged.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		slog.Warn("Event bus stopped, dropping event", "type", evt.Type, "event_id", evt.ID)
		return
	}
	select {
	case b.events <- evt:
	default:
		b.dropped.Add(1)
		slog.Warn("Event bus buffer full, dropping event", "type", evt.Type, "event_id", evt.ID)
	}
}

// Dropped returns how many events were lost to a full buffer
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Start runs the consumer goroutine until ctx is cancelled or Stop is called.
// Queued events are drained before it exits.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go func() {
		defer close(b.done)
		for {
			select {
			case evt, ok := <-b.events:
				if !ok {
					return
				}
				b.dispatch(ctx, evt)
			case <-ctx.Done():
				b.drain(context.WithoutCancel(ctx))
				return
			}
		}
	}()
}

func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case evt, ok := <-b.events:
			if !ok {
				return
			}
			b.dispatch(ctx, evt)
		default:
			return
		}
	}
}

// Stop closes the bus and waits for queued events to be dispatched
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	started := b.started
	close(b.events)
	b.mu.Unlock()

	if started {
		<-b.done
	}
}

func (b *Bus) dispatch(ctx context.Context, evt Event) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleEvent(ctx, evt); err != nil {
			slog.Error("Event handler failed",
				"handler", s.name,
				"type", evt.Type,
				"event_id", evt.ID,
				"error", err,
			)
		}
	}
}
