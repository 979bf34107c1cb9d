package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// DefaultBuffer is the per-subscriber channel depth used by NewBus when the
// caller passes a non-positive buffer size.
const DefaultBuffer = 64

type subscriber struct {
	ch     chan types.Event
	filter map[types.EventType]struct{}
}

func (s *subscriber) wants(t types.EventType) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// Bus is the engine's shared event stream. Delivery is fire-and-forget over
// bounded channels: when a subscriber's buffer is full the event is dropped
// for that subscriber only, so a slow listener can never stall the engine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	buffer int
	closed bool
	onDrop func(types.Event)
	logger zerolog.Logger
}

// NewBus creates a bus with the given per-subscriber buffer depth.
func NewBus(buffer int, logger zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		buffer: buffer,
		logger: logger.With().Str("component", "event_bus").Logger(),
	}
}

// OnDrop installs a callback invoked whenever an event is dropped for a
// subscriber. Used for metrics; must be set before the bus is in use.
func (b *Bus) OnDrop(fn func(types.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe registers a listener for the given event types (all types when
// none are given). The returned cancel func detaches the listener and closes
// its channel.
func (b *Bus) Subscribe(eventTypes ...types.EventType) (<-chan types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan types.Event, b.buffer)}
	if len(eventTypes) > 0 {
		sub.filter = make(map[types.EventType]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			sub.filter[t] = struct{}{}
		}
	}

	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every matching subscriber without blocking. Missing
// id/timestamp fields are filled in.
func (b *Bus) Publish(ev types.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if b.onDrop != nil {
				b.onDrop(ev)
			}
			b.logger.Warn().
				Str("event_type", string(ev.Type)).
				Str("event_id", ev.ID).
				Msg("Subscriber buffer full, event dropped")
		}
	}
}

// Close detaches all subscribers and closes their channels. Publish becomes
// a no-op afterward.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
