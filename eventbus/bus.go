// Package eventbus implements C14: a process-wide pub/sub for live
// dashboard updates (spec 4.14). It is an explicit service constructed at
// startup and injected wherever it's needed, not a package-level global —
// only its watermill gochannel transport is itself process-scoped, and that
// is owned by one Bus value per process.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/ghiac/agentize/log"
)

// EventType names one kind of event on the bus.
type EventType string

const (
	EventAgentHeartbeat EventType = "agent.heartbeat"
	EventMemoryAdded    EventType = "memory.added"
	EventCommitCreated  EventType = "commit.created"
	EventIndexUpdated   EventType = "index.updated"
	EventContextQuery   EventType = "context.query"
)

// Event is one item published on the bus (spec 4.14's {type, data,
// timestamp, tenant_id?} shape).
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id,omitempty"`
}

// Listener receives published events. A Listener that panics does not take
// down the bus or other listeners — Publish recovers and logs instead.
type Listener func(Event)

type subscription struct {
	id uint64
	fn Listener
}

const ringBufferSize = 100

// Bus is C14's pub/sub: per-type and global subscriptions, a bounded ring
// buffer of recent events for subscribers that join late, and an
// underlying watermill gochannel transport that the Bus creates and closes.
// Publish and the Listener API do not route through that transport, and the
// Bus does not expose it to callers.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu          sync.RWMutex
	byType      map[EventType][]subscription
	global      []subscription
	nextID      uint64
	ring        []Event
	ringIdx     int
	ringFilled  bool
}

// New constructs a Bus. Callers hold one instance per process and inject it
// into every component that emits or consumes events.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: ringBufferSize, Persistent: false},
			watermill.NopLogger{},
		),
		byType: make(map[EventType][]subscription),
		ring:   make([]Event, ringBufferSize),
	}
}

// Subscribe registers fn for one event type and returns an unsubscribe
// function.
func (b *Bus) Subscribe(t EventType, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := atomic.AddUint64(&b.nextID, 1)
	b.byType[t] = append(b.byType[t], subscription{id: id, fn: fn})
	return func() { b.unsubscribe(t, id) }
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := atomic.AddUint64(&b.nextID, 1)
	b.global = append(b.global, subscription{id: id, fn: fn})
	return func() { b.unsubscribeGlobal(id) }
}

func (b *Bus) unsubscribe(t EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.byType[t]
	for i, s := range subs {
		if s.id == id {
			b.byType[t] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.global {
		if s.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every matching listener (one goroutine each, so a
// slow listener never blocks the emitter or its peers) and retains it in
// the ring buffer for late subscribers via Recent. A zero Timestamp is
// stamped with the current time.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	b.ring[b.ringIdx] = ev
	b.ringIdx = (b.ringIdx + 1) % ringBufferSize
	if b.ringIdx == 0 {
		b.ringFilled = true
	}

	listeners := make([]Listener, 0, len(b.byType[ev.Type])+len(b.global))
	for _, s := range b.byType[ev.Type] {
		listeners = append(listeners, s.fn)
	}
	for _, s := range b.global {
		listeners = append(listeners, s.fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		go b.dispatch(fn, ev)
	}
}

// dispatch invokes fn, swallowing any panic with a log line so one
// misbehaving listener never takes down another or the emitter (spec
// 4.14's "listener exceptions are swallowed with a log line").
func (b *Bus) dispatch(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Log.Errorf("[EventBus] listener panicked for event %s: %v", ev.Type, r)
		}
	}()
	fn(ev)
}

// Recent returns up to the last ringBufferSize published events, oldest
// first, for a subscriber that just joined and wants recent history.
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.ringFilled {
		out := make([]Event, b.ringIdx)
		copy(out, b.ring[:b.ringIdx])
		return out
	}
	out := make([]Event, ringBufferSize)
	copy(out, b.ring[b.ringIdx:])
	copy(out[ringBufferSize-b.ringIdx:], b.ring[:b.ringIdx])
	return out
}

// Close shuts down the underlying watermill transport. Existing Listener
// subscriptions are left registered; Publish continues to work afterward
// since delivery to Listener does not depend on the transport being open.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
