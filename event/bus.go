// Package event provides the in-process event bus: synchronous fan-out in
// subscription order with a bounded history ring. Handlers run on the
// publisher's goroutine; a handler error is logged and its siblings still
// run. Ordering across commands is therefore the commit order of the
// commands that queued the events.
package event

import (
	log "log/slog"
	"sync"
	"time"
)

// Event is what travels the bus.
type Event struct {
	Topic string
	Data  map[string]any
	At    time.Time
}

// New builds an event stamped with the current time.
func New(topic string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{Topic: topic, Data: data, At: time.Now()}
}

// Handler consumes events. Returning an error never stops delivery to other
// handlers; it is logged and counted against nothing.
type Handler interface {
	Handle(e Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(e Event) error

func (f HandlerFunc) Handle(e Event) error { return f(e) }

// Subscription identifies one registration. Subscribing the same handler
// twice yields two subscriptions and two deliveries per event.
type Subscription struct {
	bus   *Bus
	topic string
	id    uint64
}

// Unsubscribe removes this registration; calling it twice or after
// ClearSubscribers is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.unsubscribe(s.topic, s.id)
	s.bus = nil
}

type registration struct {
	id uint64
	h  Handler
}

// Bus is safe for concurrent use. Handlers may publish and subscribe
// reentrantly; delivery happens outside the bus lock.
type Bus struct {
	mu           sync.Mutex
	nextID       uint64
	subscribers  map[string][]registration
	history      []Event
	historyLimit int
}

const defaultHistoryLimit = 100

// NewBus returns a bus keeping the default 100 most recent events.
func NewBus() *Bus {
	return NewBusWithHistory(defaultHistoryLimit)
}

// NewBusWithHistory returns a bus with a custom history cap. limit <= 0
// falls back to the default.
func NewBusWithHistory(limit int) *Bus {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Bus{
		subscribers:  make(map[string][]registration),
		historyLimit: limit,
	}
}

// Subscribe registers a handler for a topic and returns its subscription.
func (b *Bus) Subscribe(topic string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[topic] = append(b.subscribers[topic], registration{id: id, h: h})
	return &Subscription{bus: b, topic: topic, id: id}
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.subscribers[topic]
	for i := range regs {
		if regs[i].id == id {
			b.subscribers[topic] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Publish records the event in history, then delivers it synchronously to
// the topic's handlers in subscription order. History is appended even when
// nobody listens.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, e)
	if len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}
	regs := make([]registration, len(b.subscribers[e.Topic]))
	copy(regs, b.subscribers[e.Topic])
	b.mu.Unlock()

	for _, r := range regs {
		if err := r.h.Handle(e); err != nil {
			log.Warn("event handler failed", "topic", e.Topic, "error", err)
		}
	}
}

// SubscriberCount returns how many registrations a topic has.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[topic])
}

// ClearSubscribers drops the given topics' registrations, or every
// registration when no topic is given.
func (b *Bus) ClearSubscribers(topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(topics) == 0 {
		b.subscribers = make(map[string][]registration)
		return
	}
	for _, t := range topics {
		delete(b.subscribers, t)
	}
}

// History returns a copy of the retained events, optionally filtered to the
// given topics, oldest first.
func (b *Bus) History(topics ...string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(topics) == 0 {
		out := make([]Event, len(b.history))
		copy(out, b.history)
		return out
	}
	want := make(map[string]bool, len(topics))
	for _, t := range topics {
		want[t] = true
	}
	var out []Event
	for _, e := range b.history {
		if want[e.Topic] {
			out = append(out, e)
		}
	}
	return out
}

// ClearHistory empties the ring.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}
