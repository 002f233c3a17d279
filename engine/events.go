package engine

import (
	"context"
	"sync"

	"github.com/sharedcode/gamecore/event"
)

// eventQueue buffers events produced during command execution. The
// executor drains it to the bus after a successful commit and discards
// it on rollback, so handlers only ever observe committed state.
type eventQueue struct {
	mu     sync.Mutex
	events []event.Event
}

type eventQueueKey struct{}

func withEventQueue(ctx context.Context) (context.Context, *eventQueue) {
	q := &eventQueue{}
	return context.WithValue(ctx, eventQueueKey{}, q), q
}

// QueueEvent records an event to publish if the enclosing command
// commits. Outside a command it is a no-op, so helpers can queue
// unconditionally.
func QueueEvent(ctx context.Context, e event.Event) {
	q, ok := ctx.Value(eventQueueKey{}).(*eventQueue)
	if !ok {
		return
	}
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

func (q *eventQueue) drain() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}
