package stream

import (
	"github.com/google/uuid"
)

// WildcardTopic receives every dispatched event in addition to the exact
// channel's own handlers.
const WildcardTopic = "*"

type handlerEntry struct {
	id uuid.UUID
	fn Handler
}

// dispatcher fans decoded events out to per-topic handler lists and the
// wildcard list. Handler registration is independent of subscription
// reference counting: a caller may observe a topic without holding it alive,
// or hold it alive without observing it. Owned by the actor goroutine.
type dispatcher struct {
	handlers map[string][]handlerEntry
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[string][]handlerEntry)}
}

// add registers a handler for a topic and returns its registration id.
func (d *dispatcher) add(topic string, fn Handler) uuid.UUID {
	id := uuid.New()
	d.handlers[topic] = append(d.handlers[topic], handlerEntry{id: id, fn: fn})
	return id
}

// remove drops one registration from a topic's handler list.
func (d *dispatcher) remove(topic string, id uuid.UUID) {
	entries := d.handlers[topic]
	for i, entry := range entries {
		if entry.id == id {
			d.handlers[topic] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(d.handlers[topic]) == 0 {
		delete(d.handlers, topic)
	}
}

// dispatch delivers an event to the exact channel's handlers first, then to
// the wildcard handlers. Synthetic bootstrap traffic (the state snapshot
// replayed to a fresh registration) sets wildcard=false so wildcard
// consumers only ever see real transitions.
func (d *dispatcher) dispatch(ev Event, wildcard bool) {
	for _, entry := range d.handlers[ev.Channel] {
		safeInvoke(entry.fn, ev)
	}
	if !wildcard || ev.Channel == WildcardTopic {
		return
	}
	for _, entry := range d.handlers[WildcardTopic] {
		safeInvoke(entry.fn, ev)
	}
}

// safeInvoke isolates a misbehaving handler: one panic must not prevent
// delivery to the handlers behind it.
func safeInvoke(fn Handler, ev Event) {
	defer func() {
		_ = recover()
	}()
	fn(ev)
}
