package stream

import "sort"

// registry tracks how many interested parties hold each topic. A topic is
// physically subscribed on the transport iff its count is >= 1, and the
// registry is the single source of truth replayed after every reconnect.
// It is owned by the client's actor goroutine and needs no locking.
type registry struct {
	refs map[string]int
}

func newRegistry() *registry {
	return &registry{refs: make(map[string]int)}
}

// retain increments a topic's reference count and reports whether this was
// the 0->1 transition that requires a wire subscribe.
func (r *registry) retain(topic string) bool {
	r.refs[topic]++
	return r.refs[topic] == 1
}

// release decrements a topic's reference count and reports whether the count
// reached 0, which removes the entry and requires a wire unsubscribe. The
// count never goes negative.
func (r *registry) release(topic string) bool {
	count, ok := r.refs[topic]
	if !ok {
		return false
	}
	if count <= 1 {
		delete(r.refs, topic)
		return true
	}
	r.refs[topic] = count - 1
	return false
}

// count returns the current reference count for a topic.
func (r *registry) count(topic string) int {
	return r.refs[topic]
}

// topics returns every held topic in a stable order, for replay after
// reconnect.
func (r *registry) topics() []string {
	held := make([]string, 0, len(r.refs))
	for topic := range r.refs {
		held = append(held, topic)
	}
	sort.Strings(held)
	return held
}
