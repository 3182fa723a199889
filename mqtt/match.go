package mqtt

import (
	"slices"
	"strings"
	"sync"

	"github.com/ilievs/edgesim/core"
)

// matchTopic reports whether topic matches filter, honouring the + and #
// wildcards. Filters starting with a wildcard never match $-prefixed topics.
func matchTopic(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

type subscription struct {
	topic   string
	qos     byte
	handler core.Handler
}

// subscriptions tracks active filters so messages can be routed to their
// handlers and filters restored after a reconnect.
type subscriptions struct {
	mu      sync.RWMutex
	entries map[string]subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{entries: make(map[string]subscription)}
}

func (s *subscriptions) add(topic string, qos byte, handler core.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[topic] = subscription{topic: topic, qos: qos, handler: handler}
}

func (s *subscriptions) remove(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[topic]
	delete(s.entries, topic)
	return ok
}

// all returns the tracked subscriptions ordered by filter.
func (s *subscriptions) all() []subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]subscription, 0, len(s.entries))
	for _, sub := range s.entries {
		out = append(out, sub)
	}
	slices.SortFunc(out, func(a, b subscription) int { return strings.Compare(a.topic, b.topic) })
	return out
}

// dispatch hands the message to every handler whose filter matches topic and
// reports how many did.
func (s *subscriptions) dispatch(topic string, payload []byte) int {
	s.mu.RLock()
	var handlers []core.Handler
	for filter, sub := range s.entries {
		if matchTopic(filter, topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(topic, payload)
	}
	return len(handlers)
}
