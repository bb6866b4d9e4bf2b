package session

import (
	"sync"

	"rental-portal/internal/identity"
)

type staticSource struct {
	identity *identity.Identity
}

// Static reports a single identity, or signed out for nil. Used for a request
// whose session cookie has already been decoded.
func Static(id *identity.Identity) Source {
	return staticSource{identity: id}
}

func (s staticSource) Watch(fn func(*identity.Identity)) func() {
	fn(s.identity)
	return func() {}
}

// Hub is a Source whose identity can change, such as a long-lived
// connection that signs in or out.
type Hub struct {
	mu       sync.Mutex
	current  *identity.Identity
	watchers map[uint64]func(*identity.Identity)
	next     uint64
}

func NewHub(initial *identity.Identity) *Hub {
	return &Hub{
		current:  initial,
		watchers: make(map[uint64]func(*identity.Identity)),
	}
}

func (h *Hub) Watch(fn func(*identity.Identity)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.watchers[id] = fn
	current := h.current
	h.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.watchers, id)
			h.mu.Unlock()
		})
	}
}

// Set publishes a new identity to every watcher.
func (h *Hub) Set(id *identity.Identity) {
	h.mu.Lock()
	h.current = id
	watchers := make([]func(*identity.Identity), 0, len(h.watchers))
	for _, fn := range h.watchers {
		watchers = append(watchers, fn)
	}
	h.mu.Unlock()

	for _, fn := range watchers {
		fn(id)
	}
}

// Watchers returns the number of active watchers.
func (h *Hub) Watchers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}
