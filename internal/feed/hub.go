package feed

import "sync"

// Hub shares one Feed among many consumers. The first Acquire builds and
// connects the feed; the last release disconnects it.
type Hub struct {
	factory func() *Feed

	mu   sync.Mutex
	feed *Feed
	refs int
}

func NewHub(factory func() *Feed) *Hub {
	return &Hub{factory: factory}
}

// Acquire returns the shared feed and an idempotent release func.
func (h *Hub) Acquire() (*Feed, func()) {
	h.mu.Lock()
	created := h.feed == nil
	if created {
		h.feed = h.factory()
	}
	f := h.feed
	h.refs++
	h.mu.Unlock()

	// an exhausted feed gets a fresh attempt when a new consumer arrives
	if created || f.State() == StateClosed {
		f.Connect()
	}

	var once sync.Once
	return f, func() {
		once.Do(func() { h.release(f) })
	}
}

func (h *Hub) release(f *Feed) {
	h.mu.Lock()
	if h.feed != f {
		h.mu.Unlock()
		return
	}
	h.refs--
	last := h.refs == 0
	if last {
		h.feed = nil
	}
	h.mu.Unlock()

	if last {
		f.Disconnect()
	}
}

// Refs is the number of outstanding references.
func (h *Hub) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// Current returns the live feed, or nil when nobody holds a reference.
func (h *Hub) Current() *Feed {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.feed
}

// State reports the shared feed's state, or StateIdle when no feed is held.
func (h *Hub) State() State {
	f := h.Current()
	if f == nil {
		return StateIdle
	}
	return f.State()
}
