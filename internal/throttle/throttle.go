// Package throttle implements per-key leading-edge throttling: the first
// call for a key passes, later calls are dropped until the interval has
// elapsed since the last call that passed. Dropped calls are never replayed.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the per-symbol window used by client sessions.
const DefaultInterval = 500 * time.Millisecond

type Throttle struct {
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type Option func(*Throttle)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) {
		t.now = now
	}
}

func New(interval time.Duration, opts ...Option) *Throttle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Throttle{
		interval: interval,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Allow reports whether a call for key should be forwarded now. A burst of
// one token refills fully exactly when interval has passed since the last
// accepted call.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[key] = lim
	}
	return lim.AllowN(t.now(), 1)
}

// Wrap returns a function that calls emit only when Allow(key) passes.
func (t *Throttle) Wrap(key string, emit func()) func() {
	return func() {
		if t.Allow(key) {
			emit()
		}
	}
}

// Keys returns the number of keys seen so far.
func (t *Throttle) Keys() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

// Gate builds a typed throttled callback keyed by keyFn(v).
func Gate[T any](t *Throttle, keyFn func(T) string, emitFn func(T)) func(T) {
	return func(v T) {
		if t.Allow(keyFn(v)) {
			emitFn(v)
		}
	}
}
