package guard

import (
	"sync"
	"time"

	"github.com/Iron-Ham/groundsync/internal/clock"
)

// Default limiter values.
const (
	DefaultFlipLimit  = 5
	DefaultFlipWindow = 5 * time.Second
)

// LimiterOption configures a FlipLimiter.
type LimiterOption func(*limiterOptions)

type limiterOptions struct {
	clock clock.Clock
}

// WithClock sets the clock used to timestamp flips.
func WithClock(c clock.Clock) LimiterOption {
	return func(o *limiterOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// FlipLimiter allows at most limit events per key inside a rolling window.
type FlipLimiter[K comparable] struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	clock  clock.Clock
	flips  map[K][]time.Time
}

// NewFlipLimiter creates a limiter. Non-positive limit or window fall back
// to the defaults.
func NewFlipLimiter[K comparable](limit int, window time.Duration, opts ...LimiterOption) *FlipLimiter[K] {
	o := limiterOptions{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	if limit <= 0 {
		limit = DefaultFlipLimit
	}
	if window <= 0 {
		window = DefaultFlipWindow
	}
	return &FlipLimiter[K]{
		limit:  limit,
		window: window,
		clock:  o.clock,
		flips:  make(map[K][]time.Time),
	}
}

// Allow records a flip for key and reports true, or reports false without
// recording when key already has limit flips inside the window.
func (l *FlipLimiter[K]) Allow(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	recent := l.pruneLocked(key, now)
	if len(recent) >= l.limit {
		return false
	}
	l.flips[key] = append(recent, now)
	return true
}

// Undo forgets the newest flip recorded for key. A caller that reserved a
// flip with Allow uses it when the flip could not be carried out.
func (l *FlipLimiter[K]) Undo(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	times := l.flips[key]
	switch len(times) {
	case 0:
	case 1:
		delete(l.flips, key)
	default:
		l.flips[key] = times[:len(times)-1]
	}
}

// Count returns the number of flips for key inside the current window.
func (l *FlipLimiter[K]) Count(key K) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pruneLocked(key, l.clock.Now()))
}

// Reset forgets the flips recorded for key.
func (l *FlipLimiter[K]) Reset(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.flips, key)
}

func (l *FlipLimiter[K]) pruneLocked(key K, now time.Time) []time.Time {
	times := l.flips[key]
	i := 0
	for i < len(times) && now.Sub(times[i]) >= l.window {
		i++
	}
	if i > 0 {
		times = append(times[:0], times[i:]...)
		if len(times) == 0 {
			delete(l.flips, key)
			return nil
		}
		l.flips[key] = times
	}
	return times
}
