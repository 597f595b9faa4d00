// Package debounce suppresses bursts of change notifications.
package debounce

import (
	"sync"
	"time"
)

// DefaultThreshold is the minimum interval between two accepted changes.
const DefaultThreshold = time.Second

// Gate accepts a change only when at least Threshold has passed since the
// previously accepted one. The zero time means nothing was accepted yet.
type Gate struct {
	threshold time.Duration
	now       func() time.Time

	mu   sync.Mutex
	last time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New creates a gate. A non-positive threshold uses DefaultThreshold.
func New(threshold time.Duration, opts ...Option) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	g := &Gate{
		threshold: threshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allow reports whether a change observed now passes the gate, recording it if so.
// The recorded timestamp never moves backwards.
func (g *Gate) Allow() bool {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.last.IsZero() {
		if now.Before(g.last) {
			return false
		}
		if now.Sub(g.last) < g.threshold {
			return false
		}
	}

	g.last = now
	return true
}

// Last returns the time of the last accepted change.
func (g *Gate) Last() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Threshold returns the configured interval.
func (g *Gate) Threshold() time.Duration {
	return g.threshold
}
