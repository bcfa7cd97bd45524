// Package clock provides an injectable time source so decay scoring,
// WAL timestamps, and lock staleness checks are deterministically
// testable without sleeping real time.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. [Real] wraps [time.Now]; [Manual] is
// a settable clock for tests that need to simulate elapsed time (for
// example, advancing past a decay half-life).
type Clock interface {
	Now() time.Time
}

// Real is a [Clock] backed by [time.Now].
type Real struct{}

// Now returns the current wall-clock time in UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// Manual is a [Clock] whose value only changes when explicitly set or
// advanced. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a [Manual] clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the current value of the manual clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = t.UTC()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)
}

var _ Clock = Real{}
var _ Clock = (*Manual)(nil)
