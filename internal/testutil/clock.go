package testutil

import (
	"sync"
	"time"
)

// DeterministicClock returns a fixed start time advanced by a fixed step on
// every call to Now.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	next  time.Time
	step  time.Duration
	calls int
}

// DefaultStart is the first instant returned by a clock created with a zero
// start time.
var DefaultStart = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// NewDeterministicClock creates a clock starting at start. A zero start
// uses DefaultStart; a zero step keeps the clock frozen.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	if start.IsZero() {
		start = DefaultStart
	}
	return &DeterministicClock{next: start, step: step}
}

// Now returns the current instant and advances the clock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.step)
	c.calls++
	return now
}

// Calls reports how many times Now has been called.
func (c *DeterministicClock) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
