package mocks

import (
	"sync"
	"time"

	"surf/internal/agent/ports"
)

// FakeClock is a deterministic Clock. After records the requested duration,
// advances the clock by it, and returns an already-fired channel, so code
// that sleeps in backoff loops runs instantly under test while the test can
// still assert the exact delays that would have been slept.
//
// Do not pair it with components that poll After in a loop (the snapshot
// sweeper); those spin hot against an auto-firing timer.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFakeClock starts the clock at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	fireAt := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- fireAt
	return ch
}

// Advance moves the clock forward without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns every duration passed to After, in order.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

var _ ports.Clock = (*FakeClock)(nil)
