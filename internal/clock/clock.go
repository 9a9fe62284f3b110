// Package clock exposes the two host capabilities a fence consumes: a
// monotonic time reading and thread suspension. Production code uses Real;
// tests use Fake to drive time by hand.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	// Now returns the current instant. Values returned by Real carry Go's
	// monotonic reading, so comparisons are immune to wall clock steps.
	Now() time.Time
	// Sleep suspends the caller for at least d. d <= 0 returns immediately.
	Sleep(d time.Duration)
	// After delivers the current time on the returned channel once d has
	// elapsed. It backs waits that must also watch a context.
	After(d time.Duration) <-chan time.Time
}

func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// FakeClock stands still until Advance or Sleep moves it. Sleep never blocks;
// it jumps the clock forward by the requested duration and records it.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	sleeps  []time.Duration
}

func Fake(start time.Time) *FakeClock {
	return &FakeClock{current: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.current = c.current.Add(d)
	}
}

// After behaves like Sleep and hands back a channel that already holds the
// new instant.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.Sleep(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

// Advance moves the clock forward without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Sleeps returns a copy of every duration passed to Sleep, in call order.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}
