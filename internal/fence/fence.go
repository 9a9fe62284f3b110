// Package fence provides a timed gate that enforces a minimum spacing between
// successive events. It is meant to sit at the end of a loop to cap its
// iteration rate, e.g. a render loop or a polling loop.
//
//	f := fence.FromMillis(16)
//	for {
//		draw()
//		f.Sleep()
//	}
//
// A Fence behaves as if an event had just happened when it was built: the
// first Sleep waits, and the first Allow is denied, for about one interval.
package fence

import (
	"context"
	"math"
	"time"

	"github.com/AlexKimmel/fence/internal/clock"
)

// Fence is not safe for concurrent use. Wrap it with NewLocked when more
// than one goroutine drives the same gate.
type Fence struct {
	clk      clock.Clock
	interval time.Duration
	next     time.Time // watermark: earliest instant the gate opens
}

type Option func(*Fence)

// WithClock replaces the host clock, for testing.
func WithClock(c clock.Clock) Option {
	return func(f *Fence) {
		f.clk = c
	}
}

// FromSecs and FromMillis saturate at the longest representable
// time.Duration instead of wrapping.
func FromSecs(s uint64, opts ...Option) *Fence {
	return FromDuration(scale(s, time.Second), opts...)
}

func FromMillis(m uint64, opts ...Option) *Fence {
	return FromDuration(scale(m, time.Millisecond), opts...)
}

func scale(n uint64, unit time.Duration) time.Duration {
	if n > uint64(math.MaxInt64)/uint64(unit) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(n) * unit
}

// FromDuration builds a fence with the given interval. Negative intervals
// are treated as zero, which never blocks.
func FromDuration(d time.Duration, opts ...Option) *Fence {
	if d < 0 {
		d = 0
	}
	f := &Fence{
		clk:      clock.Real(),
		interval: d,
	}
	for _, o := range opts {
		o(f)
	}
	f.next = f.clk.Now().Add(f.interval)
	return f
}

func (f *Fence) Interval() time.Duration { return f.interval }

// Next returns the instant at which the gate opens.
func (f *Fence) Next() time.Time { return f.next }

// Ready reports whether the gate is open right now without re-arming it.
func (f *Fence) Ready() bool {
	return !f.clk.Now().Before(f.next)
}

// Sleep blocks until the gate opens, then re-arms it one interval after the
// moment the wait ended. Time spent by the caller beyond the interval is not
// paid back: a late call returns at once and re-arms from now.
func (f *Fence) Sleep() {
	now := f.clk.Now()
	if now.Before(f.next) {
		f.clk.Sleep(f.next.Sub(now))
	}
	f.next = f.clk.Now().Add(f.interval)
}

// SleepContext is Sleep with an exit: if ctx ends before the gate opens it
// returns ctx.Err() and leaves the gate armed as it was.
func (f *Fence) SleepContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := f.clk.Now()
	if now.Before(f.next) {
		select {
		case <-f.clk.After(f.next.Sub(now)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.next = f.clk.Now().Add(f.interval)
	return nil
}

// Allow reports whether the gate is open. On true the gate is re-armed from
// the instant sampled for the check; on false nothing changes, so callers can
// probe as often as they like without pushing the opening back.
func (f *Fence) Allow() bool {
	now := f.clk.Now()
	if now.Before(f.next) {
		return false
	}
	f.next = now.Add(f.interval)
	return true
}
