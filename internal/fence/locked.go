package fence

import (
	"context"
	"time"
)

// Locked serializes access to a Fence. The slot is held for the whole of a
// Sleep, so concurrent sleepers pass the gate one interval apart.
type Locked struct {
	slot chan struct{} // 1-slot semaphore; a token in it means held
	f    *Fence
}

func NewLocked(f *Fence) *Locked {
	return &Locked{slot: make(chan struct{}, 1), f: f}
}

func (l *Locked) lock()   { l.slot <- struct{}{} }
func (l *Locked) unlock() { <-l.slot }

func (l *Locked) Sleep() {
	l.lock()
	defer l.unlock()
	l.f.Sleep()
}

// SleepContext watches ctx while queued behind other sleepers as well as
// while waiting on the gate itself.
func (l *Locked) SleepContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer l.unlock()
	return l.f.SleepContext(ctx)
}

func (l *Locked) Allow() bool {
	l.lock()
	defer l.unlock()
	return l.f.Allow()
}

func (l *Locked) Next() time.Time {
	l.lock()
	defer l.unlock()
	return l.f.Next()
}

func (l *Locked) Interval() time.Duration { return l.f.Interval() }
