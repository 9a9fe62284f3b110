package fence

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AlexKimmel/fence/internal/clock"
)

func TestLockedAllowOpensOncePerInterval(t *testing.T) {
	c := clock.Fake(epoch)
	l := NewLocked(FromMillis(10, WithClock(c)))
	c.Advance(10 * time.Millisecond)

	var opened atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow() {
				opened.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
	assert.Equal(t, epoch.Add(20*time.Millisecond), l.Next())
}

func TestLockedSleepersPassOneIntervalApart(t *testing.T) {
	d := 5 * time.Millisecond
	l := NewLocked(FromDuration(d))
	before := time.Now()

	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Sleep()
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(before), workers*d)
	assert.Equal(t, d, l.Interval())
}

func TestLockedSleepContext(t *testing.T) {
	c := clock.Fake(epoch)
	l := NewLocked(FromMillis(3, WithClock(c)))

	assert.NoError(t, l.SleepContext(context.Background()))
	assert.Equal(t, []time.Duration{3 * time.Millisecond}, c.Sleeps())
}

func TestLockedQueuedSleeperSeesDeadline(t *testing.T) {
	l := NewLocked(FromSecs(2))

	holderCtx, stopHolder := context.WithCancel(context.Background())
	holding := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		close(holding)
		holderDone <- l.SleepContext(holderCtx)
	}()
	<-holding
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.SleepContext(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	stopHolder()
	assert.ErrorIs(t, <-holderDone, context.Canceled)
}

func TestLockedReleasesSlotAfterCancel(t *testing.T) {
	c := clock.Fake(epoch)
	l := NewLocked(FromMillis(10, WithClock(c)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.SleepContext(ctx), context.Canceled)

	c.Advance(10 * time.Millisecond)
	assert.True(t, l.Allow())
	assert.NoError(t, l.SleepContext(context.Background()))
}
