package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/fence/internal/clock"
	"github.com/AlexKimmel/fence/internal/ratelimit"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, maxKeys int) (*Limiter, *clock.FakeClock) {
	t.Helper()
	c := clock.Fake(epoch)
	l, err := New(maxKeys, WithClock(c))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, c
}

func TestAllowNewKeyWaitsOneInterval(t *testing.T) {
	l, c := newTestLimiter(t, 10)
	p := ratelimit.Policy{Interval: time.Second}
	ctx := context.Background()

	dec, err := l.Allow(ctx, "alice", p)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, time.Second, dec.RetryAfter)
	assert.Equal(t, epoch.Add(time.Second).UnixMilli(), dec.NextUnixMilli)

	c.Advance(time.Second)
	dec, err = l.Allow(ctx, "alice", p)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Zero(t, dec.RetryAfter)
	assert.Equal(t, epoch.Add(2*time.Second).UnixMilli(), dec.NextUnixMilli)
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l, c := newTestLimiter(t, 10)
	p := ratelimit.Policy{Interval: 100 * time.Millisecond}
	ctx := context.Background()

	_, err := l.Allow(ctx, "alice", p)
	require.NoError(t, err)
	c.Advance(50 * time.Millisecond)
	_, err = l.Allow(ctx, "bob", p)
	require.NoError(t, err)

	c.Advance(50 * time.Millisecond)
	a, _ := l.Allow(ctx, "alice", p)
	b, _ := l.Allow(ctx, "bob", p)

	assert.True(t, a.Allowed)
	assert.False(t, b.Allowed)
	assert.Equal(t, 50*time.Millisecond, b.RetryAfter)
}

func TestAllowZeroIntervalAlwaysPasses(t *testing.T) {
	l, _ := newTestLimiter(t, 10)

	for i := 0; i < 3; i++ {
		dec, err := l.Allow(context.Background(), "k", ratelimit.Policy{})
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
	}
	assert.Zero(t, l.Len())
}

func TestEmptyKeyRejected(t *testing.T) {
	l, _ := newTestLimiter(t, 10)
	p := ratelimit.Policy{Interval: time.Second}

	_, err := l.Allow(context.Background(), "", p)
	assert.ErrorIs(t, err, ratelimit.ErrEmptyKey)
	assert.ErrorIs(t, l.Wait(context.Background(), "", p), ratelimit.ErrEmptyKey)
}

func TestPolicyChangeReplacesGate(t *testing.T) {
	l, c := newTestLimiter(t, 10)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "k", ratelimit.Policy{Interval: time.Second})
	c.Advance(200 * time.Millisecond)

	dec, err := l.Allow(ctx, "k", ratelimit.Policy{Interval: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.False(t, dec.Allowed, "fresh gate waits its own interval")
	assert.Equal(t, 100*time.Millisecond, dec.RetryAfter)
}

func TestLeastRecentlyUsedKeyEvicted(t *testing.T) {
	l, c := newTestLimiter(t, 2)
	p := ratelimit.Policy{Interval: 10 * time.Millisecond}
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a", p)
	_, _ = l.Allow(ctx, "b", p)
	_, _ = l.Allow(ctx, "c", p)
	assert.Equal(t, 2, l.Len())

	c.Advance(10 * time.Millisecond)
	dec, _ := l.Allow(ctx, "a", p)
	assert.False(t, dec.Allowed, "evicted key starts over")
	dec, _ = l.Allow(ctx, "c", p)
	assert.True(t, dec.Allowed)
}

func TestWaitBlocksUntilOpen(t *testing.T) {
	l, c := newTestLimiter(t, 10)
	p := ratelimit.Policy{Interval: 30 * time.Millisecond}

	require.NoError(t, l.Wait(context.Background(), "k", p))
	assert.Equal(t, []time.Duration{30 * time.Millisecond}, c.Sleeps())
}

func TestWaitHonoursCancelledContext(t *testing.T) {
	l, _ := newTestLimiter(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Wait(ctx, "k", ratelimit.Policy{Interval: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
	err = l.Wait(ctx, "k", ratelimit.Policy{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseForgetsKeys(t *testing.T) {
	l, _ := newTestLimiter(t, 10)
	_, _ = l.Allow(context.Background(), "k", ratelimit.Policy{Interval: time.Second})
	require.Equal(t, 1, l.Len())

	require.NoError(t, l.Close())
	assert.Zero(t, l.Len())
}

func TestLimiterSatisfiesInterface(t *testing.T) {
	var _ ratelimit.Limiter = (*Limiter)(nil)
}

func TestWaitQueuedCallerHonoursDeadline(t *testing.T) {
	l, err := New(10)
	require.NoError(t, err)
	defer l.Close()
	p := ratelimit.Policy{Interval: 2 * time.Second}

	holderCtx, stopHolder := context.WithCancel(context.Background())
	holderDone := make(chan error, 1)
	go func() { holderDone <- l.Wait(holderCtx, "k", p) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = l.Wait(ctx, "k", p)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	stopHolder()
	assert.ErrorIs(t, <-holderDone, context.Canceled)
}
