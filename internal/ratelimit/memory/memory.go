package memory

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AlexKimmel/fence/internal/clock"
	"github.com/AlexKimmel/fence/internal/fence"
	"github.com/AlexKimmel/fence/internal/ratelimit"
)

const DefaultMaxKeys = 10000

type Limiter struct {
	clk clock.Clock

	mu    sync.Mutex // guards lookup-or-create in gates
	gates *lru.Cache[string, *fence.Locked]
}

type Option func(*Limiter)

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		l.clk = c
	}
}

// New returns a limiter that remembers at most maxKeys keys. The least
// recently used key is forgotten first; when it comes back it gets a fresh
// fence and waits one full interval like any new key.
func New(maxKeys int, opts ...Option) (*Limiter, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	gates, err := lru.New[string, *fence.Locked](maxKeys)
	if err != nil {
		return nil, err
	}
	l := &Limiter{
		clk:   clock.Real(),
		gates: gates,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

func (l *Limiter) Close() error {
	l.gates.Purge()
	return nil
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int { return l.gates.Len() }

func (l *Limiter) gate(key string, p ratelimit.Policy) *fence.Locked {
	l.mu.Lock()
	defer l.mu.Unlock()

	// a changed policy starts the key over with a fence of the new interval
	if g, ok := l.gates.Get(key); ok && g.Interval() == p.Interval {
		return g
	}
	g := fence.NewLocked(fence.FromDuration(p.Interval, fence.WithClock(l.clk)))
	l.gates.Add(key, g)
	return g
}

func (l *Limiter) Allow(_ context.Context, key string, p ratelimit.Policy) (ratelimit.Decision, error) {
	if key == "" {
		return ratelimit.Decision{}, ratelimit.ErrEmptyKey
	}
	if p.Interval <= 0 {
		return ratelimit.Decision{Allowed: true}, nil
	}

	g := l.gate(key, p)
	allowed := g.Allow()
	next := g.Next()

	dec := ratelimit.Decision{
		Allowed:       allowed,
		Interval:      p.Interval,
		NextUnixMilli: next.UnixMilli(),
	}
	if !allowed {
		dec.RetryAfter = next.Sub(l.clk.Now())
		if dec.RetryAfter < 0 {
			dec.RetryAfter = 0
		}
	}
	return dec, nil
}

// Wait blocks until key's gate opens or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string, p ratelimit.Policy) error {
	if key == "" {
		return ratelimit.ErrEmptyKey
	}
	if p.Interval <= 0 {
		return ctx.Err()
	}
	return l.gate(key, p).SleepContext(ctx)
}
