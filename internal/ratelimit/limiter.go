// Package ratelimit paces independent callers, each identified by a key,
// with one fence per key.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrEmptyKey = errors.New("ratelimit: empty key")

type Policy struct {
	Interval time.Duration // minimum spacing between allowed events; 0 disables pacing
}

type Decision struct {
	Allowed       bool
	Interval      time.Duration
	RetryAfter    time.Duration // 0 when allowed
	NextUnixMilli int64         // when the key's gate opens next
}

type Limiter interface {
	Allow(ctx context.Context, key string, p Policy) (Decision, error)
	Wait(ctx context.Context, key string, p Policy) error
	Close() error
}
