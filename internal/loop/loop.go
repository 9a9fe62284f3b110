// Package loop runs a task at a capped rate, sleeping on a fence after each
// pass.
package loop

import (
	"context"
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/fence/internal/clock"
	"github.com/AlexKimmel/fence/internal/fence"
)

type Task func(ctx context.Context, iteration int) error

// Observer receives per-iteration stats. *obs.Metrics satisfies it.
type Observer interface {
	ObserveIteration(wait time.Duration, rate int64)
}

type Runner struct {
	Fence      *fence.Fence
	Task       Task
	Iterations int // 0 runs until ctx is done
	Logger     zerolog.Logger
	Observer   Observer
	Clock      clock.Clock // measures waits; give it the Fence's clock. nil means clock.Real()
}

// Run calls Task, then waits on Fence, until ctx ends, Iterations passes
// complete, or Task fails. It returns the number of completed passes.
// A cancelled context is a normal stop and yields a nil error.
func (r *Runner) Run(ctx context.Context) (int, error) {
	rate := ratecounter.NewRateCounter(time.Second)
	clk := r.Clock
	if clk == nil {
		clk = clock.Real()
	}
	done := 0

	for r.Iterations <= 0 || done < r.Iterations {
		if ctx.Err() != nil {
			break
		}
		if err := r.Task(ctx, done); err != nil {
			return done, errors.Wrapf(err, "iteration %d", done)
		}
		done++
		rate.Incr(1)

		start := clk.Now()
		if err := r.Fence.SleepContext(ctx); err != nil {
			break
		}
		wait := clk.Now().Sub(start)

		if r.Observer != nil {
			r.Observer.ObserveIteration(wait, rate.Rate())
		}
		r.Logger.Debug().
			Int("iteration", done).
			Dur("wait", wait).
			Int64("rate", rate.Rate()).
			Msg("tick")
	}

	r.Logger.Info().Int("iterations", done).Msg("loop stopped")
	return done, nil
}
