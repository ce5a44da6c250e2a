package task

import (
	"context"
	"errors"
	"time"
)

// Task is a mission behavior driven one tick at a time.
type Task interface {
	Activate()
	// Update advances one tick. It reports false when the task is inactive.
	Update(dt float64) bool
	IsComplete() bool
	// Close deactivates the task and restores anything it changed. It is
	// safe to call more than once.
	Close() bool
}

// Hook observes or feeds a tick. Before hooks run ahead of Update, After
// hooks run once it returns.
type Hook func(tick uint64, dt float64)

type Runner struct {
	Task   Task
	RateHz float64
	// MaxTicks stops the loop after that many updates. Zero runs until the
	// context ends or the task completes.
	MaxTicks uint64
	Before   []Hook
	After    []Hook
	Clock    Clock
}

func (r *Runner) Period() time.Duration {
	if r.RateHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / r.RateHz)
}

// Run activates the task, updates it on a fixed-rate ticker and closes it
// on exit.
func (r *Runner) Run(ctx context.Context) (uint64, error) {
	period := r.Period()
	if period <= 0 {
		return 0, errors.New("task runner: rate_hz must be > 0")
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	return r.run(ctx, ticker.C)
}

func (r *Runner) run(ctx context.Context, ticks <-chan time.Time) (uint64, error) {
	if r.Task == nil {
		return 0, errors.New("task runner: no task")
	}
	clk := r.Clock
	if clk == nil {
		clk = Monotonic{}
	}

	r.Task.Activate()
	defer r.Task.Close()

	last := clk.Now()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return n, nil
		case <-ticks:
		}

		now := clk.Now()
		dt := (now - last).Seconds()
		last = now
		n++

		for _, h := range r.Before {
			h(n, dt)
		}
		r.Task.Update(dt)
		for _, h := range r.After {
			h(n, dt)
		}

		if r.Task.IsComplete() {
			return n, nil
		}
		if r.MaxTicks > 0 && n >= r.MaxTicks {
			return n, nil
		}
	}
}
