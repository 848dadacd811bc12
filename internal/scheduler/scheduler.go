package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// DefaultErrorCooldown is the pause after a failed or panicking tick.
const DefaultErrorCooldown = 5 * time.Second

// TickFunc is invoked once per cycle. started is the cycle start time.
type TickFunc func(ctx context.Context, started time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Interval is the pause between the end of one cycle and the start of
	// the next.
	Interval      time.Duration
	ErrorCooldown time.Duration
	// AlignToStart waits for the next interval boundary instead of a fixed
	// delay after the cycle.
	AlignToStart bool
	StartupDelay time.Duration
}

// waitFunc blocks for d or until ctx is done.
type waitFunc func(ctx context.Context, d time.Duration) error

// Scheduler drives the fixed-delay scan loop.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
	wait   waitFunc
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.ErrorCooldown <= 0 {
		opts.ErrorCooldown = DefaultErrorCooldown
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		wait:   wait,
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run blocks, invoking tick until ctx is cancelled. A failing or panicking
// tick is logged and followed by the error cooldown; the loop itself only
// ends with the context.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := s.now()
		s.logger.Debug().Int("cycle", cycle).Time("started", started).Msg("executing scheduled tick")

		var delay time.Duration
		if err := s.safeTick(ctx, tick, started); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Int("cycle", cycle).Dur("cooldown", s.opts.ErrorCooldown).Msg("tick execution failed")
			delay = s.opts.ErrorCooldown
		} else {
			s.logger.Debug().Int("cycle", cycle).Dur("elapsed", s.now().Sub(started)).Msg("tick finished")
			delay = s.delayAfter(started)
		}

		if err := s.wait(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context, tick TickFunc, started time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("stack", string(debug.Stack())).Msg("tick panicked")
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return tick(ctx, started)
}

// delayAfter is measured once the tick has returned.
func (s *Scheduler) delayAfter(started time.Time) time.Duration {
	if !s.opts.AlignToStart {
		return s.opts.Interval
	}
	now := s.now()
	next := started.Truncate(s.opts.Interval)
	for !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next.Sub(now)
}
