package poolcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrDexDown is returned without calling the venue while it is marked down.
	ErrDexDown = errors.New("dex marked down")
	// ErrExhausted wraps the last failure once every attempt has failed.
	ErrExhausted = errors.New("retries exhausted")
)

const rateLimitPenalty = time.Second

// RetryOptions tune the retry policy.
type RetryOptions struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	DownTTL      time.Duration `mapstructure:"down_ttl"`
}

// DefaultRetryOptions: 3 attempts, 1s base delay, 5 minutes down.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{MaxRetries: 3, InitialDelay: time.Second, DownTTL: DefaultDownTTL}
}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier runs venue calls with exponential backoff and marks venues down
// after repeated failure.
type Retrier struct {
	opts    RetryOptions
	breaker *Breaker
	sleep   SleepFunc
	logger  zerolog.Logger
}

// NewRetrier builds a retrier. A nil sleep waits on real timers.
func NewRetrier(opts RetryOptions, breaker *Breaker, sleep SleepFunc, logger zerolog.Logger) *Retrier {
	def := DefaultRetryOptions()
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = def.InitialDelay
	}
	if breaker == nil {
		breaker = NewBreaker(opts.DownTTL, nil)
	}
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Retrier{
		opts:    opts,
		breaker: breaker,
		sleep:   sleep,
		logger:  logger.With().Str("component", "retrier").Logger(),
	}
}

// Breaker exposes the down-venue tracker.
func (r *Retrier) Breaker() *Breaker { return r.breaker }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as a definitive answer. Do returns it unwrapped on the
// first attempt without sleeping or counting it against the venue.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// rateLimited matches errors that carry an HTTP 429.
func rateLimited(err error) bool {
	var rl interface{ RateLimited() bool }
	return errors.As(err, &rl) && rl.RateLimited()
}

// Do calls fn up to MaxRetries times for dex.
//
// Errors wrapped with Permanent are returned at once.
// A 429 waits delay*2^attempt plus one second before the next attempt. Any
// other failure waits delay*2^attempt, except after the last attempt. When
// all attempts fail the venue is marked down and ErrExhausted is returned.
func Do[T any](ctx context.Context, r *Retrier, dex string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if until, down := r.breaker.Until(dex); down {
		return zero, fmt.Errorf("%s until %s: %w", dex, until.Format(time.RFC3339), ErrDexDown)
	}

	max := r.opts.MaxRetries
	var lastErr error
	for attempt := 0; attempt < max; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		wait := r.opts.InitialDelay * time.Duration(1<<attempt)
		if rateLimited(err) {
			wait += rateLimitPenalty
			r.logger.Warn().Str("dex", dex).Int("attempt", attempt+1).Dur("wait", wait).Msg("rate limited")
		} else {
			r.logger.Debug().Err(err).Str("dex", dex).Int("attempt", attempt+1).Msg("fetch failed")
			if attempt >= max-1 {
				break
			}
		}
		if err := r.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	until := r.breaker.MarkDown(dex)
	r.logger.Error().Err(lastErr).Str("dex", dex).Time("until", until).Msg("dex marked down")
	return zero, fmt.Errorf("%s after %d attempts: %w: %w", dex, max, ErrExhausted, lastErr)
}
