// Package retry is a bounded executor for provider calls: per-attempt
// timeout, capped exponential backoff with jitter, and a caller-supplied
// retryable predicate.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config bounds a retried operation.
type Config struct {
	// MaxAttempts is the total attempt count, including the first.
	MaxAttempts int

	// PerAttemptTimeout bounds each individual attempt. Zero disables it.
	PerAttemptTimeout time.Duration

	// BaseDelay is the delay before the second attempt; each subsequent
	// delay doubles, capped at MaxDelay, with ±20% jitter.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultConfig matches the provider-call retry budget.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// retryAfterHinter is implemented by errors that carry the vendor's own
// minimum wait before the next attempt (HTTP Retry-After). A hint
// overrides the computed backoff, capped at MaxDelay.
type retryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// Do executes op until it succeeds, fails with a non-retryable error, or
// MaxAttempts elapse. The final failure surfaces the last error. There is
// no sleep after the final attempt, and cancellation of ctx aborts the
// backoff sleep immediately.
func Do[T any](ctx context.Context, cfg Config, retryable func(error) bool, op func(context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = cfg.MaxDelay
	b.MaxElapsedTime = 0 // attempt count, not wall clock, bounds us

	var zero T
	for attempt := 1; ; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.PerAttemptTimeout)
		}
		result, err := op(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		if !retryable(err) || attempt >= cfg.MaxAttempts {
			return zero, err
		}

		delay := b.NextBackOff()
		var hinted retryAfterHinter
		if errors.As(err, &hinted) {
			if hint := hinted.RetryAfterHint(); hint > 0 {
				delay = hint
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
