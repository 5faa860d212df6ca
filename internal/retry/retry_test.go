package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutly/sproutly/server/internal/providers"
	"github.com/sproutly/sproutly/server/internal/retry"
)

func fastConfig(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func neverRetryable(error) bool { return false }

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := retry.Do(context.Background(), fastConfig(3), func(error) bool { return true },
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := retry.Do(context.Background(), fastConfig(3), func(error) bool { return true },
		func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("still broken")
	_, err := retry.Do(context.Background(), fastConfig(3), func(error) bool { return true },
		func(ctx context.Context) (int, error) {
			calls++
			return 0, boom
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("bad credentials")
	_, err := retry.Do(context.Background(), fastConfig(5), neverRetryable,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, fatal
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := retry.Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := retry.Do(ctx, cfg, func(error) bool { return true },
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("transient")
		})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}

func TestDoWaitsForVendorRetryAfter(t *testing.T) {
	cfg := retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second}
	rateLimited := &providers.Error{
		Provider: "claude", Code: providers.CodeRateLimit, Retryable: true,
		RetryAfter: 80 * time.Millisecond,
		Err:        errors.New("429"),
	}

	var stamps []time.Time
	_, err := retry.Do(context.Background(), cfg, providers.IsRetryable,
		func(ctx context.Context) (int, error) {
			stamps = append(stamps, time.Now())
			return 0, rateLimited
		})
	require.Error(t, err)
	require.Len(t, stamps, 2)
	// The vendor's wait wins over the millisecond backoff.
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 80*time.Millisecond)
}

func TestDoCapsVendorRetryAfterAtMaxDelay(t *testing.T) {
	cfg := retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 50 * time.Millisecond}
	rateLimited := &providers.Error{
		Provider: "openai", Code: providers.CodeRateLimit, Retryable: true,
		RetryAfter: 10 * time.Second,
		Err:        errors.New("429"),
	}

	start := time.Now()
	_, err := retry.Do(context.Background(), cfg, providers.IsRetryable,
		func(ctx context.Context) (int, error) {
			return 0, rateLimited
		})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDoPerAttemptTimeout(t *testing.T) {
	cfg := fastConfig(2)
	cfg.PerAttemptTimeout = 10 * time.Millisecond
	calls := 0
	_, err := retry.Do(context.Background(), cfg, func(error) bool { return true },
		func(ctx context.Context) (int, error) {
			calls++
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Second):
				return 1, nil
			}
		})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}
