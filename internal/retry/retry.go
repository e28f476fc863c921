// Package retry provides a reusable retry-with-backoff policy for calls to
// rate-limited external services (embedding, rerank).
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrRetriesExhausted is returned when every attempt failed with a retryable error.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrInvalidMaxAttempts is returned when a policy allows no attempts at all.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")
)

// BackoffFunc returns the wait before the attempt that follows attempt.
// Attempts are numbered from 0.
type BackoffFunc func(attempt int) time.Duration

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// Backoff computes the delay after a failed attempt.
	Backoff BackoffFunc

	// Retryable reports whether an error is worth another attempt.
	// A nil predicate retries every error.
	Retryable func(error) bool

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep SleepFunc

	// Logger receives retry diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Exponential returns a BackoffFunc that waits base * 2^attempt.
func Exponential(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return base << uint(attempt)
	}
}

// DefaultPolicy retries up to 5 attempts with 2^attempt second waits.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 5,
		Backoff:     Exponential(time.Second),
		Retryable:   retryable,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, the
// context ends, or the attempts run out. A non-retryable error is returned
// as is; exhaustion wraps the last error with ErrRetriesExhausted.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Exponential(time.Second)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 0 {
				logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}

		// No wait after the final attempt
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := backoff(attempt)
		logger.Warn("operation failed, retrying", "attempt", attempt, "max_attempts", p.MaxAttempts, "delay", delay, "err", lastErr)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
