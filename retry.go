package gamecore

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff up to 5 retries.
// If retries are exhausted, gaveUpTask is invoked (when not nil) and the final error is returned.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(1 * time.Second)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), task); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// RetryConstant executes task with a constant backoff between attempts, up to
// maxRetries retries. It is used where contention is short-lived and a flat
// wait performs better than a growing one, e.g. raid attack version conflicts.
func RetryConstant(ctx context.Context, interval time.Duration, maxRetries uint64, task func(ctx context.Context) error) error {
	b := retry.NewConstant(interval)
	return retry.Do(ctx, retry.WithMaxRetries(maxRetries, b), task)
}

// RetryableError marks err as retryable for the Retry/RetryConstant helpers.
func RetryableError(err error) error {
	return retry.RetryableError(err)
}

// ShouldRetry reports whether the error is retryable (non-nil and not a known permanent failure).
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	// Context cancellations/timeouts are permanent from the caller's POV.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Validation and not-found failures do not clear up on their own.
	switch CodeOf(err) {
	case Validation, NotFound:
		return false
	}
	return true
}
