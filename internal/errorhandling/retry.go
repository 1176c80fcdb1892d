package errorhandling

import (
	"context"
	"time"

	"mcpconnect/pkg/logging"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 2

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
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

type retryOptions struct {
	maxRetries int
	sleep      Sleeper
}

// RetryOption configures ExecuteWithRetry.
type RetryOption func(*retryOptions)

// WithMaxRetries sets the number of retries after the first attempt.
// Negative values are treated as zero.
func WithMaxRetries(n int) RetryOption {
	return func(o *retryOptions) {
		if n < 0 {
			n = 0
		}
		o.maxRetries = n
	}
}

// WithSleeper replaces the delay function, mainly for tests.
func WithSleeper(s Sleeper) RetryOption {
	return func(o *retryOptions) { o.sleep = s }
}

// Backoff is the default delay after the given failed attempt (1-based):
// one second, doubling each time.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Second << (attempt - 1)
}

// ExecuteWithRetry runs op up to 1+maxRetries times. Between attempts it
// waits for the classifier's RetryAfter, or Backoff when none is given. It
// stops at once on fatal or non-retryable errors. Failures are returned as
// an *ErrorResult, never as a bare error.
func ExecuteWithRetry[T any](ctx context.Context, ec ErrorContext, op func(ctx context.Context) (T, error), opts ...RetryOption) (T, *ErrorResult) {
	o := retryOptions{maxRetries: DefaultMaxRetries, sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		verdict := HandleError(err, ec)
		verdict.Attempts = attempt

		if verdict.IsFatal || !verdict.ShouldRetry || attempt > o.maxRetries {
			logging.Debug("ErrorHandling", "%s failed after %d attempt(s): %v", opName(ec), attempt, err)
			return zero, verdict
		}

		delay := verdict.RetryAfter
		if delay <= 0 {
			delay = Backoff(attempt)
		}
		logging.Debug("ErrorHandling", "%s attempt %d failed, retrying in %s: %v", opName(ec), attempt, delay, err)

		if err := o.sleep(ctx, delay); err != nil {
			cancelled := HandleError(err, ec)
			cancelled.Attempts = attempt
			cancelled.IsFatal = true
			cancelled.ShouldRetry = false
			return zero, cancelled
		}
	}
}

func opName(ec ErrorContext) string {
	if ec.Operation != "" {
		return ec.Operation
	}
	return "operation"
}
