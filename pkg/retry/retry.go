// Package retry wraps potentially-transient operations with bounded retries
// and exponential backoff. It provides retry orchestration only: callers
// must not assume a failed operation was not partially applied.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/bijux/bijux-cli/pkg/core"
)

// JitterMode selects how the computed backoff delay is randomized.
type JitterMode string

const (
	// JitterNone sleeps for the exact computed delay.
	JitterNone JitterMode = "none"

	// JitterFull draws the sleep uniformly from [0, delay].
	JitterFull JitterMode = "full"
)

// Policy governs attempt count, backoff, and jitter for one call site. It is
// a value object, constructed per call site and never mutated.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// Multiplier grows the delay per attempt: BaseDelay * Multiplier^(n-1).
	Multiplier float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Jitter selects the randomization applied to each computed delay.
	Jitter JitterMode

	// Retryable decides whether a failure is worth another attempt. Nil
	// selects core.IsRetryable; validation and usage errors are never
	// retried.
	Retryable func(error) bool
}

// DefaultPolicy is a conservative policy for local transient failures.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    2 * time.Second,
		Jitter:      JitterNone,
	}
}

// ExhaustedError reports that every attempt failed. It carries the last
// error and the attempt count.
type ExhaustedError struct {
	// Attempts is the number of attempts made.
	Attempts int

	// Last is the error from the final attempt.
	Last error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the final attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// sleep is swapped by tests to avoid real delays.
var sleep = sleepContext

// Do runs op under the policy. The attempt count starts at 1. Cancellation
// is checked before each attempt and before each sleep; a cancelled
// operation fails Cancelled, never ExhaustedError.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if policy.MaxAttempts < 1 {
		return zero, core.NewValidationError(
			fmt.Sprintf("retry policy requires at least one attempt, got %d", policy.MaxAttempts), nil)
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = core.IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, core.NewCancelledError("operation cancelled", err)
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if core.IsCancelled(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, core.NewCancelledError("operation cancelled", err)
		}
		lastErr = err

		if !retryable(err) || attempt == policy.MaxAttempts {
			break
		}

		delay := Delay(policy, attempt)
		if err := sleep(ctx, delay); err != nil {
			return zero, core.NewCancelledError("operation cancelled during backoff", err)
		}
	}

	exhausted := &ExhaustedError{Attempts: policy.MaxAttempts, Last: lastErr}
	if !retryable(lastErr) {
		// A permanent failure surfaces as-is rather than as exhaustion.
		return zero, lastErr
	}
	return zero, core.NewInternalError("retries exhausted", exhausted).
		WithFailure(core.FailRetryExhausted)
}

// Delay computes the backoff before the attempt that follows the given one,
// jitter included: min(MaxDelay, BaseDelay * Multiplier^(attempt-1)).
func Delay(policy Policy, attempt int) time.Duration {
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := time.Duration(float64(policy.BaseDelay) * math.Pow(multiplier, float64(attempt-1)))
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if delay < 0 {
		delay = policy.MaxDelay
	}
	if policy.Jitter == JitterFull && delay > 0 {
		delay = time.Duration(rand.Int63n(int64(delay) + 1))
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
