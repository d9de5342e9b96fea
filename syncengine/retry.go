package syncengine

import (
	"context"
	"time"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
)

// RetryPolicy bounds internal retries of transient storage races. It is an
// explicit parameter of the engine rather than a cross-cutting wrapper so
// callers can see and tune the retry behavior.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay grows per attempt.
	Multiplier float64
}

// DefaultRetryPolicy bounds live-lock under contention without stalling a
// drain for long.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
}

type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func (eb *exponentialBackoff) nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(eb.initialDelay)
	for i := 0; i < attempt; i++ {
		delay *= eb.multiplier
	}

	result := time.Duration(delay)
	if result > eb.maxDelay {
		result = eb.maxDelay
	}
	return result
}

// withRetry runs operation, retrying retryable failures per the policy.
// The final error is returned once attempts are exhausted.
func withRetry(ctx context.Context, policy RetryPolicy, operation func() error) error {
	if policy.MaxAttempts <= 1 {
		return operation()
	}

	eb := &exponentialBackoff{
		initialDelay: policy.InitialDelay,
		maxDelay:     policy.MaxDelay,
		multiplier:   policy.Multiplier,
	}

	err := operation()
	if err == nil || !syncErrors.IsRetryable(err) {
		return err
	}

	for attempt := 1; attempt < policy.MaxAttempts; attempt++ {
		timer := time.NewTimer(eb.nextDelay(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		err = operation()
		if err == nil || !syncErrors.IsRetryable(err) {
			return err
		}
	}

	return err
}
