package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds how storage conflicts are retried.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy retries three times starting at 10ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 10 * time.Millisecond}

// Retry runs fn until it stops failing with ErrSerializationFailure. Exhausted
// retries surface as ErrConcurrentModification; any other error returns immediately.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.Backoff
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
		lastErr = fn(ctx)
		if lastErr == nil || !errors.Is(lastErr, ErrSerializationFailure) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %v", ErrConcurrentModification, lastErr)
}
