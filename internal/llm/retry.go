package llm

import (
	"context"
	"log"
	"time"
)

// RetryPolicy bounds repeated attempts against a flaky provider: a fixed
// number of attempts with a fixed delay between them. Only connection-level
// failures are retried; see isRetryable.
type RetryPolicy struct {
	Attempts int           // Total attempts including the first (minimum 1)
	Delay    time.Duration // Fixed delay between attempts
}

// DefaultRetryPolicy matches the provider call policy: 3 attempts, 2 seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 2 * time.Second}
}

// do runs fn up to p.Attempts times, sleeping p.Delay between attempts on
// retryable errors. The caller's context aborts the wait as well as the call.
func (p RetryPolicy) do(ctx context.Context, operation string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		log.Printf("Warning: %s attempt %d/%d failed: %v (retrying in %s)",
			operation, attempt, attempts, err, p.Delay)
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
