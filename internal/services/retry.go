package services

import (
	"context"
	"time"

	"function-ticketing-platform/internal/models"
)

// RetryPolicy retries transient provider failures with exponential backoff.
// The caller keeps the idempotency key fixed across attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// OnRetry is called before each new attempt
	OnRetry func(op string, attempt int, err error)
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// attempts are used up or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil || !models.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(op, attempt, err)
		}

		delay := p.BaseDelay * time.Duration(1<<(attempt-1))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}

	return err
}
