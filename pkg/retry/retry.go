// Package retry provides the small retry policy shared by the signed request
// client and the webhook dispatcher.
package retry

import (
	"context"
	"time"
)

// Policy defines attempt and backoff bounds for a retried operation.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseBackoff time.Duration // delay before the second attempt
	MaxBackoff  time.Duration // cap on the exponential backoff
}

// DefaultPolicy returns the default policy: 3 attempts, exponential backoff
// starting at 250ms and capped at 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseBackoff: 250 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Backoff returns the delay to wait after the given zero-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff << uint(attempt)
	if d > p.MaxBackoff || d <= 0 {
		d = p.MaxBackoff
	}
	return d
}

// Do runs fn up to MaxAttempts times, waiting between attempts. retryable
// decides whether an error is worth another attempt; a nil retryable retries
// every error. Do returns the last error, or ctx.Err() if the context ends
// first.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = fn(attempt)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
