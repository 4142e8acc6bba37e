// Package retry provides the fixed-delay retry policy shared by the stages
// that talk to external systems.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when every attempt failed with a retryable error.
var ErrExhausted = errors.New("retries exhausted")

// Policy retries an operation a bounded number of times with a fixed delay.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration

	// Retryable decides whether an error is worth another attempt.
	// nil means every error is retryable.
	Retryable func(error) bool

	// OnRetry is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Fixed returns a policy retrying every error.
func Fixed(maxAttempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, Delay: delay}
}

// Attempts returns the effective attempt count (at least one).
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. op receives the 1-based attempt number.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := p.Attempts()

	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	var lastErr error
	err := backoff.RetryNotify(func() error {
		attempt++
		lastErr = op(attempt)
		if lastErr != nil && p.Retryable != nil && !p.Retryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, b, func(err error, _ time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if p.Retryable != nil && !p.Retryable(lastErr) {
		return lastErr
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, lastErr)
}
