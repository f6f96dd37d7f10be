// Package retry is the single bounded-attempts/jittered-backoff helper
// shared by every contention-prone write path.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultAttempts bounds conflict retries on transactional writes.
const DefaultAttempts = 3

// DefaultInitialDelay seeds the exponential backoff between attempts.
const DefaultInitialDelay = 25 * time.Millisecond

// Permanent marks err as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op up to attempts times with jittered exponential delay,
// starting at initial. The last error is returned when attempts are
// exhausted or ctx is done.
func Do[T any](ctx context.Context, attempts uint, initial time.Duration, op func() (T, error)) (T, error) {
	if attempts == 0 {
		attempts = DefaultAttempts
	}
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(attempts),
	)
}
