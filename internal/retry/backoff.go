package retry

import (
	"context"
	"time"
)

// Backoff retries an operation with exponential delays. The delay
// before retry n (0-based) is Base * 2^n, so a run with MaxAttempts
// attempts waits for Base*2^0 .. Base*2^(MaxAttempts-2) in total.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

// Default retry parameters for templated service calls.
const (
	DefaultBase        = time.Second
	DefaultMaxAttempts = 3
)

// New returns a Backoff, substituting defaults for non-positive values.
func New(base time.Duration, maxAttempts int) Backoff {
	if base <= 0 {
		base = DefaultBase
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Backoff{Base: base, MaxAttempts: maxAttempts}
}

// Retry executes op up to MaxAttempts times. Errors for which
// retryable returns false are returned immediately; the last error is
// returned once attempts are exhausted.
func (b Backoff) Retry(ctx context.Context, op func() error, retryable func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == b.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Delay(attempt)):
		}
	}

	return lastErr
}

// Delay returns the wait before retry attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	return b.Base << uint(attempt)
}

// TotalWait returns the sum of all delays a fully exhausted run incurs.
func (b Backoff) TotalWait() time.Duration {
	var total time.Duration
	for i := 0; i < b.MaxAttempts-1; i++ {
		total += b.Delay(i)
	}
	return total
}
