package resilience

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryPolicy retries an operation with bounded exponential backoff.
// It is independent of the circuit breaker; callers compose the two.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
}

// DefaultRetryPolicy mirrors the knobs used for last-resort provider recovery.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Factor:     2,
	}
}

// RetryError wraps the last error after all attempts were exhausted.
type RetryError struct {
	Context  string
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Context, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Delay returns the backoff before retry attempt n (n >= 1).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(n-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retry runs op up to MaxRetries+1 times, sleeping Delay(n) before retry n.
// The first success wins; if every attempt fails the last error is returned
// wrapped with the attempt count and label for diagnostics.
func Retry[T any](ctx context.Context, p RetryPolicy, label string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Delay(attempt)):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err
	}
	return zero, &RetryError{Context: label, Attempts: attempts, Err: lastErr}
}
