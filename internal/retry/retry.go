// Package retry provides an explicit bounded-retry policy with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy returns the policy used for authentication attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the wait before the given attempt (1-based). Attempt 1 has no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := p.InitialDelay
	for i := 2; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.multiplier())
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p Policy) multiplier() float64 {
	if p.Multiplier < 1 {
		return 1
	}
	return p.Multiplier
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a Permanent error, the context is
// done, or the policy's attempts are exhausted. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if d := p.Delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return errors.Join(ctx.Err(), lastErr)
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}
