package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy is an exponential backoff schedule.
type RetryPolicy struct {
	// Attempts caps the number of calls, the first included. Values below
	// one mean a single call.
	Attempts int

	// Base is the pause after the first failure. Each further pause is
	// Multiplier times longer, up to Cap when Cap is set.
	Base       time.Duration
	Cap        time.Duration
	Multiplier float64

	// Jitter spreads each pause by up to this fraction in either direction.
	Jitter float64

	// ShouldRetry overrides IsTransient.
	ShouldRetry func(error) bool

	// Notify runs before each pause. attempt counts the calls made so far.
	Notify func(attempt int, err error, wait time.Duration)
}

// DefaultRetry suits remote model calls.
var DefaultRetry = RetryPolicy{
	Attempts:   3,
	Base:       time.Second,
	Cap:        30 * time.Second,
	Multiplier: 2,
	Jitter:     0.1,
}

// NoRetry makes a single call.
var NoRetry = RetryPolicy{Attempts: 1}

// Pause returns the wait after the given failed attempt, before jitter.
func (p RetryPolicy) Pause(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Base) * math.Pow(mult, float64(attempt-1))
	if p.Cap > 0 && d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	return time.Duration(d)
}

func (p RetryPolicy) jittered(attempt int) time.Duration {
	d := p.Pause(attempt)
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return time.Duration(float64(d) + spread*(2*rand.Float64()-1))
}

// ExhaustedError is returned when every attempt failed transiently.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retry calls fn until it succeeds or fails with an error the policy does
// not retry. Errors fn returns are passed through unchanged, except that
// running out of attempts wraps the last one in *ExhaustedError. A done ctx
// stops the loop with ctx.Err().
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	attempts := max(p.Attempts, 1)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !shouldRetry(err) {
			return zero, err
		}
		if attempt == attempts {
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}

		wait := p.jittered(attempt)
		if p.Notify != nil {
			p.Notify(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
