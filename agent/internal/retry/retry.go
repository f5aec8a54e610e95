package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy describes how long to wait between attempts and when to give up.
type Policy struct {
	// Interval is the wait after the first failure.
	Interval time.Duration

	// Multiplier grows the wait after each failure. Values <= 1 keep it constant.
	Multiplier float64

	// MaxInterval caps the wait. Zero means no cap.
	MaxInterval time.Duration

	// MaxAttempts bounds the total number of calls. Zero retries forever.
	MaxAttempts int

	// Jitter spreads each wait by ±Jitter fraction (0.25 = ±25%).
	Jitter float64
}

// Constant retries forever, sleeping d between attempts.
func Constant(d time.Duration) Policy {
	return Policy{Interval: d}
}

// Exponential makes at most attempts calls, starting at initial and doubling.
func Exponential(initial time.Duration, attempts int) Policy {
	return Policy{Interval: initial, Multiplier: 2, MaxAttempts: attempts}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Notify is called after each failed attempt that will be retried.
type Notify func(attempt int, err error, wait time.Duration)

// ExhaustedError is returned when MaxAttempts calls all failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls op until it returns nil, a Permanent error, the policy is
// exhausted, or ctx is cancelled. sleep and notify may be nil.
func Do(ctx context.Context, p Policy, sleep Sleeper, op func(context.Context) error, notify Notify) error {
	if sleep == nil {
		sleep = SleepContext
	}
	bo := newBackoff(p)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return &ExhaustedError{Attempts: attempt, Last: err}
		}

		wait := bo.next()
		if notify != nil {
			notify(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// backoff tracks the next wait for a Policy.
type backoff struct {
	p       Policy
	current time.Duration
}

func newBackoff(p Policy) *backoff {
	return &backoff{p: p, current: p.Interval}
}

// next returns the current wait and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	if b.p.Jitter > 0 {
		jitter := time.Duration(float64(b.current) * b.p.Jitter * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
		d += jitter
		if d < 0 {
			d = 0
		}
	}

	if b.p.Multiplier > 1 {
		b.current = time.Duration(float64(b.current) * b.p.Multiplier)
		if b.p.MaxInterval > 0 && b.current > b.p.MaxInterval {
			b.current = b.p.MaxInterval
		}
	}
	return d
}
