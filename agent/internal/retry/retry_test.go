package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Sleeper that records requested waits without sleeping.
type recorder struct {
	waits []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func (r *recorder) total() time.Duration {
	var sum time.Duration
	for _, w := range r.waits {
		sum += w
	}
	return sum
}

// failTimes returns an op that fails n times, then succeeds.
func failTimes(n int) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= n {
			return errors.New("connection refused")
		}
		return nil
	}, &calls
}

func TestDo_ConstantRetriesUntilSuccess(t *testing.T) {
	rec := &recorder{}
	op, calls := failTimes(3)

	var notified []int
	err := Do(context.Background(), Constant(5*time.Second), rec.sleep, op, func(attempt int, _ error, wait time.Duration) {
		notified = append(notified, attempt)
		assert.Equal(t, 5*time.Second, wait)
	})

	require.NoError(t, err)
	assert.Equal(t, 4, *calls)
	assert.Equal(t, []int{1, 2, 3}, notified)
	assert.Equal(t, 15*time.Second, rec.total())
}

func TestDo_ImmediateSuccessNeverSleeps(t *testing.T) {
	rec := &recorder{}
	op, calls := failTimes(0)

	require.NoError(t, Do(context.Background(), Constant(time.Minute), rec.sleep, op, nil))
	assert.Equal(t, 1, *calls)
	assert.Empty(t, rec.waits)
}

func TestDo_ExponentialExhausts(t *testing.T) {
	rec := &recorder{}
	op, calls := failTimes(100)

	err := Do(context.Background(), Exponential(time.Second, 4), rec.sleep, op, nil)

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex), "want *ExhaustedError, got %v", err)
	assert.Equal(t, 4, ex.Attempts)
	assert.Equal(t, 4, *calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.waits)
	assert.EqualError(t, errors.Unwrap(err), "connection refused")
}

func TestDo_MaxIntervalCaps(t *testing.T) {
	rec := &recorder{}
	op, _ := failTimes(5)

	p := Policy{Interval: time.Second, Multiplier: 10, MaxInterval: 30 * time.Second}
	require.NoError(t, Do(context.Background(), p, rec.sleep, op, nil))
	assert.Equal(t, []time.Duration{
		time.Second, 10 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, rec.waits)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	rec := &recorder{}
	bad := errors.New("unauthorized")
	calls := 0

	err := Do(context.Background(), Constant(time.Second), rec.sleep, func(context.Context) error {
		calls++
		return Permanent(bad)
	}, nil)

	assert.Same(t, bad, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.waits)
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Constant(time.Hour), func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}, func(context.Context) error {
		calls++
		return errors.New("down")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_JitterStaysInBounds(t *testing.T) {
	rec := &recorder{}
	op, _ := failTimes(50)

	p := Policy{Interval: 10 * time.Second, Jitter: 0.25}
	require.NoError(t, Do(context.Background(), p, rec.sleep, op, nil))
	for _, w := range rec.waits {
		assert.GreaterOrEqual(t, w, 7500*time.Millisecond)
		assert.LessOrEqual(t, w, 12500*time.Millisecond)
	}
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
