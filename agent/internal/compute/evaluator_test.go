package compute

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/slowatch/agent/internal/backend"
	"github.com/obsidianstack/slowatch/pkg/types"
)

// baseTime is a fixed reference point so observation timestamps are deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type staticRegistry []types.QuerySpec

func (r staticRegistry) Specs() []types.QuerySpec { return r }

type result struct {
	value float64
	err   error
}

// fakeQuerier answers by query string. delay, when set, sleeps a random
// amount up to delay so concurrent completions interleave.
type fakeQuerier struct {
	answers map[string]result
	delay   time.Duration

	mu    sync.Mutex
	calls []string
}

func (q *fakeQuerier) Query(_ context.Context, expr string) (backend.Measurement, error) {
	q.mu.Lock()
	q.calls = append(q.calls, expr)
	q.mu.Unlock()

	if q.delay > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(q.delay)))) //nolint:gosec // test jitter
	}
	r, ok := q.answers[expr]
	if !ok {
		return backend.Measurement{}, backend.ErrNoData
	}
	if r.err != nil {
		return backend.Measurement{}, r.err
	}
	return backend.Measurement{Value: r.value}, nil
}

type fakeAppender struct {
	mu   sync.Mutex
	rows []types.Observation
	err  error
}

func (a *fakeAppender) Append(_ context.Context, obs types.Observation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.rows = append(a.rows, obs)
	return nil
}

func newTestEvaluator(reg staticRegistry, q *fakeQuerier, a *fakeAppender) *Evaluator {
	e := NewEvaluator(reg, q, a)
	e.now = func() time.Time { return baseTime }
	return e
}

// Scenario A: a failure-rate target breached.
func TestEvaluate_FailureRateBreached(t *testing.T) {
	reg := staticRegistry{{Service: "svcA", Metric: "errRate", Query: "Q", TargetSLO: 0.01}}
	q := &fakeQuerier{answers: map[string]result{"Q": {value: 0.05}}}
	a := &fakeAppender{}

	rep := newTestEvaluator(reg, q, a).Evaluate(context.Background())

	assert.Equal(t, "svcA", rep.Worst.Service)
	assert.Equal(t, "errRate", rep.Worst.Metric)
	assert.InDelta(t, 0.04, rep.Worst.Delta, 1e-12)
	assert.InDelta(t, 0.05, rep.Worst.CurrentSLO, 1e-12)

	require.Len(t, a.rows, 1)
	assert.Equal(t, types.Observation{Service: "svcA", Metric: "errRate", ObservedAt: baseTime, Value: 0.05}, a.rows[0])
}

// Scenario B: an overperforming success-rate target leaves the sentinel.
func TestEvaluate_OverperformingLeavesSentinel(t *testing.T) {
	reg := staticRegistry{{Service: "svcB", Metric: "availability", Query: "Q2", TargetSLO: 0.99}}
	q := &fakeQuerier{answers: map[string]result{"Q2": {value: 0.999}}}
	a := &fakeAppender{}

	rep := newTestEvaluator(reg, q, a).Evaluate(context.Background())

	assert.True(t, rep.Worst.IsSentinel())
	require.Len(t, rep.Pairs, 1)
	assert.InDelta(t, -0.009, rep.Pairs[0].Delta, 1e-12)
	assert.Len(t, a.rows, 1, "overperforming measurements are still stored")
}

// Scenario C: an empty result is skipped without touching the store.
func TestEvaluate_NoDataSkipsWithoutAppend(t *testing.T) {
	reg := staticRegistry{
		{Service: "svcC", Metric: "m", Query: "empty", TargetSLO: 0.9},
		{Service: "svcD", Metric: "m", Query: "Q", TargetSLO: 0.9},
	}
	q := &fakeQuerier{answers: map[string]result{"Q": {value: 0.8}}}
	a := &fakeAppender{}

	rep := newTestEvaluator(reg, q, a).Evaluate(context.Background())

	assert.Equal(t, "svcD", rep.Worst.Service)
	assert.Equal(t, "no_data", rep.Pairs[0].Outcome)
	require.Len(t, a.rows, 1)
	assert.Equal(t, "svcD", a.rows[0].Service)
}

func TestEvaluate_AllFailuresGiveSentinel(t *testing.T) {
	reg := staticRegistry{
		{Service: "a", Metric: "m", Query: "down", TargetSLO: 0.9},
		{Service: "b", Metric: "m", Query: "bad", TargetSLO: 0.1},
		{Service: "c", Metric: "m", Query: "missing", TargetSLO: 0.1},
	}
	q := &fakeQuerier{answers: map[string]result{
		"down": {err: &backend.BackendError{StatusCode: 503, Err: errors.New("unavailable")}},
		"bad":  {err: &backend.MalformedResponseError{Reason: "not a number"}},
	}}
	a := &fakeAppender{}

	rep := newTestEvaluator(reg, q, a).Evaluate(context.Background())

	assert.True(t, rep.Worst.IsSentinel())
	assert.Empty(t, a.rows)
	assert.Equal(t, map[string]int{"backend_error": 1, "malformed": 1, "no_data": 1}, rep.Outcomes())
	assert.Contains(t, rep.Pairs[0].Error, "unavailable")
}

func TestEvaluate_AppendFailureDoesNotAbort(t *testing.T) {
	reg := staticRegistry{
		{Service: "a", Metric: "m", Query: "Q1", TargetSLO: 0.99},
		{Service: "b", Metric: "m", Query: "Q2", TargetSLO: 0.99},
	}
	q := &fakeQuerier{answers: map[string]result{"Q1": {value: 0.98}, "Q2": {value: 0.90}}}
	a := &fakeAppender{err: errors.New("connection reset")}

	rep := newTestEvaluator(reg, q, a).Evaluate(context.Background())

	assert.Equal(t, "b", rep.Worst.Service, "evaluation continues with the measurement")
	assert.Equal(t, 2, rep.AppendFailures())
	assert.Len(t, q.calls, 2)
}

func TestEvaluate_TieKeepsRegistryOrder(t *testing.T) {
	reg := staticRegistry{
		{Service: "first", Metric: "m", Query: "Q1", TargetSLO: 0.9},
		{Service: "second", Metric: "m", Query: "Q2", TargetSLO: 0.9},
	}
	q := &fakeQuerier{answers: map[string]result{"Q1": {value: 0.8}, "Q2": {value: 0.8}}}

	rep := newTestEvaluator(reg, q, &fakeAppender{}).Evaluate(context.Background())
	assert.Equal(t, "first", rep.Worst.Service)
}

func TestEvaluate_CustomPolicy(t *testing.T) {
	reg := staticRegistry{{Service: "a", Metric: "m", Query: "Q", TargetSLO: 0.9}}
	q := &fakeQuerier{answers: map[string]result{"Q": {value: 0.95}}}

	e := newTestEvaluator(reg, q, &fakeAppender{})
	e.Policy = func(target, measured float64) float64 { return measured - target }

	rep := e.Evaluate(context.Background())
	assert.Equal(t, "a", rep.Worst.Service)
	assert.InDelta(t, 0.05, rep.Worst.Delta, 1e-12)
}

func TestEvaluate_ConcurrentMatchesSequential(t *testing.T) {
	var reg staticRegistry
	answers := map[string]result{}
	for i := 0; i < 40; i++ {
		query := "Q" + string(rune('A'+i))
		reg = append(reg, types.QuerySpec{Service: query, Metric: "m", Query: query, TargetSLO: 0.9})
		// Several pairs share the maximum delta so the tie-break is exercised.
		answers[query] = result{value: 0.8 + float64(i%5)*0.01}
	}

	seq := newTestEvaluator(reg, &fakeQuerier{answers: answers}, &fakeAppender{}).Evaluate(context.Background())

	for run := 0; run < 5; run++ {
		e := newTestEvaluator(reg, &fakeQuerier{answers: answers, delay: 2 * time.Millisecond}, &fakeAppender{})
		e.Concurrency = 8
		par := e.Evaluate(context.Background())

		require.Equal(t, seq.Worst, par.Worst)
		require.Equal(t, seq.Pairs, par.Pairs)
	}
	assert.Equal(t, "QA", seq.Worst.Service)
}
