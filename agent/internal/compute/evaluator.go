package compute

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/slowatch/agent/internal/backend"
	"github.com/obsidianstack/slowatch/pkg/types"
)

// OutcomeOK marks a pair that produced a measurement. Failed pairs carry
// the backend.Outcome classification instead.
const OutcomeOK = "ok"

var tracer = otel.Tracer("github.com/obsidianstack/slowatch/agent/internal/compute")

// Registry supplies the pairs to evaluate, in tie-break order.
type Registry interface {
	Specs() []types.QuerySpec
}

// Querier runs one backend query.
type Querier interface {
	Query(ctx context.Context, expr string) (backend.Measurement, error)
}

// Appender persists one observation.
type Appender interface {
	Append(ctx context.Context, obs types.Observation) error
}

// PairOutcome is what happened to one (service, metric) pair in a cycle.
type PairOutcome struct {
	Service  string  `json:"service"`
	Metric   string  `json:"metric"`
	Target   float64 `json:"target_slo"`
	Outcome  string  `json:"outcome"`
	Measured float64 `json:"measured"`
	Delta    float64 `json:"delta"`

	// Error is set when Outcome is not "ok".
	Error string `json:"error,omitempty"`

	// AppendFailed is set when the measurement could not be stored. The
	// pair still takes part in the fold.
	AppendFailed bool `json:"append_failed,omitempty"`
}

// Report is the result of one evaluation pass.
type Report struct {
	Worst types.CycleResult `json:"worst"`
	Pairs []PairOutcome     `json:"pairs"`
}

// Outcomes counts pairs by outcome.
func (r Report) Outcomes() map[string]int {
	out := make(map[string]int)
	for _, p := range r.Pairs {
		out[p.Outcome]++
	}
	return out
}

// AppendFailures counts pairs whose measurement was not stored.
func (r Report) AppendFailures() int {
	n := 0
	for _, p := range r.Pairs {
		if p.AppendFailed {
			n++
		}
	}
	return n
}

// Evaluator runs one cycle of queries and picks the worst performer.
type Evaluator struct {
	Registry Registry
	Querier  Querier
	Appender Appender

	// Policy computes the delta. Nil means DefaultDeltaPolicy.
	Policy DeltaPolicy

	// Concurrency bounds in-flight queries. Values below 2 run sequentially.
	Concurrency int

	now func() time.Time
}

// NewEvaluator returns a sequential Evaluator using DefaultDeltaPolicy.
func NewEvaluator(reg Registry, q Querier, a Appender) *Evaluator {
	return &Evaluator{
		Registry:    reg,
		Querier:     q,
		Appender:    a,
		Policy:      DefaultDeltaPolicy,
		Concurrency: 1,
		now:         time.Now,
	}
}

// Evaluate queries every registered pair and returns the folded Report.
// It never fails: a pair that cannot be measured is recorded and skipped.
//
// With Concurrency > 1 the queries run in a bounded pool, but outcomes are
// stored by registry position and folded afterwards, so the Report is the
// same as a sequential run over the same measurements.
func (e *Evaluator) Evaluate(ctx context.Context) Report {
	ctx, span := tracer.Start(ctx, "compute.Evaluate")
	defer span.End()

	specs := e.Registry.Specs()
	pairs := make([]PairOutcome, len(specs))

	if e.Concurrency < 2 {
		for i, spec := range specs {
			pairs[i] = e.evaluate(ctx, spec)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.Concurrency)
		for i, spec := range specs {
			i, spec := i, spec
			g.Go(func() error {
				pairs[i] = e.evaluate(ctx, spec)
				return nil
			})
		}
		_ = g.Wait()
	}

	report := Report{Worst: Worst(pairs), Pairs: pairs}
	span.SetAttributes(
		attribute.Int("slo.pairs", len(pairs)),
		attribute.String("slo.worst.service", report.Worst.Service),
		attribute.String("slo.worst.metric", report.Worst.Metric),
		attribute.Float64("slo.worst.delta", report.Worst.Delta),
	)
	return report
}

func (e *Evaluator) evaluate(ctx context.Context, spec types.QuerySpec) PairOutcome {
	out := PairOutcome{Service: spec.Service, Metric: spec.Metric, Target: spec.TargetSLO}

	m, err := e.Querier.Query(ctx, spec.Query)
	if err != nil {
		out.Outcome = backend.Outcome(err)
		out.Error = err.Error()
		if errors.Is(err, backend.ErrNoData) {
			slog.Info("evaluator: no data, skipping", "service", spec.Service, "metric", spec.Metric)
		} else {
			slog.Warn("evaluator: query failed, skipping",
				"service", spec.Service, "metric", spec.Metric, "outcome", out.Outcome, "err", err)
		}
		return out
	}
	out.Outcome = OutcomeOK
	out.Measured = m.Value

	obs := types.Observation{
		Service:    spec.Service,
		Metric:     spec.Metric,
		ObservedAt: e.clock(),
		Value:      m.Value,
	}
	if err := e.Appender.Append(ctx, obs); err != nil {
		out.AppendFailed = true
		slog.Error("evaluator: failed to store observation",
			"service", spec.Service, "metric", spec.Metric, "err", err)
	}

	policy := e.Policy
	if policy == nil {
		policy = DefaultDeltaPolicy
	}
	out.Delta = policy(spec.TargetSLO, m.Value)

	slog.Debug("evaluator: pair evaluated",
		"service", spec.Service, "metric", spec.Metric,
		"target", spec.TargetSLO, "measured", m.Value, "delta", out.Delta)
	return out
}

func (e *Evaluator) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}
