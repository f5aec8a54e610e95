package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/obsidianstack/slowatch/agent/internal/compute"
	"github.com/obsidianstack/slowatch/agent/internal/retry"
	"github.com/obsidianstack/slowatch/agent/internal/status"
)

var tracer = otel.Tracer("github.com/obsidianstack/slowatch/agent/internal/scheduler")

// Evaluator runs one evaluation pass.
type Evaluator interface {
	Evaluate(ctx context.Context) compute.Report
}

// Flusher retries observations that failed to store in earlier cycles.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
	Pending() int
}

// Publisher exports a cycle.
type Publisher interface {
	Publish(rep compute.Report)
	ObserveCycle(d time.Duration, at time.Time)
	SetPending(n int)
}

// Collector is a secondary data source run after the main evaluation.
type Collector interface {
	Name() string
	Collect(ctx context.Context) error
}

// Scheduler owns the cycle loop.
type Scheduler struct {
	evaluator  Evaluator
	flusher    Flusher
	publisher  Publisher
	status     *status.Store
	collectors []Collector
	interval   time.Duration

	sleep retry.Sleeper
	now   func() time.Time
}

// New returns a Scheduler. flusher and st may be nil.
func New(ev Evaluator, fl Flusher, pub Publisher, st *status.Store, interval time.Duration, collectors ...Collector) *Scheduler {
	return &Scheduler{
		evaluator:  ev,
		flusher:    fl,
		publisher:  pub,
		status:     st,
		collectors: collectors,
		interval:   interval,
		sleep:      retry.SleepContext,
		now:        time.Now,
	}
}

// Run executes cycles until ctx is cancelled. It returns nil on a clean
// shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler: starting", "interval", s.interval, "collectors", len(s.collectors))
	for {
		s.RunOnce(ctx)
		if err := s.sleep(ctx, s.interval); err != nil {
			slog.Info("scheduler: stopping")
			return nil
		}
	}
}

// RunOnce executes a single cycle. Failures inside the cycle are logged and
// never abort it.
func (s *Scheduler) RunOnce(ctx context.Context) compute.Report {
	cycleID := uuid.NewString()
	log := slog.With("cycle_id", cycleID)
	start := s.now()

	ctx, span := tracer.Start(ctx, "scheduler.Cycle")
	span.SetAttributes(attribute.String("slo.cycle_id", cycleID))
	defer span.End()

	if s.flusher != nil {
		if _, err := s.flusher.Flush(ctx); err != nil {
			log.Warn("scheduler: pending observations not flushed", "pending", s.flusher.Pending(), "err", err)
		}
	}

	rep := s.evaluator.Evaluate(ctx)
	s.publisher.Publish(rep)

	if s.flusher != nil {
		s.publisher.SetPending(s.flusher.Pending())
	}

	done := s.now()
	s.publisher.ObserveCycle(done.Sub(start), done)
	if s.status != nil {
		s.status.Put(status.Snapshot{CycleID: cycleID, StartedAt: start, CompletedAt: done, Report: rep})
	}

	for _, c := range s.collectors {
		if err := c.Collect(ctx); err != nil {
			log.Warn("scheduler: collector failed", "collector", c.Name(), "err", err)
		}
	}

	log.Info("scheduler: cycle complete",
		"pairs", len(rep.Pairs),
		"worst_service", rep.Worst.Service,
		"worst_metric", rep.Worst.Metric,
		"duration", done.Sub(start),
	)
	return rep
}
