package publisher

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/obsidianstack/slowatch/agent/internal/compute"
	"github.com/obsidianstack/slowatch/agent/internal/config"
)

// Publisher owns every metric the agent exports. All methods are safe for
// concurrent use.
type Publisher struct {
	policy string

	worst      *prometheus.GaugeVec
	worstDelta *prometheus.GaugeVec

	outcomes       *prometheus.CounterVec
	appendFailures prometheus.Counter
	pending        prometheus.Gauge
	cycleDuration  prometheus.Histogram
	lastCycle      prometheus.Gauge

	deploySuccess *prometheus.GaugeVec
	deployFailure *prometheus.GaugeVec
	ttr           prometheus.Gauge
	certDaysLeft  prometheus.Gauge
}

// New registers the agent metrics on reg. sentinelPolicy is one of the
// config.Sentinel* values; anything else behaves as reset.
func New(reg prometheus.Registerer, sentinelPolicy string) *Publisher {
	f := promauto.With(reg)
	return &Publisher{
		policy: sentinelPolicy,

		worst: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "delta_slo",
			Help: "Measured SLO of the pair furthest from its target in the last cycle",
		}, []string{"service", "metric"}),
		worstDelta: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "delta_slo_delta",
			Help: "Distance from target of the worst pair; positive is worse",
		}, []string{"service", "metric"}),

		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "slo_query_outcomes_total",
			Help: "Backend queries by outcome",
		}, []string{"outcome"}),
		appendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "slo_observation_append_failures_total",
			Help: "Observations that could not be written on first attempt",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "slo_observations_pending",
			Help: "Failed observations waiting for the next flush",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "slo_cycle_duration_seconds",
			Help:    "Wall time of one evaluation cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Name: "slo_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle completed",
		}),

		deploySuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deployment_success",
			Help: "Successful deployments in the rolling window",
		}, []string{"app_name"}),
		deployFailure: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deployment_failure",
			Help: "Failed deployments in the rolling window",
		}, []string{"app_name"}),
		ttr: f.NewGauge(prometheus.GaugeOpts{
			Name: "time_to_resolution",
			Help: "Mean incident time to resolution in minutes over the rolling window",
		}),
		certDaysLeft: f.NewGauge(prometheus.GaugeOpts{
			Name: "slo_backend_cert_days_left",
			Help: "Days until the metrics backend TLS certificate expires",
		}),
	}
}

// Publish exports the worst performer and the per-outcome counts of rep.
func (p *Publisher) Publish(rep compute.Report) {
	for outcome, n := range rep.Outcomes() {
		p.outcomes.WithLabelValues(outcome).Add(float64(n))
	}
	p.appendFailures.Add(float64(rep.AppendFailures()))

	w := rep.Worst
	if !w.IsSentinel() {
		p.worst.Reset()
		p.worstDelta.Reset()
		p.worst.WithLabelValues(w.Service, w.Metric).Set(w.CurrentSLO)
		p.worstDelta.WithLabelValues(w.Service, w.Metric).Set(w.Delta)
		slog.Info("publisher: worst performer",
			"service", w.Service, "metric", w.Metric, "current_slo", w.CurrentSLO, "delta", w.Delta)
		return
	}

	switch p.policy {
	case config.SentinelKeep:
		slog.Info("publisher: no pair worse than target, keeping previous worst performer")
	case config.SentinelZero:
		p.worst.Reset()
		p.worstDelta.Reset()
		p.worst.WithLabelValues("", "").Set(0)
		p.worstDelta.WithLabelValues("", "").Set(0)
		slog.Info("publisher: no pair worse than target, exporting zero")
	default:
		p.worst.Reset()
		p.worstDelta.Reset()
		slog.Info("publisher: no pair worse than target, clearing worst performer")
	}
}

// ObserveCycle records how long a cycle took and when it finished.
func (p *Publisher) ObserveCycle(d time.Duration, at time.Time) {
	p.cycleDuration.Observe(d.Seconds())
	p.lastCycle.Set(float64(at.Unix()))
}

// SetPending exports the size of the observation retry queue.
func (p *Publisher) SetPending(n int) {
	p.pending.Set(float64(n))
}

// PublishDeployments sets the rolling-window deployment counts for app.
func (p *Publisher) PublishDeployments(app string, success, failure int) {
	p.deploySuccess.WithLabelValues(app).Set(float64(success))
	p.deployFailure.WithLabelValues(app).Set(float64(failure))
}

// PublishTimeToResolution sets the mean time to resolution gauge, in minutes.
func (p *Publisher) PublishTimeToResolution(d time.Duration) {
	p.ttr.Set(d.Minutes())
}

// PublishCertDaysLeft sets the backend certificate expiry gauge.
func (p *Publisher) PublishCertDaysLeft(days int) {
	p.certDaysLeft.Set(float64(days))
}
