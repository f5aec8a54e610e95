package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PagerDuty/go-pagerduty"

	"github.com/obsidianstack/slowatch/agent/internal/config"
	"github.com/obsidianstack/slowatch/agent/internal/retry"
)

// pageSize is the PagerDuty maximum for classic pagination.
const pageSize = 100

// ErrNoIncidents means the window held no resolved incidents, so there is
// no mean to report.
var ErrNoIncidents = errors.New("incidents: no resolved incidents in window")

// Lister is the part of *pagerduty.Client the collector uses.
type Lister interface {
	ListIncidentsWithContext(ctx context.Context, o pagerduty.ListIncidentsOptions) (*pagerduty.ListIncidentsResponse, error)
}

// Sink receives the mean. *publisher.Publisher satisfies it.
type Sink interface {
	PublishTimeToResolution(d time.Duration)
}

// Collector computes the mean time to resolution.
type Collector struct {
	lister  Lister
	teamIDs []string
	window  time.Duration
	sink    Sink
	policy  retry.Policy
	sleep   retry.Sleeper
	now     func() time.Time
}

// New builds a Collector backed by the PagerDuty REST API.
func New(cfg config.IncidentsConfig, sink Sink) (*Collector, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("incidents: %s is not set", cfg.APIKeyEnv)
	}
	return NewWithLister(pagerduty.NewClient(key), cfg.TeamIDs, cfg.Window, sink), nil
}

// NewWithLister builds a Collector on any Lister.
func NewWithLister(l Lister, teamIDs []string, window time.Duration, sink Sink) *Collector {
	return &Collector{
		lister:  l,
		teamIDs: teamIDs,
		window:  window,
		sink:    sink,
		policy:  retry.Exponential(time.Second, 4),
		sleep:   retry.SleepContext,
		now:     time.Now,
	}
}

// Name identifies the collector in logs.
func (c *Collector) Name() string { return "incidents" }

// Collect publishes the mean time to resolution. An empty window leaves the
// gauge at its previous value.
func (c *Collector) Collect(ctx context.Context) error {
	mean, n, err := c.MeanTimeToResolution(ctx)
	if errors.Is(err, ErrNoIncidents) {
		slog.Info("incidents: no resolved incidents in window, gauge unchanged", "window", c.window)
		return nil
	}
	if err != nil {
		return err
	}
	c.sink.PublishTimeToResolution(mean)
	slog.Info("incidents: published mean time to resolution", "incidents", n, "mean", mean)
	return nil
}

// MeanTimeToResolution averages last_status_change_at - created_at over the
// resolved incidents of the window. It returns the mean and the number of
// incidents counted.
func (c *Collector) MeanTimeToResolution(ctx context.Context) (time.Duration, int, error) {
	until := c.now().UTC()
	since := until.Add(-c.window)
	opts := pagerduty.ListIncidentsOptions{
		Limit:    pageSize,
		Statuses: []string{"resolved"},
		TeamIDs:  c.teamIDs,
		Since:    since.Format(time.RFC3339),
		Until:    until.Format(time.RFC3339),
	}

	var (
		total time.Duration
		count int
	)
	for {
		resp, err := c.page(ctx, opts)
		if err != nil {
			return 0, 0, err
		}
		for _, inc := range resp.Incidents {
			d, err := resolutionTime(inc)
			if err != nil {
				slog.Warn("incidents: skipping incident with bad timestamps", "id", inc.ID, "err", err)
				continue
			}
			total += d
			count++
		}
		if !resp.More || len(resp.Incidents) == 0 {
			break
		}
		opts.Offset += uint(len(resp.Incidents))
	}

	if count == 0 {
		return 0, 0, ErrNoIncidents
	}
	return total / time.Duration(count), count, nil
}

// page fetches one page, retrying rate limits and server errors.
func (c *Collector) page(ctx context.Context, opts pagerduty.ListIncidentsOptions) (*pagerduty.ListIncidentsResponse, error) {
	var resp *pagerduty.ListIncidentsResponse
	err := retry.Do(ctx, c.policy, c.sleep, func(ctx context.Context) error {
		var err error
		resp, err = c.lister.ListIncidentsWithContext(ctx, opts)
		if err != nil && !isTemporary(err) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error, wait time.Duration) {
		slog.Warn("incidents: list failed", "attempt", attempt, "offset", opts.Offset, "err", err, "retry_in", wait)
	})
	if err != nil {
		return nil, fmt.Errorf("incidents: list: %w", err)
	}
	return resp, nil
}

// isTemporary reports whether err is a 429 or 5xx from PagerDuty.
func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

func resolutionTime(inc pagerduty.Incident) (time.Duration, error) {
	created, err := time.Parse(time.RFC3339, inc.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("created_at: %w", err)
	}
	resolved, err := time.Parse(time.RFC3339, inc.LastStatusChangeAt)
	if err != nil {
		return 0, fmt.Errorf("last_status_change_at: %w", err)
	}
	return resolved.Sub(created), nil
}
