package deploys

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/obsidianstack/slowatch/agent/internal/config"
)

const countSQL = `SELECT app_name, succeeded, count(*) FROM deployments
	WHERE deployment_time >= $1 AND env_name = $2
	GROUP BY app_name, succeeded`

// Sink receives the per-app counts. *publisher.Publisher satisfies it.
type Sink interface {
	PublishDeployments(app string, success, failure int)
}

// Counts is the deployment tally for one app.
type Counts struct {
	Success int
	Failure int
}

// Collector counts deployments of the configured apps.
type Collector struct {
	db     *sql.DB
	apps   []string
	env    string
	window time.Duration
	sink   Sink
	now    func() time.Time
}

// Open builds a Collector from cfg. The pool connects lazily, so an
// unreachable database surfaces on the first Collect, not here.
func Open(cfg config.DeploymentsConfig, sink Sink) (*Collector, error) {
	apps, err := LoadApps(cfg.Config)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("deploys: open database: %w", err)
	}
	return New(db, apps, cfg.Environment, cfg.Window, sink), nil
}

// New wraps an open pool.
func New(db *sql.DB, apps []string, env string, window time.Duration, sink Sink) *Collector {
	return &Collector{db: db, apps: apps, env: env, window: window, sink: sink, now: time.Now}
}

// Name identifies the collector in logs.
func (c *Collector) Name() string { return "deployments" }

// Collect queries the window and publishes a tally for every configured app,
// including apps with no deployments. Nothing is published on error.
func (c *Collector) Collect(ctx context.Context) error {
	counts, err := c.Count(ctx)
	if err != nil {
		return err
	}
	for _, app := range c.apps {
		n := counts[app]
		c.sink.PublishDeployments(app, n.Success, n.Failure)
	}
	slog.Info("deploys: published deployment counts", "apps", len(c.apps), "environment", c.env)
	return nil
}

// Count returns the tally for each configured app. Rows for other apps are
// ignored. A NULL succeeded column counts as a failure.
func (c *Collector) Count(ctx context.Context) (map[string]Counts, error) {
	since := c.now().Add(-c.window).UTC()

	rows, err := c.db.QueryContext(ctx, countSQL, since, c.env)
	if err != nil {
		return nil, fmt.Errorf("deploys: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Counts, len(c.apps))
	for _, app := range c.apps {
		out[app] = Counts{}
	}
	for rows.Next() {
		var (
			app       string
			succeeded sql.NullBool
			n         int
		)
		if err := rows.Scan(&app, &succeeded, &n); err != nil {
			return nil, fmt.Errorf("deploys: scan: %w", err)
		}
		tally, ok := out[app]
		if !ok {
			continue
		}
		if succeeded.Valid && succeeded.Bool {
			tally.Success += n
		} else {
			tally.Failure += n
		}
		out[app] = tally
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deploys: query: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (c *Collector) Close() error {
	return c.db.Close()
}
