package observations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/obsidianstack/slowatch/agent/internal/config"
	"github.com/obsidianstack/slowatch/agent/internal/retry"
	"github.com/obsidianstack/slowatch/pkg/types"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS slo_observations (
	service TEXT NOT NULL,
	observed_at TIMESTAMP,
	metric_name TEXT,
	value DOUBLE PRECISION
)`

	createIndexSQL = `CREATE INDEX IF NOT EXISTS slo_observations_lookup_idx
	ON slo_observations (service, metric_name, observed_at)`

	insertSQL = `INSERT INTO slo_observations (service, observed_at, metric_name, value) VALUES ($1, $2, $3, $4)`

	recentSQL = `SELECT service, observed_at, metric_name, value FROM slo_observations
	WHERE service = $1 AND metric_name = $2
	ORDER BY observed_at DESC
	LIMIT $3`
)

// duplicateTable is the Postgres SQLSTATE for duplicate_table. Concurrent
// CREATE ... IF NOT EXISTS from two agents can still raise it.
const duplicateTable = "42P07"

// AppendError wraps a failed insert. The observation has been queued for
// the next Flush.
type AppendError struct {
	Observation types.Observation
	Err         error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("store: append (%s, %s): %v", e.Observation.Service, e.Observation.Metric, e.Err)
}

func (e *AppendError) Unwrap() error { return e.Err }

// Store is an append-only observation log backed by a database/sql pool.
// It is safe for concurrent use.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	pending []types.Observation
	limit   int
}

// dial opens a pool and checks it answers. Replaced in tests.
var dial = func(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Connect dials the database, retrying every cfg.RetryInterval until it
// succeeds or ctx is cancelled. sleep may be nil.
func Connect(ctx context.Context, cfg config.StoreConfig, sleep retry.Sleeper) (*Store, error) {
	dsn := cfg.Database.DSN()

	var db *sql.DB
	err := retry.Do(ctx, retry.Constant(cfg.RetryInterval), sleep, func(ctx context.Context) error {
		var err error
		db, err = dial(ctx, dsn)
		return err
	}, func(attempt int, err error, wait time.Duration) {
		slog.Warn("store: database unavailable", "attempt", attempt, "err", err, "retry_in", wait)
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	slog.Info("store: connected")
	return New(db, cfg.PendingLimit), nil
}

// New wraps an open pool. pendingLimit caps the retry queue; 0 disables it.
func New(db *sql.DB, pendingLimit int) *Store {
	return &Store{db: db, limit: pendingLimit}
}

// EnsureSchema creates the observation table and its lookup index if they
// do not exist. Calling it repeatedly is harmless.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createTableSQL, createIndexSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil && !isDuplicateTable(err) {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

func isDuplicateTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == duplicateTable
}

// Append inserts one observation. On failure the row is queued and an
// *AppendError is returned; the caller should log it and carry on.
func (s *Store) Append(ctx context.Context, obs types.Observation) error {
	if err := s.insert(ctx, obs); err != nil {
		s.enqueue(obs)
		return &AppendError{Observation: obs, Err: err}
	}
	return nil
}

func (s *Store) insert(ctx context.Context, obs types.Observation) error {
	_, err := s.db.ExecContext(ctx, insertSQL, obs.Service, obs.ObservedAt.UTC(), obs.Metric, obs.Value)
	return err
}

// enqueue adds obs to the pending queue, evicting the oldest entry when full.
func (s *Store) enqueue(obs types.Observation) {
	if s.limit <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.limit {
		dropped := s.pending[0]
		s.pending = s.pending[1:]
		slog.Warn("store: pending queue full, dropping oldest observation",
			"service", dropped.Service, "metric", dropped.Metric, "observed_at", dropped.ObservedAt)
	}
	s.pending = append(s.pending, obs)
}

// Flush re-inserts queued observations in order. It stops at the first
// failure and leaves that row and everything after it queued. It returns
// the number of rows written.
func (s *Store) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for n < len(s.pending) {
		if err := s.insert(ctx, s.pending[n]); err != nil {
			s.pending = s.pending[n:]
			return n, fmt.Errorf("store: flush: %w", err)
		}
		n++
	}
	s.pending = nil
	if n > 0 {
		slog.Info("store: flushed pending observations", "count", n)
	}
	return n, nil
}

// Pending returns the number of queued observations.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Recent returns up to limit observations for (service, metric), newest first.
func (s *Store) Recent(ctx context.Context, service, metric string, limit int) ([]types.Observation, error) {
	rows, err := s.db.QueryContext(ctx, recentSQL, service, metric, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var out []types.Observation
	for rows.Next() {
		var (
			o        types.Observation
			at       sql.NullTime
			metricNm sql.NullString
			value    sql.NullFloat64
		)
		if err := rows.Scan(&o.Service, &at, &metricNm, &value); err != nil {
			return nil, fmt.Errorf("store: recent: scan: %w", err)
		}
		o.ObservedAt = at.Time
		o.Metric = metricNm.String
		o.Value = value.Float64
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
