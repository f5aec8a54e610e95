package status

import (
	"sync"
	"time"

	"github.com/obsidianstack/slowatch/agent/internal/compute"
)

// Health states reported by Store.State.
const (
	StateOK      = "ok"
	StateStale   = "stale"
	StateUnknown = "unknown"
)

// Snapshot is the outcome of one completed cycle.
type Snapshot struct {
	CycleID     string
	StartedAt   time.Time
	CompletedAt time.Time
	Report      compute.Report
}

// Store holds the latest Snapshot. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	latest *Snapshot
	ttl    time.Duration
	now    func() time.Time // injectable for deterministic tests
}

// NewStore creates a Store. A snapshot older than ttl is stale.
func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, now: time.Now}
}

// Put replaces the latest snapshot. Callers must not modify snap.Report
// after calling Put.
func (s *Store) Put(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &snap
}

// Latest returns the last snapshot and whether one exists.
func (s *Store) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Snapshot{}, false
	}
	return *s.latest, true
}

// State reports whether a recent cycle has completed.
func (s *Store) State() string {
	snap, ok := s.Latest()
	switch {
	case !ok:
		return StateUnknown
	case s.now().Sub(snap.CompletedAt) > s.ttl:
		return StateStale
	default:
		return StateOK
	}
}

// TTL returns the staleness threshold.
func (s *Store) TTL() time.Duration {
	return s.ttl
}
