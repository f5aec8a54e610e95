package status

import (
	"github.com/obsidianstack/slowatch/agent/internal/compute"
	"github.com/obsidianstack/slowatch/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State       string `json:"state"`
	CycleID     string `json:"cycle_id,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"` // RFC3339
	PairCount   int    `json:"pair_count"`
	OKCount     int    `json:"ok_count"`
}

// WorstResponse is the payload for GET /api/v1/worst. Sentinel is true when
// no pair was worse than its target.
type WorstResponse struct {
	CycleID  string            `json:"cycle_id"`
	Sentinel bool              `json:"sentinel"`
	Worst    types.CycleResult `json:"worst"`
}

// EvaluationsResponse is the payload for GET /api/v1/evaluations.
type EvaluationsResponse struct {
	CycleID     string                `json:"cycle_id"`
	StartedAt   string                `json:"started_at"`
	CompletedAt string                `json:"completed_at"`
	Pairs       []compute.PairOutcome `json:"pairs"`
}

type errorResponse struct {
	Error string `json:"error"`
}
