package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/obsidianstack/slowatch/pkg/types"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 1000
)

// History reads stored observations. *observations.Store satisfies it.
type History interface {
	Recent(ctx context.Context, service, metric string, limit int) ([]types.Observation, error)
}

// Handler serves the /api/v1/* endpoints.
type Handler struct {
	store   *Store
	history History
	mux     *http.ServeMux
}

// NewHandler returns the status API. history may be nil, in which case
// /api/v1/observations answers 404.
func NewHandler(st *Store, history History) http.Handler {
	h := &Handler{store: st, history: history, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/worst", h.worst)
	h.mux.HandleFunc("/api/v1/evaluations", h.evaluations)
	h.mux.HandleFunc("/api/v1/observations", h.observations)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{State: h.store.State()}
	if snap, ok := h.store.Latest(); ok {
		resp.CycleID = snap.CycleID
		resp.CompletedAt = snap.CompletedAt.UTC().Format(time.RFC3339)
		resp.PairCount = len(snap.Report.Pairs)
		resp.OKCount = snap.Report.Outcomes()["ok"]
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) worst(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, ok := h.store.Latest()
	if !ok {
		jsonErr(w, http.StatusServiceUnavailable, "no cycle has completed yet")
		return
	}
	jsonResp(w, http.StatusOK, WorstResponse{
		CycleID:  snap.CycleID,
		Sentinel: snap.Report.Worst.IsSentinel(),
		Worst:    snap.Report.Worst,
	})
}

func (h *Handler) evaluations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, ok := h.store.Latest()
	if !ok {
		jsonErr(w, http.StatusServiceUnavailable, "no cycle has completed yet")
		return
	}
	jsonResp(w, http.StatusOK, EvaluationsResponse{
		CycleID:     snap.CycleID,
		StartedAt:   snap.StartedAt.UTC().Format(time.RFC3339),
		CompletedAt: snap.CompletedAt.UTC().Format(time.RFC3339),
		Pairs:       snap.Report.Pairs,
	})
}

// observations returns GET /api/v1/observations?service=&metric=&limit=.
func (h *Handler) observations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.history == nil {
		jsonErr(w, http.StatusNotFound, "observation history not available")
		return
	}

	q := r.URL.Query()
	service, metric := q.Get("service"), q.Get("metric")
	if service == "" || metric == "" {
		jsonErr(w, http.StatusBadRequest, "service and metric are required")
		return
	}
	limit := defaultHistoryLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			jsonErr(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	obs, err := h.history.Recent(r.Context(), service, metric, limit)
	if err != nil {
		slog.Error("status: read observations", "service", service, "metric", metric, "err", err)
		jsonErr(w, http.StatusBadGateway, "observation store unavailable")
		return
	}
	if obs == nil {
		obs = []types.Observation{}
	}
	jsonResp(w, http.StatusOK, obs)
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
