// Package api provides the token-authenticated administrative HTTP surface:
// run history, health, manual triggers, and failed-item recovery.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/engine"
)

// Handlers provides HTTP handlers for the administrative API.
type Handlers struct {
	admin *engine.Admin
}

// NewHandlers creates handlers over the administrative surface.
func NewHandlers(admin *engine.Admin) *Handlers {
	return &Handlers{admin: admin}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListRuns returns recent engine runs, newest first.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.admin.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*database.EngineRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// runDetailResponse is one run with its per-phase breakdown.
type runDetailResponse struct {
	Run   *database.EngineRun       `json:"run"`
	Items []*database.EngineRunItem `json:"items"`
}

// RunDetail returns one run with its per-phase items.
func (h *Handlers) RunDetail(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id query parameter is required", http.StatusBadRequest)
		return
	}

	run, items, err := h.admin.RunDetail(r.Context(), runID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get run detail", "error", err, "run_id", runID)
		http.Error(w, "Failed to get run detail", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*database.EngineRunItem{}
	}
	writeJSON(w, http.StatusOK, runDetailResponse{Run: run, Items: items})
}

// Health returns delivery/digest counts over the trailing window.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	counts, err := h.admin.Health(r.Context())
	if err != nil {
		slog.Error("Failed to get health counts", "error", err)
		http.Error(w, "Failed to get health counts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Preflight reports storage and channel readiness.
func (h *Handlers) Preflight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Preflight(r.Context()))
}

// TriggerRunRequest represents a manual run trigger.
type TriggerRunRequest struct {
	Phase  string `json:"phase"`
	DryRun bool   `json:"dry_run"`
}

// TriggerRun starts a manual engine run and returns its report.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !engine.ValidPhase(req.Phase) {
		http.Error(w, "phase must be one of a, b, c, d, all", http.StatusBadRequest)
		return
	}

	report, err := h.admin.TriggerRun(r.Context(), req.Phase, req.DryRun)
	if err != nil {
		slog.Error("Manual run failed", "error", err, "phase", req.Phase)
		http.Error(w, "Run failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RetryFailedRequest selects failed items to reset.
type RetryFailedRequest struct {
	Channel   string `json:"channel,omitempty"`
	AlertType string `json:"alert_type,omitempty"`
	UserID    int64  `json:"user_id,omitempty"`
	Since     string `json:"since,omitempty"` // RFC3339
	DryRun    bool   `json:"dry_run"`
}

// RetryFailed resets matching failed deliveries and digests back to their
// retryable states, or previews the match with dry_run.
func (h *Handlers) RetryFailed(w http.ResponseWriter, r *http.Request) {
	var req RetryFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	filter := database.RetryFilter{
		Channel:   req.Channel,
		AlertType: req.AlertType,
		UserID:    req.UserID,
	}
	if req.Since != "" {
		since, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		filter.Since = since
	}

	report, err := h.admin.RetryFailed(r.Context(), filter, req.DryRun)
	if err != nil {
		slog.Error("Failed to retry failed items", "error", err)
		http.Error(w, "Failed to retry failed items", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
