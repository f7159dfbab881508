package handlers

import (
	"net/http"

	"github.com/smarttutor-systems/trustcore/internal/analytics"
	"github.com/smarttutor-systems/trustcore/internal/httputil"
	"github.com/smarttutor-systems/trustcore/internal/repository"
)

const (
	defaultRiskWindowDays   = 7
	defaultIncidentListSize = 50
	maxIncidentListSize     = 200
)

// SecurityHandler serves the operator-facing analytics and incident
// endpoints. Routes using it sit behind the privileged-role middleware.
type SecurityHandler struct {
	analyzer         *analytics.Analyzer
	repo             repository.Repository
	lockoutThreshold int
}

func NewSecurityHandler(analyzer *analytics.Analyzer, repo repository.Repository, lockoutThreshold int) *SecurityHandler {
	return &SecurityHandler{
		analyzer:         analyzer,
		repo:             repo,
		lockoutThreshold: lockoutThreshold,
	}
}

// RiskReport returns the full analysis: score, trends, anomalies,
// hotspots and recommendations over the requested window.
func (h *SecurityHandler) RiskReport(w http.ResponseWriter, r *http.Request) {
	days := httputil.ParseIntParam(r.URL.Query().Get("days"), defaultRiskWindowDays)
	if days < 1 || days > 90 {
		httputil.WriteError(w, http.StatusBadRequest, "days must be between 1 and 90")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.analyzer.Analyze(r.Context(), days))
}

// Stats returns the dashboard counters for a timeframe (1h, 24h, 7d, 30d).
func (h *SecurityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	httputil.WriteJSON(w, http.StatusOK, h.analyzer.Stats(r.Context(), timeframe, h.lockoutThreshold))
}

// Incidents lists recent incidents, newest first.
func (h *SecurityHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	limit := httputil.ParseIntParam(r.URL.Query().Get("limit"), defaultIncidentListSize)
	if limit < 1 || limit > maxIncidentListSize {
		limit = defaultIncidentListSize
	}

	incidents, err := h.repo.ListIncidents(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}
