// Package api exposes HTTP handlers for the stats aggregator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"example.com/aggregator/internal/auth"
	"example.com/aggregator/internal/domain"
)

// StatsService is the part of the aggregation engine the API drives.
type StatsService interface {
	FetchAllStats(ctx context.Context, userID string, window domain.Window) (domain.AggregatedStats, error)
	RefreshAll(ctx context.Context, userID string, window domain.Window) (domain.AggregatedStats, error)
	GenerateChartData(ctx context.Context, userID string, metric domain.Metric, window domain.Window) ([]domain.ChartPoint, error)
	FetchPersonalRecords(ctx context.Context, userID string) (domain.RecordSet, error)
	LastError() string
}

// Handler coordinates HTTP requests with the aggregation engine.
type Handler struct {
	service StatsService
}

// NewHandler builds a Handler.
func NewHandler(service StatsService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/stats", h.stats)
	mux.HandleFunc("/v1/stats/refresh", h.refresh)
	mux.HandleFunc("/v1/stats/chart", h.chart)
	mux.HandleFunc("/v1/stats/status", h.status)
	mux.HandleFunc("/v1/records", h.records)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := authorize(w, r, auth.ScopeStatsRead)
	if !ok {
		return
	}
	window, err := domain.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	stats, err := h.service.FetchAllStats(r.Context(), claims.Subject, window)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := authorize(w, r, auth.ScopeStatsWrite)
	if !ok {
		return
	}
	window, err := domain.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	stats, err := h.service.RefreshAll(r.Context(), claims.Subject, window)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) chart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := authorize(w, r, auth.ScopeStatsRead)
	if !ok {
		return
	}
	query := r.URL.Query()
	window, err := domain.ParseWindow(query.Get("window"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	metric, err := domain.ParseMetric(query.Get("metric"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	points, err := h.service.GenerateChartData(r.Context(), claims.Subject, metric, window)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if points == nil {
		points = []domain.ChartPoint{}
	}
	writeJSON(w, http.StatusOK, ChartResponse{Metric: metric, Window: window, Points: points})
}

func (h *Handler) records(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := authorize(w, r, auth.ScopeStatsRead)
	if !ok {
		return
	}

	records, err := h.service.FetchPersonalRecords(r.Context(), claims.Subject)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if records == nil {
		records = domain.RecordSet{}
	}
	writeJSON(w, http.StatusOK, RecordsResponse{Records: records})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := authorize(w, r, auth.ScopeStatsRead); !ok {
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{LastError: h.service.LastError(), CheckedAt: time.Now().UTC()})
}

// ChartResponse is the body of GET /v1/stats/chart.
type ChartResponse struct {
	Metric domain.Metric       `json:"metric"`
	Window domain.Window       `json:"window"`
	Points []domain.ChartPoint `json:"points"`
}

// RecordsResponse is the body of GET /v1/records.
type RecordsResponse struct {
	Records domain.RecordSet `json:"records"`
}

// StatusResponse reports the outcome of the most recent pipeline run.
type StatusResponse struct {
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

func authorize(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.Allows(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNoIdentity):
		writeError(w, http.StatusBadRequest, "no_identity", err.Error())
	case errors.Is(err, domain.ErrUnknownWindow), errors.Is(err, domain.ErrUnknownMetric):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
