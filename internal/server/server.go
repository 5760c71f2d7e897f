package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harvestly/warden/pkg/alerting"
	"github.com/harvestly/warden/pkg/governor"
	"github.com/harvestly/warden/pkg/health"
	"github.com/harvestly/warden/pkg/metrics"
	"github.com/harvestly/warden/pkg/model"
)

// Server exposes the operator API: alert lifecycle, health reports, usage
// snapshots, and metric queries.
type Server struct {
	governor *governor.Governor
	runner   *health.Runner
	alerts   *alerting.Manager
	metrics  *metrics.Store
	mux      *http.ServeMux
	logger   *slog.Logger
}

// NewServer creates an operator API server.
func NewServer(g *governor.Governor, r *health.Runner, a *alerting.Manager, m *metrics.Store, logger *slog.Logger) *Server {
	s := &Server{
		governor: g,
		runner:   r,
		alerts:   a,
		metrics:  m,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealthReport)
	s.mux.HandleFunc("GET /api/v1/alerts", s.handleAlerts)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/ack", s.handleAcknowledge)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", s.handleResolve)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/suppress", s.handleSuppress)
	s.mux.HandleFunc("GET /api/v1/usage", s.handleUsage)
	s.mux.HandleFunc("GET /api/v1/limits", s.handleLimits)
	s.mux.HandleFunc("GET /api/v1/metrics", s.handleMetrics)
	s.mux.HandleFunc("GET /api/v1/metrics/aggregate", s.handleAggregate)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthReport(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runner.GetReport())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.AlertFilter{
		Status: model.AlertStatus(q.Get("status")),
		Level:  model.AlertLevel(q.Get("level")),
		Source: q.Get("source"),
	}
	if v := q.Get("since_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 0 {
			http.Error(w, "invalid since_hours", http.StatusBadRequest)
			return
		}
		filter.SinceHours = hours
	}

	alerts := s.alerts.GetAlerts(filter)
	if alerts == nil {
		alerts = []model.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	by := r.URL.Query().Get("by")
	if by == "" {
		by = "operator"
	}
	s.lifecycle(w, r, func(id string) error { return s.alerts.Acknowledge(id, by) })
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.alerts.Resolve)
}

func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request) {
	minutes := 60
	if v := r.URL.Query().Get("minutes"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m <= 0 {
			http.Error(w, "invalid minutes", http.StatusBadRequest)
			return
		}
		minutes = m
	}
	s.lifecycle(w, r, func(id string) error { return s.alerts.Suppress(id, minutes) })
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(id string) error) {
	id := r.PathValue("id")
	if err := op(id); err != nil {
		if errors.Is(err, alerting.ErrAlertNotFound) {
			http.Error(w, "alert not found", http.StatusNotFound)
			return
		}
		s.logger.Error("alert lifecycle", "alert_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	alert, err := s.alerts.Get(id)
	if err != nil {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleUsage(w http.ResponseWriter, _ *http.Request) {
	snapshots := s.governor.Snapshot()
	if snapshots == nil {
		snapshots = []model.UsageSnapshot{}
	}
	s.writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleLimits(w http.ResponseWriter, _ *http.Request) {
	limits := s.governor.ListLimits()
	if limits == nil {
		limits = []model.ResourceLimit{}
	}
	s.writeJSON(w, http.StatusOK, limits)
}

func metricFilterFromQuery(r *http.Request) (model.MetricFilter, error) {
	q := r.URL.Query()
	filter := model.MetricFilter{}
	if names := q.Get("names"); names != "" {
		filter.Names = strings.Split(names, ",")
	}
	if v := q.Get("since_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 0 {
			return filter, errors.New("invalid since_hours")
		}
		filter.StartTime = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	filter, err := metricFilterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	samples, err := s.metrics.Query(ctx, filter)
	if err != nil {
		s.logger.Error("query metrics", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []model.Metric{}
	}
	s.writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	filter, err := metricFilterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	agg := metrics.Aggregation(r.URL.Query().Get("agg"))
	if agg == "" {
		agg = metrics.AggAvg
	}
	bucketMinutes := 5
	if v := r.URL.Query().Get("bucket_minutes"); v != "" {
		bucketMinutes, err = strconv.Atoi(v)
		if err != nil || bucketMinutes <= 0 {
			http.Error(w, "invalid bucket_minutes", http.StatusBadRequest)
			return
		}
	}

	buckets, err := s.metrics.Aggregate(ctx, filter, agg, bucketMinutes)
	if err != nil {
		s.logger.Error("aggregate metrics", "error", err)
		http.Error(w, "invalid aggregation", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, buckets)
}
