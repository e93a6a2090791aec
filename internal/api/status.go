// Package api serves the localhost status surface: health, a service
// snapshot, recent logs, and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aseofsmartice/surveillance/internal/logging"
)

// StatusService is what the handler needs from the service controller.
type StatusService interface {
	// Snapshot returns the current service state.
	Snapshot(ctx context.Context) (*StatusReport, error)
	// Healthy returns nil when the service and its store are usable.
	Healthy(ctx context.Context) error
}

// StatusReport is the /status payload.
type StatusReport struct {
	State           string    `json:"state"`
	StartedAt       time.Time `json:"started_at"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	LocationID      string    `json:"location_id,omitempty"`
	CaptureWindow   string    `json:"capture_window,omitempty"`
	ActiveRecorders int       `json:"active_recorders"`
	RecorderCrashes int64     `json:"recorder_crashes"`
	Workers         int       `json:"workers"`
	CloudEnabled    bool      `json:"cloud_enabled"`
	LastSync        *SyncInfo `json:"last_sync,omitempty"`
	Cameras         int       `json:"cameras"`
	DiskFreeGB      float64   `json:"disk_free_gb"`
}

// SyncInfo summarizes the most recent replication run.
type SyncInfo struct {
	RunID   string    `json:"run_id"`
	Mode    string    `json:"mode"`
	At      time.Time `json:"at"`
	Records int       `json:"records"`
	Status  string    `json:"status"`
}

// StatusHandler serves the status endpoints.
type StatusHandler struct {
	service StatusService
	logs    *logging.RingBuffer
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(service StatusService, logs *logging.RingBuffer) *StatusHandler {
	return &StatusHandler{service: service, logs: logs}
}

// Routes returns the status routes.
func (h *StatusHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/status", h.Status)
	r.Get("/status/logs", h.RecentLogs)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Healthz reports liveness, including store reachability.
func (h *StatusHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Healthy(r.Context()); err != nil {
		Unavailable(w, err.Error())
		return
	}
	OK(w, map[string]string{"status": "ok"})
}

// Status returns the full service snapshot.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Snapshot(r.Context())
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	OK(w, report)
}

// RecentLogs returns the last n captured log records (default 100).
func (h *StatusHandler) RecentLogs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 1000 {
			n = v
		}
	}
	OK(w, h.logs.Recent(n))
}
