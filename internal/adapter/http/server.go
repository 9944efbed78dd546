// Package http exposes the monitor's operational endpoints: liveness,
// readiness, and Prometheus metrics. Only used in scheduled mode; a one-shot
// check has no server to run.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vicwatch/vicemergency-monitor/internal/pipeline"
)

// StatusReporter is the view of the monitor the ops endpoints need: whether
// a poll cycle has completed, and what the last one produced.
type StatusReporter interface {
	CheckReadiness(ctx context.Context) error
	Stats() pipeline.Stats
}

// healthBody is the /healthz response. LastCycle is omitted until the first
// cycle completes.
type healthBody struct {
	Status          string `json:"status"`
	Service         string `json:"service"`
	TrackedEntities int    `json:"tracked_entities"`
	LastCycle       string `json:"last_cycle,omitempty"`
}

// Server serves /healthz, /readyz, and /metrics.
type Server struct {
	httpServer *http.Server
	monitor    StatusReporter
	logger     *slog.Logger
}

// NewServer creates the ops HTTP server.
func NewServer(addr string, monitor StatusReporter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		monitor: monitor,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("ops server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.monitor.Stats()
	body := healthBody{
		Status:          "healthy",
		Service:         "vicemergency-monitor",
		TrackedEntities: stats.TrackedEntities,
	}
	if !stats.LastCycle.IsZero() {
		body.LastCycle = stats.LastCycle.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.monitor.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
