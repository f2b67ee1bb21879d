// Package api provides an optional HTTP server exposing a running sync's
// pre-flight health, live progress, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/s3sync-go/engine/internal/health"
	"github.com/s3sync-go/engine/internal/telemetry/metrics"
	"github.com/s3sync-go/engine/pkg/status"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /health, /status, and /metrics for one sync run. It is
// entirely optional: a CLI invocation that never constructs one behaves
// exactly as if the package didn't exist.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	probe      *health.Probe
	collector  *metrics.Collector
	config     ServerConfig
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Address      string        `yaml:"address" json:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer wires tracker, probe, and collector into a Server. Any of the
// three may be nil; the corresponding endpoint then reports itself as not
// configured rather than panicking.
func NewServer(config ServerConfig, tracker *status.Tracker, probe *health.Probe, collector *metrics.Collector) *Server {
	s := &Server{tracker: tracker, probe: probe, collector: collector, config: config}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	if collector != nil && collector.Registry() != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Start blocks serving HTTP until the server is shut down or fails.
func (s *Server) Start() error {
	slog.Info("api server starting", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a goroutine, logging any error other
// than the expected one from Shutdown.
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("api server stopped", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.probe == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"healthy": true, "note": "no pre-flight probe configured"})
		return
	}

	report := s.probe.Run(r.Context())
	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.tracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no sync run is being tracked")
		return
	}
	s.respondJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("api request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode api response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]any{"error": message})
}
