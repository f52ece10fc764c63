package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

// Server provides HTTP endpoints for metrics and health checks
type Server struct {
	server *http.Server
	logger *zap.Logger
	health HealthChecker
}

// HealthChecker interface for checking pipeline health
type HealthChecker interface {
	IsHealthy() bool
	GetStatus() pipeline.HealthStatus
}

// NewServer creates a new metrics HTTP server
func NewServer(addr string, health HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()

	s := &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
		health: health,
	}

	// Register handlers
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readinessHandler)
	mux.HandleFunc("/runs/last", s.lastRunHandler)
	mux.HandleFunc("/", s.rootHandler)

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.server.Addr))

	// Create a channel to receive startup errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait a brief moment to catch immediate errors (e.g., port already in use)
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start server: %w", err)
	case <-time.After(100 * time.Millisecond):
		// Server started successfully
		return nil
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down metrics server")
	return s.server.Shutdown(ctx)
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		http.Error(w, "Health checker not configured", http.StatusInternalServerError)
		return
	}

	status := s.health.GetStatus()

	w.Header().Set("Content-Type", "application/json")

	if status.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("Error encoding health status", zap.Error(err))
	}
}

// readinessHandler handles readiness probe requests
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		http.Error(w, "Health checker not configured", http.StatusInternalServerError)
		return
	}

	// Ready once both ends are connected
	status := s.health.GetStatus()

	if status.SourceConnected && status.SinkConnected {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ready")); err != nil {
			s.logger.Warn("Error writing readiness response", zap.Error(err))
		}
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("not ready")); err != nil {
			s.logger.Warn("Error writing readiness response", zap.Error(err))
		}
	}
}

// RunReporter is implemented by health checkers that keep the latest run
type RunReporter interface {
	LastRun() *pipeline.RunResult
}

// lastRunHandler serves the report of the most recent run as JSON
func (s *Server) lastRunHandler(w http.ResponseWriter, r *http.Request) {
	reporter, ok := s.health.(RunReporter)
	if !ok {
		http.Error(w, "Run reports not available", http.StatusNotFound)
		return
	}

	run := reporter.LastRun()
	if run == nil {
		http.Error(w, "No run completed yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(run); err != nil {
		s.logger.Warn("Error encoding run report", zap.Error(err))
	}
}

// rootHandler provides basic information about available endpoints
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `
<!DOCTYPE html>
<html>
<head>
    <title>CDC Fan-out Metrics</title>
</head>
<body>
    <h1>CDC Fan-out Metrics & Monitoring</h1>
    <ul>
        <li><a href="/metrics">Metrics (Prometheus format)</a></li>
        <li><a href="/health">Health Check (JSON)</a></li>
        <li><a href="/ready">Readiness Probe</a></li>
        <li><a href="/runs/last">Last Run Report (JSON)</a></li>
    </ul>
</body>
</html>
`
	if _, err := w.Write([]byte(html)); err != nil {
		s.logger.Warn("Error writing root response", zap.Error(err))
	}
}
