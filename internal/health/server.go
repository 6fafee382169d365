package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the monitor over HTTP alongside the prometheus endpoint.
type Server struct {
	monitor *Monitor
	started time.Time
	server  *http.Server
}

// NewServer creates the health server on the given port.
func NewServer(monitor *Monitor, port int) *Server {
	s := &Server{
		monitor: monitor,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// aggregate reduces a component report to the worst observed status.
func aggregate(report map[string]ComponentHealth) Status {
	status := StatusHealthy
	for _, c := range report {
		switch c.Status {
		case StatusCritical:
			return StatusCritical
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	status := aggregate(report)

	code := http.StatusOK
	if status == StatusCritical {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":         string(status),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     string(aggregate(report)),
		"components": report,
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
