package health

import (
	"context"
	"encoding/json"
	"net/http"

	"executioncore/internal/core"
)

// Server serves /healthz off the Manager's aggregated status, adapted from
// the teacher's infrastructure/server.HealthServer (the /metrics half of
// that file lives in MetricsServer in metricsserver.go, on its own port, matching the
// teacher's separate infrastructure/metrics.Server).
type Server struct {
	addr    string
	manager *Manager
	logger  core.ILogger
	srv     *http.Server
}

func NewServer(addr string, manager *Manager, logger core.ILogger) *Server {
	return &Server{addr: addr, manager: manager, logger: logger.WithField("component", "health_server")}
}

// Start begins serving in a background goroutine and returns at once, before
// the listener is bound; a listen error is only logged (the caller tears
// down via Stop).
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.srv = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		s.logger.Info("starting health server", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server failed", "error", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := s.manager.Status()
	body := map[string]interface{}{"components": status}

	w.Header().Set("Content-Type", "application/json")
	if s.manager.Healthy() {
		w.WriteHeader(http.StatusOK)
		body["status"] = "ok"
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		body["status"] = "unhealthy"
	}
	json.NewEncoder(w).Encode(body)
}
