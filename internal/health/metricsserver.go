package health

import (
	"context"
	"net/http"

	"executioncore/internal/core"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves /metrics off the Prometheus default registry on its
// own port, adapted from the teacher's infrastructure/metrics.Server.
type MetricsServer struct {
	addr   string
	logger core.ILogger
	srv    *http.Server
}

func NewMetricsServer(addr string, logger core.ILogger) *MetricsServer {
	return &MetricsServer{addr: addr, logger: logger.WithField("component", "metrics_server")}
}

func (s *MetricsServer) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		s.logger.Info("starting metrics server", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

func (s *MetricsServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
