package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server exposes the manager's Prometheus registry on /metrics and a
// trivial /health endpoint, the way the teacher's LegacyMetricsServer
// did for its OTLP-backed manager.
type Server struct {
	server *http.Server
}

// NewServer builds an HTTP server bound to addr. When telemetry is
// disabled (nil registry) only /health is served; /metrics is not
// registered.
func NewServer(addr string, tm *TelemetryManager) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	if reg := tm.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return &Server{server: &http.Server{Addr: addr, Handler: mux}}
}

// Start blocks serving until the listener errors or Stop is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting metrics server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
