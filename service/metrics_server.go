package service

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the process-global Prometheus registry, which
// the metrics package registers its collectors into.
type MetricsServer struct {
	server *http.Server
}

// Start serves /metrics on addr until the server is shut down.
func (m *MetricsServer) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	m.server = &http.Server{
		Handler: mux,
		Addr:    addr,
	}
	return m.server.ListenAndServe()
}

// Shutdown stops the server if it was started.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
