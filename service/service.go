// Package service runs the optional monitoring surface of a test run:
// a healthz endpoint for liveness probes and a Prometheus metrics
// endpoint, exposed only while the run executes.
package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrun/metrics"
)

const (
	defaultHealthzHost = "0.0.0.0"
	defaultHealthzPort = "8080"

	defaultMetricsHost = "0.0.0.0"
	defaultMetricsPort = "7300"

	// shutdownGrace bounds how long in-flight scrapes can delay the end
	// of a run.
	shutdownGrace = 5 * time.Second
)

// Service owns the monitoring servers of one run.
type Service struct {
	log     log.Logger
	healthz *HealthzServer
	metrics *MetricsServer

	HealthzAddr string
	MetricsAddr string
}

// New creates the monitoring service. The version is reported by the
// healthz endpoint so probes can tell which build is serving.
func New(logger log.Logger, version string) *Service {
	return &Service{
		log:         logger.New("component", "monitor"),
		healthz:     NewHealthzServer(logger, version),
		metrics:     &MetricsServer{},
		HealthzAddr: net.JoinHostPort(defaultHealthzHost, defaultHealthzPort),
		MetricsAddr: net.JoinHostPort(defaultMetricsHost, defaultMetricsPort),
	}
}

// Start brings both servers up in the background. Listen errors are
// logged and recorded, not propagated: a run must not fail because its
// observability endpoints could not bind.
func (s *Service) Start(ctx context.Context) {
	s.log.Info("Starting monitoring servers", "healthz", s.HealthzAddr, "metrics", s.MetricsAddr)

	go func() {
		if err := s.healthz.Start(ctx, s.HealthzAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Healthz server failed", "err", err)
			metrics.RecordErrorDetails("healthz server", err)
		}
	}()

	go func() {
		if err := s.metrics.Start(ctx, s.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Metrics server failed", "err", err)
			metrics.RecordErrorDetails("metrics server", err)
		}
	}()
}

// Shutdown stops both servers, giving in-flight requests a short grace
// period.
func (s *Service) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := s.healthz.Shutdown(ctx); err != nil {
		s.log.Warn("Healthz server shutdown", "err", err)
	}
	if err := s.metrics.Shutdown(ctx); err != nil {
		s.log.Warn("Metrics server shutdown", "err", err)
	}
	s.log.Info("Monitoring servers stopped")
}
