package service

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// HealthzServer answers liveness probes while a run is executing.
type HealthzServer struct {
	log     log.Logger
	version string
	server  *http.Server
}

// NewHealthzServer creates a healthz server that reports the given
// build version.
func NewHealthzServer(logger log.Logger, version string) *HealthzServer {
	return &HealthzServer{
		log:     logger.New("component", "healthz"),
		version: version,
	}
}

type healthzResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Start serves /healthz on addr until the server is shut down.
func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Handle)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})

	h.server = &http.Server{
		Handler: c.Handler(mux),
		Addr:    addr,
	}
	return h.server.ListenAndServe()
}

// Shutdown stops the server if it was started.
func (h *HealthzServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// Handle reports liveness. The runner is healthy for as long as the
// process serves; there is no degraded state to report.
func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received healthz request", "remote", r.RemoteAddr)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(healthzResponse{Status: "ok", Version: h.version}); err != nil {
		h.log.Warn("Failed to write healthz response", "err", err)
	}
}
