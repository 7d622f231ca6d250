// Package httpadapter serves the probe, metrics and profile management
// endpoints.
package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /healthz, /readyz, /metrics and the /v1/profiles API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer mounts the probes against ready and the profile routes against
// profiles.
func NewServer(addr string, ready sharedobs.ReadinessChecker, profiles *ProfileHandler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "http"),
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/profiles", profiles.List)
	mux.HandleFunc("POST /v1/profiles", profiles.Create)
	mux.HandleFunc("GET /v1/profiles/{id}", profiles.Get)
	mux.HandleFunc("PUT /v1/profiles/{id}", profiles.Update)
	mux.HandleFunc("DELETE /v1/profiles/{id}", profiles.Delete)
	mux.HandleFunc("POST /v1/profiles/{id}/activate", profiles.Activate)
	mux.HandleFunc("POST /v1/profiles/{id}/deactivate", profiles.Deactivate)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func writeError(w http.ResponseWriter, status int, message string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": message})
}
