// Package http provides the HTTP transport layer for notifyq.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	POST   /checkables
//	GET    /checkables/{name}
//	POST   /notifications
//	GET    /notifications/{name}
//	POST   /events/state-change
//	POST   /events/flapping
//	POST   /events/ack
//	POST   /events/config-change
//	GET    /stats
//	GET    /audit
//	GET    /metrics
//	GET    /stream
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/snehjoshi/notifyq/internal/config"
	"github.com/snehjoshi/notifyq/internal/service"
	transportws "github.com/snehjoshi/notifyq/internal/transport/websocket"
)

// Server wraps the stdlib HTTP server with notifyq's route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server from a Service.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(svc *service.Service, cfg *config.Config) *Server {
	h := NewHandler(svc)
	ws := transportws.NewHandler(svc)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Checkable / notification registry (ops surface; a full
	// configuration-object system would source these from parsed config
	// instead).
	mux.HandleFunc("POST /checkables", h.CreateCheckable)
	mux.HandleFunc("GET /checkables/{name}", h.GetCheckable)
	mux.HandleFunc("POST /notifications", h.CreateNotification)
	mux.HandleFunc("GET /notifications/{name}", h.GetNotification)

	// EventIngress
	mux.HandleFunc("POST /events/state-change", h.StateChange)
	mux.HandleFunc("POST /events/flapping", h.FlappingChanged)
	mux.HandleFunc("POST /events/ack", h.AcknowledgementSet)
	mux.HandleFunc("POST /events/config-change", h.ConfigObjectChange)

	// StatsSurface / audit
	mux.HandleFunc("GET /stats", h.Stats)
	mux.HandleFunc("GET /audit", h.Audit)

	// Metrics (Prometheus text format)
	if cfg.Metrics.Enabled {
		mux.HandleFunc("GET /metrics", h.Metrics)
	}

	// Live stats push
	mux.Handle("GET /stream", ws)

	authEnabled := cfg.Auth.Enabled
	apiKey := cfg.Auth.APIKey

	var handler http.Handler = mux
	handler = chain(handler,
		CORSMiddleware,
		MaxBodyMiddleware,
		LoggingMiddleware,
		AuthMiddleware(apiKey, authEnabled),
		RateLimitMiddleware(50, 100),
	)

	return &Server{
		inner: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
