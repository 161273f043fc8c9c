package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	// Prometheus scrape endpoint
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleSystemMetrics)

		r.Route("/relays", func(r chi.Router) {
			r.Get("/", s.handleListRelays)
			r.Get("/{selector}", s.handleGetRelay)
		})

		r.Get("/kill-switch", s.handleKillSwitch)
		r.Get("/precharge", s.handlePrecharge)
		r.Get("/events", s.handleListEvents)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
