package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter mounts the v1 API. /metrics is served both at the root,
// for scrapers, and under /api/v1.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID, s.accessLog, s.recoverPanics, s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	metrics := s.metrics.Handler()
	r.Handle("/metrics", metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/entities", s.handleEntities)

		r.Post("/commands", s.handleCommand)
		r.Post("/invoke", s.handleInvoke)
		r.Post("/refresh", s.handleRefresh)

		r.Put("/options", s.handleOptions)
		r.Get("/diagnostics", s.handleDiagnostics)

		r.Route("/history", func(r chi.Router) {
			r.Get("/commands", s.handleCommandHistory)
			r.Get("/snapshots", s.handleSnapshotHistory)
		})

		r.Get("/ws", s.handleWebSocket)
		r.Handle("/metrics", metrics)
	})

	return r
}
