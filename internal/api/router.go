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
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/outlets", func(r chi.Router) {
			r.Get("/", s.handleListOutlets)

			// {name} is a friendly name from config or a raw device id.
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetOutlet)
				r.Get("/state", s.handleGetState)
				r.Put("/relay", s.handleSetRelay)
				r.Get("/power", s.handleGetPower)
				r.Post("/nightlight", s.handleNightlight)
				r.Get("/history/energy", s.handleEnergyHistory)
				r.Get("/history/relay", s.handleRelayHistory)
			})
		})

		r.Post("/command", s.handleCommand)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"outlets": s.registry.Count(),
	})
}
