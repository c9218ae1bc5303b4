package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	if g.metrics != nil {
		r.Method(http.MethodGet, "/metrics", g.metrics)
	}

	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(requireAuth(g.config.Auth, g.logger))
		}
		r.Get("/ws", g.hub.ServeHTTP)
		r.Route("/api", func(r chi.Router) {
			r.Get("/status", g.handleStatus())
			r.Post("/messages", g.handleSendMessage())
			r.Get("/history", g.handleGetHistory())
			r.Delete("/history", g.handleClearHistory())
			r.Get("/config", g.handleGetConfig())
			r.Put("/config", g.handleUpdateConfig())
		})
	})

	return r
}
