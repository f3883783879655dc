package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the admin API. Health and metrics are open; everything
// else requires the shared secret when one is configured.
func NewRouter(h *Handlers, secret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Get("/metrics", h.handleMetrics)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(secret))

		r.Get("/mapping", h.handleMapping)
		r.Get("/ledger/{executionID}", h.handleLedger)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/last", h.handleLastRun)
			r.Post("/", h.handleTriggerRun)
		})
	})

	return r
}
