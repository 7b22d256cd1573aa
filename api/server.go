/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the retailer frontend

ROUTE GROUPS:
  /outstanding/*   Obligations, payments, history, summaries
  /healthz         Liveness probe

ROUTE NOTE:
  All /outstanding subroutes share the {id} parameter name; chi rejects
  conflicting names at the same position. Whether {id} means a retailer
  or an obligation depends on the route (see handlers.go).

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/outstanding", func(r chi.Router) {
		// Back-office
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/summary/all", h.GlobalSummary)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)

		// Retailer-facing ({id} is the retailer except for /history)
		r.Get("/{id}", h.ListForUser)
		r.Get("/{id}/summary", h.UserSummary)
		r.Get("/{id}/history", h.History)
		r.Post("/{id}/pay", h.Pay)
	})

	r.Get("/healthz", h.Healthz)

	return r
}
