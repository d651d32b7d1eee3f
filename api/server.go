/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the web client

ROUTE GROUPS:
  /auth/login, /api/uptime  Public
  /api/scenarios/*          Public, only with -demo-scenarios
  /auth/logout              Bearer session
  /modules, /accesses       Bearer session
  /requests/*               Bearer session

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: RequireSession
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
// allowedOrigins configures CORS; empty disables cross-origin access.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Public routes
	r.Post("/auth/login", h.Login)
	r.Get("/api/uptime", h.Uptime)

	// Demo scenarios
	if h.Catalog != nil {
		r.Get("/api/scenarios", h.ListScenarios)
		r.Post("/api/scenarios/load", h.LoadScenario)
	}

	// Session routes
	r.Group(func(r chi.Router) {
		r.Use(h.RequireSession)

		r.Post("/auth/logout", h.Logout)
		r.Get("/modules", h.ListModules)
		r.Get("/accesses", h.ListAccesses)

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.CreateRequest)
			r.Get("/", h.SearchRequests)
			r.Post("/renew", h.RenewRequest)
			r.Get("/{protocol}", h.GetRequest)
			r.Post("/{protocol}/cancel", h.CancelRequest)
		})
	})

	return r
}
