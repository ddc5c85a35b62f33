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
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the operations dashboard

ROUTE GROUPS:
  /api/events/*         Relief events and gap previews
  /api/needs-lists/*    Needs list lifecycle
  /api/warehouses       Warehouse reference data
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. The X-Actor-ID header identifies the
  caller; an upstream gateway is expected to own authentication while this
  service enforces per-transition authorization.

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
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Event routes
		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/{eventID}/preview", h.PreviewGaps)
		})

		// Needs list routes
		r.Route("/needs-lists", func(r chi.Router) {
			r.Get("/", h.ListNeedsLists)
			r.Post("/", h.CreateNeedsList)
			r.Get("/{id}", h.GetNeedsList)
			r.Get("/{id}/fulfillment-sources", h.GetFulfillmentSources)
			r.Post("/{id}/submit", h.SubmitNeedsList)
			r.Post("/{id}/review", h.StartReview)
			r.Post("/{id}/approve", h.ApproveNeedsList)
			r.Post("/{id}/reject", h.RejectNeedsList)
			r.Post("/{id}/return", h.ReturnNeedsList)
			r.Post("/{id}/escalate", h.EscalateNeedsList)
			r.Post("/{id}/remind", h.RemindNeedsList)
			r.Post("/{id}/overrides", h.ApplyOverrides)
			r.Post("/{id}/execution", h.RecordExecution)
			r.Post("/{id}/cancel", h.CancelNeedsList)
		})

		// Warehouse routes
		r.Get("/warehouses", h.ListWarehouses)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
