/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: zerolog logger in the request context, access log, metrics
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the admin front end
  5. RateLimit:     Per-IP limit on /api (httprate)

ROUTE GROUPS:
  /api/obligations/*    Obligation definitions and generation
  /api/periods/*        Period queries and workflow
  /api/compliance/*     Compliance reporting
  /api/alerts           Derived alerts
  /api/scenarios/*      Demo scenarios (server.scenarios only)
  /metrics              Prometheus
  /healthz              Liveness

SECURITY NOTE:
  Caller identity comes from X-Actor-* headers set by the identity
  provider in front of this service. There is no authentication here.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the transport knobs taken from configuration.
type RouterConfig struct {
	CORSOrigins []string

	// RateLimit is requests per minute per client IP on /api; 0 disables it.
	RateLimit int

	// Scenarios routes the demo scenario loaders.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerActorID, headerActorRole},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimit))

		r.Route("/obligations", func(r chi.Router) {
			r.Get("/", h.ListObligations)
			r.Post("/", h.CreateObligation)
			r.Get("/{id}", h.GetObligation)
			r.Post("/{id}/generate", h.GeneratePeriods)
		})

		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Get("/{id}", h.GetPeriod)
			r.Get("/{id}/events", h.ListEvents)
			r.Post("/{id}/assign", h.AssignPeriod)
			r.Post("/{id}/transitions", h.FireTransition)
			r.Post("/{id}/validation", h.ValidatePeriod)
		})

		r.Route("/compliance", func(r chi.Router) {
			r.Get("/", h.GetCompliance)
			r.Get("/series", h.GetComplianceSeries)
		})

		r.Get("/alerts", h.ListAlerts)

		if cfg.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
