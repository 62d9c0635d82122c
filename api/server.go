/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/inventory-ledger/*   Ledger ingestion, dashboard and operator actions
  /metrics                  Prometheus scrape endpoint
  /healthz                  Liveness plus database ping

SECURITY NOTE:
  No authentication middleware. Deploy behind an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAllowedOrigins are used when none are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// RouterOptions configure NewRouter.
type RouterOptions struct {
	Gatherer       prometheus.Gatherer
	Health         func(ctx context.Context) error
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api/inventory-ledger", func(r chi.Router) {
		// Ingestion
		r.Post("/sync", h.Sync)
		r.Post("/update-statuses", h.UpdateStatuses)
		r.Post("/automation/sync", h.AutomationSync)
		r.Get("/runs", h.ListRuns)

		// Dashboard
		r.Get("/", h.ListEvents)
		r.Get("/stats", h.Stats)
		r.Get("/claimable", h.Claimable)
		r.Get("/claimable/export", h.ExportClaimable)
		r.Get("/{id}/claim-text", h.ClaimText)

		// Operator actions
		r.Post("/{id}/claim", h.MarkClaimed)
		r.Post("/{id}/paid", h.MarkPaid)
		r.Post("/cleanup", h.Cleanup)
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Health(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "unhealthy", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
