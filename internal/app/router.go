// Package app wires configuration, adapters, and routes into runnable
// server pieces.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/global-credit-core/internal/adapter/httpserver"
	"github.com/fairyhunter13/global-credit-core/internal/adapter/ws"
	"github.com/fairyhunter13/global-credit-core/internal/config"
	"github.com/fairyhunter13/global-credit-core/internal/observability"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middleware and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// The WebSocket endpoint stays outside the timeout wrapper:
	// http.TimeoutHandler's response writer cannot be hijacked for the
	// upgrade.
	r.Get("/ws", ws.Handler(hub))

	r.Group(func(hr chi.Router) {
		hr.Use(httpserver.TimeoutMiddleware(30 * time.Second))

		// Authenticated API surface. Mutating routes carry the per-IP
		// rate limit; reads stay unthrottled.
		hr.Route("/v1/applications", func(ar chi.Router) {
			ar.Use(srv.RequireAuth())

			ar.Group(func(mr chi.Router) {
				mr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
				mr.Post("/", srv.CreateApplicationHandler())
			})

			ar.Get("/", srv.ListApplicationsHandler())
			ar.Get("/{id}", srv.GetApplicationHandler())
			ar.Get("/{id}/audit", srv.AuditLogsHandler())
			ar.Get("/{id}/pending-jobs", srv.PendingJobsHandler())
			ar.Get("/stats/country/{code}", srv.CountryStatsHandler())

			ar.Group(func(admin chi.Router) {
				admin.Use(srv.RequireAdmin())
				admin.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
				admin.Patch("/{id}", srv.UpdateApplicationHandler())
				admin.Delete("/{id}", srv.DeleteApplicationHandler())
			})
		})

		// Supported countries are public metadata: clients need them
		// before they can authenticate a submission.
		hr.Get("/v1/applications/meta/supported-countries", srv.SupportedCountriesHandler())

		// Bank confirmations authenticate with the HMAC signature, not
		// JWT.
		hr.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
			wr.Post("/v1/webhooks/bank-confirmation", srv.BankConfirmationHandler())
		})

		if !cfg.IsProd() {
			hr.Post("/v1/auth/token", srv.DevTokenHandler())
		}

		hr.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		hr.Get("/readyz", srv.ReadyzHandler())
		hr.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	})

	return httpserver.SecurityHeaders(r)
}
