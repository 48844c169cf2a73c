// Package server assembles the HTTP API: the security pipeline in front of
// the diagram, credential and alert handlers.
package server

import (
	"itdesk/internal/authz"
	"itdesk/internal/handlers"
	"itdesk/internal/metrics"
	"itdesk/internal/middleware"
	"itdesk/internal/models"
	"itdesk/internal/services"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const requestTimeout = 60 * time.Second

type Deps struct {
	Log          *zap.Logger
	AllowOrigins []string
	CookieSecure bool

	Limiter *services.RateLimiter
	CSRF    *services.CSRFGuard
	Session *middleware.SessionAuth
	Alerts  middleware.AlertSink
	Metrics *metrics.Metrics

	Gatherer prometheus.Gatherer

	Diagrams    handlers.DiagramStore
	Credentials handlers.CredentialVault
	AlertReader handlers.AlertReader

	// StreamInterval overrides the alert stream poll interval.
	StreamInterval time.Duration
}

// NewRouter wires every route. Each request passes rate limiting, then CSRF,
// then session verification, then the role gate; the first failure ends it.
func NewRouter(d Deps) http.Handler {
	csrfHandler := handlers.NewCSRFHandler(d.CSRF)
	sessionHandler := handlers.NewSessionHandler(d.Session, d.CookieSecure)
	infraHandler := handlers.NewInfraHandler(d.Diagrams, d.Log)
	docsHandler := handlers.NewDocsHandler(d.Credentials, d.Log)
	securityHandler := handlers.NewSecurityHandler(d.AlertReader, d.Log).WithInterval(d.StreamInterval)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.CSRFHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	csrf := middleware.CSRF(d.CSRF, d.Alerts, d.Metrics)
	gate := func(res authz.Resource, act authz.Action) func(http.Handler) http.Handler {
		return middleware.Require(res, act, d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimiting(d.Limiter, models.RouteClassAuth, d.Alerts))
			r.Use(csrf)
			r.Use(chimiddleware.Timeout(requestTimeout))

			r.Post("/auth/session", sessionHandler.Create)
			r.Post("/auth/logout", sessionHandler.Delete)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimiting(d.Limiter, models.RouteClassAPI, d.Alerts))
			r.Use(csrf)

			r.With(chimiddleware.Timeout(requestTimeout)).Get("/csrf", csrfHandler.Issue)

			r.Group(func(r chi.Router) {
				r.Use(d.Session.Middleware())

				// long-lived, so outside the request timeout
				r.With(gate(authz.ResourceSecurityAlert, authz.ActionRead)).
					Get("/security/alerts/stream", securityHandler.StreamAlerts)

				r.Group(func(r chi.Router) {
					r.Use(chimiddleware.Timeout(requestTimeout))

					r.With(gate(authz.ResourceInfra, authz.ActionRead)).Get("/infra", infraHandler.List)
					r.With(gate(authz.ResourceInfra, authz.ActionCreate)).Post("/infra", infraHandler.Save)
					r.With(gate(authz.ResourceInfra, authz.ActionDelete)).Delete("/infra/{id}", infraHandler.Delete)

					r.With(gate(authz.ResourceCredential, authz.ActionReveal)).Post("/docs/{id}/reveal", docsHandler.Reveal)
					r.With(gate(authz.ResourceCredential, authz.ActionRead)).Get("/docs/{id}/access", docsHandler.AccessLog)

					r.With(gate(authz.ResourceSecurityAlert, authz.ActionRead)).Get("/security/alerts", securityHandler.ListAlerts)
				})
			})
		})
	})

	return r
}
