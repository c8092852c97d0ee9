package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"function-ticketing-platform/internal/handlers"
	"function-ticketing-platform/internal/middleware"
)

func newRouter(a *app) http.Handler {
	var pinger handlers.Pinger
	if a.db != nil {
		pinger = a.db
	}

	registrationHandler := handlers.NewRegistrationHandler(a.orchestrator, a.logger)
	webhookHandler := handlers.NewWebhookHandler(a.orchestrator, a.verifier, a.dedup, a.metrics, a.logger)
	healthHandler := handlers.NewHealthHandler(pinger, version)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Recoverer(a.logger))
	r.Use(chimiddleware.CleanPath)
	r.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig(a.cfg.Server.CORSOrigins)))
	r.Use(middleware.SecurityHeadersMiddleware)

	r.NotFound(middleware.NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler().ServeHTTP)

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", a.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/registrations", func(r chi.Router) {
			r.With(middleware.RateLimit(a.limiter)).Post("/", registrationHandler.CreateRegistration)
			r.Get("/{id}", registrationHandler.GetRegistration)
		})
		r.Post("/webhooks/square", webhookHandler.SquareWebhook)
	})

	return r
}
