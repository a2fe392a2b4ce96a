package controller

import (
	"time"

	"github.com/cassiomorais/eventpay/internal/infrastructure/config"
	"github.com/cassiomorais/eventpay/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/eventpay/internal/middleware"
	"github.com/cassiomorais/eventpay/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	HealthChecks        []HealthCheck
	OrderService        *service.OrderService
	WebhookReconciler   *service.WebhookReconciler
	RegistrationService *service.RegistrationService
	AuditService        *service.AuditService
	IdempotencyStore    customMW.IdempotencyStore
	IdempotencyTTL      time.Duration
	Metrics             *observability.Metrics
	Gatherer            prometheus.Gatherer
	Currency            string
	JWTSecret           string
	RateLimit           int
	CORSConfig          config.CORSConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestActor())
	r.Use(customMW.Tracing())
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.Metrics(deps.Metrics))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))

	healthH := NewHealthController(deps.HealthChecks...)
	orderH := NewOrderController(deps.OrderService, deps.Currency)
	webhookH := NewWebhookController(deps.WebhookReconciler)
	registrationH := NewRegistrationController(deps.RegistrationService)
	adminH := NewAdminController(deps.AuditService, deps.RegistrationService)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Webhooks are authenticated by gateway signature, not by JWT.
		r.With(customMW.RateLimit(deps.RateLimit)).Post("/webhooks/{gateway}", webhookH.Receive)

		r.Group(func(r chi.Router) {
			r.Use(customMW.RateLimit(deps.RateLimit))

			r.Post("/registrations", registrationH.Register)

			r.With(customMW.Idempotency(deps.IdempotencyStore, deps.IdempotencyTTL)).Post("/orders", orderH.Create)
			r.Get("/orders/{id}", orderH.Get)
			r.Post("/orders/{id}/verify", orderH.Verify)

			r.Post("/coupons/resolve", orderH.ResolveCoupon)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(customMW.RequireAuth(deps.JWTSecret, customMW.RoleAdmin))

			r.Get("/audit", adminH.QueryAudit)
			r.Get("/registrations/{id}", adminH.GetRegistration)
			r.Get("/registrations/{id}/export", adminH.ExportRegistration)
			r.Delete("/registrations/{id}", adminH.EraseRegistration)
		})
	})

	return r
}
