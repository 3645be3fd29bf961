package controller

import (
	"time"

	"github.com/gatewire/gatewire/internal/infrastructure/config"
	"github.com/gatewire/gatewire/internal/infrastructure/observability"
	customMW "github.com/gatewire/gatewire/internal/middleware"
	"github.com/gatewire/gatewire/internal/repository/postgres"
	"github.com/gatewire/gatewire/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Pool             *pgxpool.Pool
	RedisClient      *redis.Client
	ReconcileService *service.ReconcileService
	InitiateService  *service.InitiateService
	StatusService    *service.StatusService
	IdempotencyRepo  *postgres.IdempotencyRepository
	Metrics          *observability.Metrics
	CORSConfig       config.CORSConfig
	WebhookRateLimit int
	Logger           zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	webhookH := NewWebhookController(deps.ReconcileService, deps.Logger)
	paymentH := NewPaymentController(deps.InitiateService, deps.StatusService)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// Gateway webhooks. Rate limited per source IP; a misbehaving gateway
	// retry storm must not starve the buyer-facing API.
	r.Route("/webhooks", func(r chi.Router) {
		if deps.WebhookRateLimit > 0 {
			r.Use(customMW.RateLimit(deps.WebhookRateLimit))
		}
		r.Post("/{gateway}", webhookH.Receive)
	})

	r.Route("/api/v1", func(r chi.Router) {
		idempotencyMW := customMW.Idempotency(deps.IdempotencyRepo)

		r.With(idempotencyMW).Post("/payments", paymentH.InitiatePayment)
		r.Get("/payments/{id}", paymentH.GetPayment)
		r.Get("/orders/{id}/payments", paymentH.ListOrderPayments)
	})

	return r
}
