package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	redisadapter "github.com/campustix/campustix/internal/adapters/redis"
	"github.com/campustix/campustix/internal/observability"
	"github.com/campustix/campustix/internal/ratelimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *ratelimit.RateLimiter, idemp *redisadapter.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(IdentityMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyMiddleware(idemp))

	r.Post("/v1/registrations", h.CreateRegistration)
	r.Get("/v1/registrations/{id}", h.GetRegistration)
	r.Get("/v1/registrations/number/{number}", h.GetRegistrationByNumber)
	r.Post("/v1/registrations/{id}/cancel", h.CancelRegistration)
	r.Post("/v1/registrations/{id}/refund", h.ProcessRefund)
	r.Get("/v1/my/registrations", h.ListMyRegistrations)

	r.Get("/v1/events/{id}/tiers", h.ListEventTiers)
	r.Get("/v1/events/{id}/stats", h.EventStats)
	r.Get("/v1/events/{id}/registrations", h.ListEventRegistrations)
	r.Get("/v1/events/{id}/registrations/export", h.ExportEventRegistrations)
	r.Post("/v1/events/{id}/cancel-registrations", h.CancelEventRegistrations)

	r.Post("/v1/payments/notifications", h.PaymentNotification)

	r.Post("/v1/checkins/validate", h.ValidateCredential)
	r.Post("/v1/checkins", h.CheckIn)
	r.Post("/v1/checkins/bulk", h.BulkCheckIn)
	r.Post("/v1/checkins/{id}/undo", h.UndoCheckIn)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
