package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mkravets/studyroom-reservations/internal/idempotency"
	"github.com/mkravets/studyroom-reservations/internal/observability"
	"github.com/mkravets/studyroom-reservations/internal/rateLimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", h.Healthz)
		r.Get("/readyz", h.Readyz)

		r.Group(func(r chi.Router) {
			r.Use(ActorMiddleware)
			r.Use(RateLimitMiddleware(rl))
			r.Use(IdempotencyMiddleware(idemp))

			r.Post("/reservations", h.CreateReservation)
			r.Get("/reservations", h.ListReservations)
			r.Get("/reservations/upcoming", h.UpcomingReservations)
			r.Get("/reservations/{id}", h.GetReservation)
			r.Post("/reservations/{id}/cancel", h.CancelReservation)
			r.Post("/reservations/{id}/checkin", h.SignIn)
			r.Post("/reservations/{id}/checkout", h.SignOut)
			r.Post("/reservations/{id}/leave", h.Leave)
			r.Post("/reservations/{id}/return", h.Return)
			r.Post("/reservations/{id}/expire", h.ExpireNoShow)
			r.Get("/reservations/{id}/session", h.GetSession)
			r.Get("/reservations/{id}/fee", h.ReservationFee)
			r.Get("/availability", h.CheckAvailability)
		})
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
