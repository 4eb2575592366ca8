package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
)

// RouterOptions carries the optional cross-cutting pieces. A nil Limiter or
// Idempotency disables that middleware. Idempotency only covers
// authenticated routes.
type RouterOptions struct {
	Limiter       Limiter
	RateLimitIP   int
	RateLimitUser int
	Idempotency   IdempotencyStore
}

func SetupRouter(h *Handlers, logger observability.Logger, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	limit := func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(RateLimitMiddleware(opts.Limiter, opts.RateLimitIP, opts.RateLimitUser))
		}
	}

	// no replay before authentication: a stored login answer carries a session
	r.Group(func(r chi.Router) {
		limit(r)
		r.Post("/v1/auth/login", h.Login)
		r.Post("/v1/auth/register", h.Register)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.sessions))
		limit(r)
		if opts.Idempotency != nil {
			r.Use(IdempotencyMiddleware(opts.Idempotency))
		}

		r.Post("/v1/auth/logout", h.Logout)

		r.Get("/v1/routes", h.ListRoutes)
		r.Get("/v1/routes/{id}", h.GetRoute)

		r.Route("/v1/purchases", func(r chi.Router) {
			r.With(RequireRole(domain.RolePassenger)).Post("/", h.CreatePurchase)
			r.Get("/{id}", h.GetPurchase)
			r.Post("/{id}/pay", h.PayPurchase)
			r.Get("/{id}/stream", h.StreamPurchase)
			r.Get("/{id}/events", h.PurchaseEvents)
		})

		r.Get("/v1/tickets", h.ListTickets)
		r.Get("/v1/tickets/{id}/pdf", h.TicketPDF)

		r.With(RequireRole(domain.RoleDriver)).Post("/v1/boarding/validate", h.ValidateBoarding)

		r.Get("/v1/profile", h.GetProfile)
		r.Put("/v1/profile", h.UpdateProfile)
		r.Post("/v1/profile/picture", h.UpdateProfilePicture)
	})

	return r
}
