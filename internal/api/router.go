package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/telemed-booking/internal/booking"
)

type RouterConfig struct {
	Service *booking.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Everything else requires a resolved identity
	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware(cfg.Service))

		r.Get("/users/me", currentUserHandler())
		r.Post("/users/role", setRoleHandler(cfg.Service))

		r.Put("/availability", setAvailabilityHandler(cfg.Service))
		r.Get("/doctors/{id}/slots", getOpenSlotsHandler(cfg.Service))

		r.Post("/appointments", bookAppointmentHandler(cfg.Service))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service))
		r.Post("/appointments/{id}/join", markJoinedHandler(cfg.Service))
		r.Post("/appointments/{id}/finalize", finalizeHandler(cfg.Service))
		r.Post("/appointments/{id}/cancel", cancelHandler(cfg.Service))
		r.Post("/appointments/{id}/token", sessionTokenHandler(cfg.Service))

		r.Post("/maintenance/sweep", sweepHandler(cfg.Service))
	})

	return r
}
