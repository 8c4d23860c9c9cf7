package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medicore/hospital-scheduling/internal/appointment"
)

type RouterConfig struct {
	Service   *appointment.Service
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	JWTSecret string
	Env       string
	Version   string
	Logger    zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// Appointment endpoints, bearer-protected
	r.Route("/appointments", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(cfg.JWTSecret))

		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/available", availableSlotsHandler(cfg.Service))
		r.Post("/", createAppointmentHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Put("/{id}", updateAppointmentHandler(cfg.Service))
		r.Put("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Put("/{id}/confirm", confirmAppointmentHandler(cfg.Service))
		r.Put("/{id}/complete", completeAppointmentHandler(cfg.Service))
		r.Put("/{id}/no-show", noShowAppointmentHandler(cfg.Service))
		r.Post("/{id}/reminder", sendReminderHandler(cfg.Service))
	})

	return r
}
