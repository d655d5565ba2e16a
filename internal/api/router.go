package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tenadam/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	Clock   scheduling.Clock
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
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment endpoints
	r.Group(func(r chi.Router) {
		// Booking is the contended write path; keep one client from
		// hammering a slot.
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Post("/appointments", bookAppointmentHandler(cfg.Service))
	})
	r.Get("/appointments", listAppointmentsHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/check-in", checkInHandler(cfg.Service))

	// Availability and queue
	r.Get("/doctors/{id}/slots", availableSlotsHandler(cfg.Service))
	r.Get("/clinics/{id}/queue", clinicQueueHandler(cfg.Service))

	// Closure admin
	r.Post("/closures", createClosureHandler(cfg.Service))
	r.Get("/closures", listClosuresHandler(cfg.Service))
	r.Delete("/closures/{id}", deleteClosureHandler(cfg.Service))

	// Dual-calendar feed
	r.Get("/calendar/convert", convertDateHandler())
	r.Get("/calendar/today", todayHandler(cfg.Clock))

	return r
}
