package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medops/hospital-reservations/internal/admission"
	"github.com/medops/hospital-reservations/internal/auth"
	"github.com/medops/hospital-reservations/internal/booking"
	"github.com/medops/hospital-reservations/internal/slot"
)

type RouterConfig struct {
	Slots      *slot.Service
	Bookings   *booking.Service
	Admissions *admission.Service
	PgPool     *pgxpool.Pool
	Redis      *redis.Client
	JWTSecret  []byte
	Logger     zerolog.Logger
	Env        string
	Version    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints stay outside authentication.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.JWTSecret))

		// Slot management and discovery
		r.Post("/admin/slots", createSlotHandler(cfg.Slots))
		r.Post("/admin/slots/_bulk", bulkCreateSlotsHandler(cfg.Slots))
		r.Delete("/admin/slots/{id}", cancelSlotHandler(cfg.Slots))
		r.Get("/slots", searchSlotsHandler(cfg.Slots))
		r.Get("/slots/{id}", getSlotHandler(cfg.Slots))

		// Appointments
		r.Post("/appointments", bookAppointmentHandler(cfg.Bookings))
		r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Bookings))
		r.Get("/appointments", searchAppointmentsHandler(cfg.Bookings))

		// Admissions
		r.Post("/admissions", admitHandler(cfg.Admissions))
		r.Patch("/admissions/{id}/discharge", dischargeHandler(cfg.Admissions))
		r.Patch("/admissions/{id}", updateAdmissionHandler(cfg.Admissions))
		r.Get("/admissions", searchAdmissionsHandler(cfg.Admissions))

		// Capacity configuration
		r.Put("/admin/departments/{code}/capacity", setCapacityHandler(cfg.Admissions))
		r.Get("/admin/departments/{code}/capacity", getCapacityHandler(cfg.Admissions))
	})

	return r
}
