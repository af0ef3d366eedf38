package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
	"github.com/hackgods/gp-appointment-portal/internal/auth"
)

// BookingService is the slice of appointment.Service the HTTP layer calls.
type BookingService interface {
	CreateBooking(ctx context.Context, req appointment.BookingRequest) (*appointment.AppointmentDetail, error)
	CancelBooking(ctx context.Context, actor appointment.Actor, id int64) (*appointment.Appointment, error)
	RescheduleBooking(ctx context.Context, actor appointment.Actor, id, newSlotID int64) (*appointment.AppointmentDetail, error)
	ListActiveAppointments(ctx context.Context, patientID int64) ([]appointment.AppointmentDetail, error)
	ListAppointments(ctx context.Context, f appointment.AppointmentFilter) ([]appointment.AppointmentDetail, error)
	ParseDate(raw string) (time.Time, error)
	DayBounds(date time.Time) (time.Time, time.Time)
	ListAvailableSlots(ctx context.Context, date time.Time, clinicianID *int64) (appointment.Availability, error)
	ListClinicians(ctx context.Context) ([]appointment.Clinician, error)
	CreateSlot(ctx context.Context, in appointment.SlotInput) (*appointment.Slot, error)
	DeleteSlot(ctx context.Context, id int64) error
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (*auth.Session, error)
}

type RouterConfig struct {
	Service BookingService
	Auth    Authenticator
	Tokens  TokenParser
	Health  *HealthHandler
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware(cfg.Logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method "+r.Method+" not allowed")
	})

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Route("/api", func(r chi.Router) {
		// public
		r.Post("/auth/login", loginHandler(cfg.Auth, cfg.Logger))
		r.Get("/available-slots", availableSlotsHandler(cfg.Service, cfg.Logger))
		r.Get("/clinicians", listCliniciansHandler(cfg.Service, cfg.Logger))
		r.Get("/openapi", openAPIHandler(cfg.Logger))

		r.Group(func(r chi.Router) {
			r.Use(RequireSession(cfg.Tokens))

			r.Get("/appointments", listAppointmentsHandler(cfg.Service, cfg.Logger))
			r.Post("/appointments", createAppointmentHandler(cfg.Service, cfg.Logger))
			r.Delete("/appointments", cancelAppointmentHandler(cfg.Service, cfg.Logger))
			r.Patch("/appointments", rescheduleAppointmentHandler(cfg.Service, cfg.Logger))

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Post("/slots", createSlotHandler(cfg.Service, cfg.Logger))
				r.Delete("/slots/{id}", deleteSlotHandler(cfg.Service, cfg.Logger))
				r.Get("/appointments", adminListAppointmentsHandler(cfg.Service, cfg.Logger))
			})
		})
	})

	return r
}
