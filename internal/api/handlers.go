package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
	"github.com/hackgods/gp-appointment-portal/internal/auth"
)

const maxNotesLength = 1000

func listAppointmentsHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		patientID, ok, err := queryID(r, "patientId")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", err.Error())
			return
		}
		if !ok {
			patientID = actor.UserID
		}
		if !actor.CanActFor(patientID) {
			writeError(w, http.StatusForbidden, "forbidden", appointment.ErrForbidden.Error())
			return
		}

		items, err := svc.ListActiveAppointments(r.Context(), patientID)
		if err != nil {
			switch {
			case errors.Is(err, appointment.ErrPatientNotFound):
				writeError(w, http.StatusNotFound, "patient_not_found", "User not found")
			default:
				writeServiceError(w, r, log, err, "Failed to fetch appointments")
			}
			return
		}

		writeJSON(w, http.StatusOK, emptyIfNil(items))
	}
}

func createAppointmentHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		p, err := decodePayload(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		req := appointment.BookingRequest{
			PatientID:   actor.UserID,
			SlotID:      p.id("slotId", "Slot ID"),
			ClinicianID: p.id("clinicianId", "Clinician ID"),
			Notes:       p.optionalString("notes", "Notes", maxNotesLength),
		}
		if verr := p.err(); verr != nil {
			writeValidation(w, verr)
			return
		}

		detail, err := svc.CreateBooking(r.Context(), req)
		if err != nil {
			handleCreateError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

func cancelAppointmentHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		id, ok, err := queryID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "missing_appointment_id", "Appointment ID is required")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		if _, err := svc.CancelBooking(r.Context(), actor, id); err != nil {
			switch {
			case errors.Is(err, appointment.ErrAlreadyCancelled):
				writeError(w, http.StatusConflict, "already_cancelled", err.Error())
			case errors.Is(err, appointment.ErrForbidden):
				writeError(w, http.StatusForbidden, "forbidden", err.Error())
			case errors.Is(err, appointment.ErrAppointmentNotFound):
				writeError(w, http.StatusInternalServerError, "appointment_not_found", "Appointment not found")
			default:
				writeServiceError(w, r, log, err, "Failed to cancel appointment")
			}
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Message: "Appointment cancelled successfully"})
	}
}

func rescheduleAppointmentHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		id, ok, err := queryID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "missing_appointment_id", "Appointment ID is required")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		p, err := decodePayload(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		newSlotID := p.id("newSlotId", "New slot ID")
		if verr := p.err(); verr != nil {
			writeValidation(w, verr)
			return
		}

		detail, err := svc.RescheduleBooking(r.Context(), actor, id, newSlotID)
		if err != nil {
			var verr *appointment.ValidationError
			switch {
			case errors.As(err, &verr):
				writeValidation(w, verr)
			case errors.Is(err, appointment.ErrSlotUnavailable):
				writeError(w, http.StatusBadRequest, "slot_unavailable", "Selected slot is not available")
			case errors.Is(err, appointment.ErrDuplicateBooking):
				writeError(w, http.StatusBadRequest, "duplicate_booking", err.Error())
			case errors.Is(err, appointment.ErrAlreadyCancelled):
				writeError(w, http.StatusConflict, "already_cancelled", err.Error())
			case errors.Is(err, appointment.ErrForbidden):
				writeError(w, http.StatusForbidden, "forbidden", err.Error())
			case errors.Is(err, appointment.ErrAppointmentNotFound):
				writeError(w, http.StatusInternalServerError, "appointment_not_found", "Appointment not found")
			default:
				writeServiceError(w, r, log, err, "Failed to reschedule appointment")
			}
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

func availableSlotsHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("date")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "missing_date", "Date is required")
			return
		}
		date, err := svc.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "Date must be in YYYY-MM-DD format")
			return
		}

		var clinicianID *int64
		if id, ok, err := queryID(r, "clinicianId"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinician_id", err.Error())
			return
		} else if ok {
			clinicianID = &id
		}

		avail, err := svc.ListAvailableSlots(r.Context(), date, clinicianID)
		if err != nil {
			writeServiceError(w, r, log, err, "Failed to fetch available slots")
			return
		}

		writeJSON(w, http.StatusOK, avail.Ordered())
	}
}

func listCliniciansHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicians, err := svc.ListClinicians(r.Context())
		if err != nil {
			writeServiceError(w, r, log, err, "Failed to fetch clinicians")
			return
		}
		writeJSON(w, http.StatusOK, emptyIfNil(clinicians))
	}
}

func loginHandler(authn Authenticator, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := decodePayload(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		email := p.optionalString("email", "Email", 320)
		password := p.optionalString("password", "Password", 256)
		if email == nil || *email == "" {
			p.verr.Add("email", "Email is required")
		}
		if password == nil || *password == "" {
			p.verr.Add("password", "Password is required")
		}
		if verr := p.err(); verr != nil {
			writeValidation(w, verr)
			return
		}

		sess, err := authn.Login(r.Context(), *email, *password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
				return
			}
			writeServiceError(w, r, log, err, "Failed to sign in")
			return
		}

		writeJSON(w, http.StatusOK, sess)
	}
}

func handleCreateError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	var verr *appointment.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidation(w, verr)
	case errors.Is(err, appointment.ErrClinicianMismatch):
		fields := appointment.NewValidationError()
		fields.Add("clinicianId", err.Error())
		writeValidation(w, fields)
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", "User not found")
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusBadRequest, "slot_unavailable", "This slot is no longer available")
	case errors.Is(err, appointment.ErrDuplicateBooking):
		writeError(w, http.StatusBadRequest, "duplicate_booking", "You already have an appointment at this time")
	default:
		writeServiceError(w, r, log, err, "Failed to create appointment")
	}
}

// writeServiceError answers err by its kind. Anything unclassified is a 500 carrying only fallback.
func writeServiceError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error, fallback string) {
	var verr *appointment.ValidationError
	if errors.As(err, &verr) {
		writeValidation(w, verr)
		return
	}
	switch kind := appointment.Kind(err); kind {
	case appointment.KindValidation:
		writeError(w, http.StatusBadRequest, kind.String(), err.Error())
	case appointment.KindNotFound:
		writeError(w, http.StatusNotFound, kind.String(), err.Error())
	case appointment.KindConflict:
		writeError(w, http.StatusConflict, kind.String(), err.Error())
	case appointment.KindForbidden:
		writeError(w, http.StatusForbidden, kind.String(), err.Error())
	default:
		internalError(w, r, log, err, fallback)
	}
}

// internalError logs err with the request id and answers 500 with fallback.
func internalError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error, fallback string) {
	log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg(fallback)
	writeError(w, http.StatusInternalServerError, "internal_error", fallback)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}
