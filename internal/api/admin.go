package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
)

func createSlotHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := decodePayload(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		in := appointment.SlotInput{
			ClinicianID: p.id("clinicianId", "Clinician ID"),
			StartTime:   p.timestamp("startTime", "Start time"),
			EndTime:     p.timestamp("endTime", "End time"),
		}
		if verr := p.err(); verr != nil {
			writeValidation(w, verr)
			return
		}

		slot, err := svc.CreateSlot(r.Context(), in)
		if err != nil {
			var verr *appointment.ValidationError
			switch {
			case errors.As(err, &verr):
				writeValidation(w, verr)
			case errors.Is(err, appointment.ErrInvalidSlotWindow):
				fields := appointment.NewValidationError()
				fields.Add("endTime", "End time must be after start time")
				writeValidation(w, fields)
			case errors.Is(err, appointment.ErrClinicianNotFound):
				writeError(w, http.StatusNotFound, "clinician_not_found", err.Error())
			case errors.Is(err, appointment.ErrSlotOverlap):
				writeError(w, http.StatusConflict, "slot_overlap", err.Error())
			default:
				writeServiceError(w, r, log, err, "Failed to create slot")
			}
			return
		}

		writeJSON(w, http.StatusCreated, slot)
	}
}

func deleteSlotHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot id must be a positive integer")
			return
		}

		if err := svc.DeleteSlot(r.Context(), id); err != nil {
			switch {
			case errors.Is(err, appointment.ErrSlotNotFound):
				writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
			case errors.Is(err, appointment.ErrSlotReferenced):
				writeError(w, http.StatusConflict, "slot_referenced", err.Error())
			default:
				writeServiceError(w, r, log, err, "Failed to delete slot")
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func adminListAppointmentsHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, verr := parseAppointmentFilter(svc, r)
		if verr != nil {
			writeValidation(w, verr)
			return
		}

		items, err := svc.ListAppointments(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, log, err, "Failed to fetch appointments")
			return
		}

		writeJSON(w, http.StatusOK, AdminAppointmentsResponse{
			Items:  emptyIfNil(items),
			Limit:  f.Limit,
			Offset: f.Offset,
		})
	}
}

func parseAppointmentFilter(svc BookingService, r *http.Request) (appointment.AppointmentFilter, *appointment.ValidationError) {
	q := r.URL.Query()
	verr := appointment.NewValidationError()
	var f appointment.AppointmentFilter

	if raw := q.Get("status"); raw != "" {
		st := appointment.AppointmentStatus(strings.ToUpper(raw))
		if st.Valid() {
			f.Status = &st
		} else {
			verr.Add("status", "Status must be one of SCHEDULED, CANCELLED, RESCHEDULED")
		}
	}

	if raw := q.Get("date"); raw != "" {
		date, err := svc.ParseDate(raw)
		if err != nil {
			verr.Add("date", "Date must be in YYYY-MM-DD format")
		} else {
			from, to := svc.DayBounds(date)
			f.From, f.To = &from, &to
		}
	}

	if id, ok, err := queryID(r, "clinicianId"); err != nil {
		verr.Add("clinicianId", "Clinician ID must be a positive number")
	} else if ok {
		f.ClinicianID = &id
	}

	f.Limit = queryInt(q.Get("limit"), "limit", verr)
	f.Offset = queryInt(q.Get("offset"), "offset", verr)

	if !verr.Empty() {
		return f, verr
	}
	return f.Paged(), nil
}

func queryInt(raw, field string, verr *appointment.ValidationError) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		verr.Add(field, field+" must be a non-negative integer")
		return 0
	}
	return n
}
