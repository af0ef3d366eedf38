package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
)

type ErrorResponse struct {
	Error       string              `json:"error"`
	Message     string              `json:"message"`
	FieldErrors map[string][]string `json:"fieldErrors,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AdminAppointmentsResponse struct {
	Items  []appointment.AppointmentDetail `json:"items"`
	Limit  int                             `json:"limit"`
	Offset int                             `json:"offset"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func writeValidation(w http.ResponseWriter, verr *appointment.ValidationError) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:       "invalid_request",
		Message:     "Invalid request data",
		FieldErrors: verr.Fields,
	})
}

// emptyIfNil keeps list endpoints returning [] instead of null.
func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
