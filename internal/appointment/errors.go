package appointment

import (
	"errors"
	"sort"
	"strings"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	}
	return "internal"
}

// Kind classifies err into the error taxonomy used by the HTTP layer.
func Kind(err error) ErrorKind {
	var verr *ValidationError
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &verr), errors.Is(err, ErrClinicianMismatch), errors.Is(err, ErrInvalidSlotWindow):
		return KindValidation
	case errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrClinicianNotFound),
		errors.Is(err, ErrSlotNotFound),
		errors.Is(err, ErrAppointmentNotFound):
		return KindNotFound
	case errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrDuplicateBooking),
		errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, ErrSlotOverlap),
		errors.Is(err, ErrSlotReferenced):
		return KindConflict
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	}
	return KindInternal
}

// ValidationError carries field level problems found before any transaction starts.
type ValidationError struct {
	Fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string][]string{}}
}

func (e *ValidationError) Add(field, msg string) {
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

// OrNil returns e as an error only when it holds at least one field problem.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e.Fields[f], ", "))
	}
	return "invalid request data: " + strings.Join(parts, "; ")
}
