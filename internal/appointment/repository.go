package appointment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrClinicianNotFound   = errors.New("clinician not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotStateChanged is returned by a guarded slot flag update that matched no row.
	ErrSlotStateChanged = errors.New("slot booked flag changed concurrently")
	// ErrActiveSlotTaken is returned when the store rejects a second active appointment on a slot.
	ErrActiveSlotTaken = errors.New("slot already referenced by an active appointment")
)

// Reader contains the read paths that do not need a transaction.
type Reader interface {
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetClinicianByID(ctx context.Context, id int64) (*Clinician, error)
	ListClinicians(ctx context.Context) ([]Clinician, error)

	GetSlotByID(ctx context.Context, id int64) (*Slot, error)
	// ListFreeSlots returns unbooked slots with from <= start_time < to, ascending by start.
	ListFreeSlots(ctx context.Context, from, to time.Time, clinicianID *int64) ([]Slot, error)

	GetAppointmentDetail(ctx context.Context, id int64) (*AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID int64, statuses []AppointmentStatus) ([]AppointmentDetail, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]AppointmentDetail, error)

	// Outbox
	ListUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error)
	MarkEventPublished(ctx context.Context, id int64, at time.Time) error
}

// Tx is the set of operations that run inside one store transaction.
// Lock* methods take a row lock held until the transaction ends.
type Tx interface {
	LockPatient(ctx context.Context, id int64) (*User, error)
	LockSlot(ctx context.Context, id int64) (*Slot, error)
	LockAppointment(ctx context.Context, id int64) (*Appointment, error)
	GetClinicianByID(ctx context.Context, id int64) (*Clinician, error)

	// FindActiveInWindow returns an active appointment of the patient whose slot covers
	// exactly [start, end), ignoring excludeID. ErrAppointmentNotFound when there is none.
	FindActiveInWindow(ctx context.Context, patientID int64, start, end time.Time, excludeID int64) (*Appointment, error)
	// LatestCancelledForSlot returns the most recently updated CANCELLED appointment for slotID.
	LatestCancelledForSlot(ctx context.Context, slotID int64) (*Appointment, error)

	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	// SetSlotBooked flips the flag only when it currently holds !booked.
	SetSlotBooked(ctx context.Context, slotID int64, booked bool) error

	InsertSlot(ctx context.Context, s *Slot) error
	DeleteSlot(ctx context.Context, id int64) error
	CountAppointmentsForSlot(ctx context.Context, slotID int64) (int, error)
	FindOverlappingSlot(ctx context.Context, clinicianID int64, start, end time.Time) (*Slot, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Store is the transactional datastore the services call into.
type Store interface {
	Reader
	// WithTx runs fn in one transaction. A non-nil error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
