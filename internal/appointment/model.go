package appointment

import (
	"time"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "SCHEDULED"
	StatusCancelled   AppointmentStatus = "CANCELLED"
	StatusRescheduled AppointmentStatus = "RESCHEDULED"
)

// ActiveStatuses are the statuses that hold a slot.
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusRescheduled}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

// Active reports whether an appointment in this status currently holds its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusRescheduled
}

// CanTransition reports whether the status machine allows s -> to.
// CANCELLED -> SCHEDULED is only reachable through cancelled-row reuse on booking.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	switch s {
	case StatusScheduled, StatusRescheduled:
		return to == StatusCancelled || to == StatusRescheduled
	case StatusCancelled:
		return to == StatusScheduled
	}
	return false
}

type Role string

const (
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

type User struct {
	ID           int64     `json:"id"`
	NHSNumber    *string   `json:"nhsNumber,omitempty"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Clinician struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Practice  string    `json:"practice"`
	Specialty *string   `json:"specialty,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Slot struct {
	ID          int64     `json:"id"`
	ClinicianID int64     `json:"clinicianId"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	IsBooked    bool      `json:"isBooked"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SameWindow reports whether both slots cover exactly the same interval.
func (s Slot) SameWindow(o Slot) bool {
	return s.StartTime.Equal(o.StartTime) && s.EndTime.Equal(o.EndTime)
}

type Appointment struct {
	ID          int64             `json:"id"`
	PatientID   int64             `json:"patientId"`
	ClinicianID int64             `json:"clinicianId"`
	SlotID      int64             `json:"slotId"`
	Status      AppointmentStatus `json:"status"`
	Notes       *string           `json:"notes,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type AppointmentDetail struct {
	Appointment
	Slot      *Slot      `json:"slot"`
	Clinician *Clinician `json:"clinician"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// Actor is the authenticated caller of a booking operation.
type Actor struct {
	UserID int64
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanActFor reports whether the actor may operate on records owned by patientID.
func (a Actor) CanActFor(patientID int64) bool {
	return a.IsAdmin() || a.UserID == patientID
}

type BookingRequest struct {
	SlotID      int64
	PatientID   int64
	ClinicianID int64
	Notes       *string
}

type AppointmentFilter struct {
	Status      *AppointmentStatus
	From        *time.Time
	To          *time.Time
	ClinicianID *int64
	Limit       int
	Offset      int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Paged clamps Limit to [1, MaxPageLimit], defaulting to DefaultPageLimit, and Offset to >= 0.
func (f AppointmentFilter) Paged() AppointmentFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type SlotInput struct {
	ClinicianID int64
	StartTime   time.Time
	EndTime     time.Time
}
