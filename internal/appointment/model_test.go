package appointment

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to AppointmentStatus
		ok       bool
	}{
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusRescheduled, true},
		{StatusRescheduled, StatusRescheduled, true},
		{StatusRescheduled, StatusCancelled, true},
		{StatusCancelled, StatusCancelled, false},
		{StatusCancelled, StatusRescheduled, false},
		{StatusCancelled, StatusScheduled, true},
		{StatusScheduled, StatusScheduled, false},
		{AppointmentStatus("NO_SHOW"), StatusCancelled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}

	assert.True(t, StatusRescheduled.Active())
	assert.False(t, StatusCancelled.Active())
	assert.False(t, AppointmentStatus("scheduled").Valid())
}

func TestFilterPaged(t *testing.T) {
	assert.Equal(t, DefaultPageLimit, AppointmentFilter{}.Paged().Limit)
	assert.Equal(t, MaxPageLimit, AppointmentFilter{Limit: 5000}.Paged().Limit)
	assert.Equal(t, 7, AppointmentFilter{Limit: 7}.Paged().Limit)
	assert.Equal(t, 0, AppointmentFilter{Offset: -3}.Paged().Offset)
}

func TestActorCanActFor(t *testing.T) {
	p := Actor{UserID: 3, Role: RolePatient}
	assert.True(t, p.CanActFor(3))
	assert.False(t, p.CanActFor(4))
	assert.True(t, Actor{UserID: 1, Role: RoleAdmin}.CanActFor(4))
}

func TestKind(t *testing.T) {
	verr := NewValidationError()
	verr.Add("slotId", "Slot ID is required")

	cases := []struct {
		err  error
		want ErrorKind
	}{
		{verr, KindValidation},
		{fmt.Errorf("book: %w", ErrClinicianMismatch), KindValidation},
		{ErrPatientNotFound, KindNotFound},
		{fmt.Errorf("get: %w", ErrAppointmentNotFound), KindNotFound},
		{fmt.Errorf("%w: slot 4", ErrSlotUnavailable), KindConflict},
		{ErrAlreadyCancelled, KindConflict},
		{ErrSlotReferenced, KindConflict},
		{ErrForbidden, KindForbidden},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Kind(tc.err), "%v", tc.err)
	}
	assert.Equal(t, "conflict", KindConflict.String())
}

func TestValidationError(t *testing.T) {
	verr := NewValidationError()
	assert.NoError(t, verr.OrNil())

	verr.Add("slotId", "Slot ID is required")
	verr.Add("clinicianId", "Clinician ID is required")
	assert.Error(t, verr.OrNil())
	assert.Contains(t, verr.Error(), "slotId")
}

func TestSlotSameWindow(t *testing.T) {
	start := time.Date(2030, 6, 3, 9, 0, 0, 0, time.UTC)
	a := Slot{ID: 1, ClinicianID: 1, StartTime: start, EndTime: start.Add(30 * time.Minute)}

	// same instants in another zone
	b := Slot{ID: 2, ClinicianID: 2, StartTime: start.In(london), EndTime: start.Add(30 * time.Minute).In(london)}
	assert.True(t, a.SameWindow(b))

	longer := Slot{StartTime: start, EndTime: start.Add(time.Hour)}
	assert.False(t, a.SameWindow(longer))
	later := Slot{StartTime: start.Add(time.Minute), EndTime: start.Add(31 * time.Minute)}
	assert.False(t, a.SameWindow(later))
}
