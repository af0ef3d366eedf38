package appointment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.svc.CreateSlot(ctx, SlotInput{ClinicianID: f.gp.ID, StartTime: f.at(9, 0), EndTime: f.at(9, 30)})
	require.NoError(t, err)
	assert.NotZero(t, s.ID)
	assert.False(t, s.IsBooked)

	stored := f.slotByID(s.ID)
	assert.True(t, stored.StartTime.Equal(f.at(9, 0)))

	t.Run("overlap", func(t *testing.T) {
		_, err := f.svc.CreateSlot(ctx, SlotInput{ClinicianID: f.gp.ID, StartTime: f.at(9, 15), EndTime: f.at(9, 45)})
		assert.ErrorIs(t, err, ErrSlotOverlap)
		assert.Equal(t, KindConflict, Kind(err))
	})

	t.Run("adjacent is fine", func(t *testing.T) {
		_, err := f.svc.CreateSlot(ctx, SlotInput{ClinicianID: f.gp.ID, StartTime: f.at(9, 30), EndTime: f.at(10, 0)})
		assert.NoError(t, err)
	})

	t.Run("other clinician same window", func(t *testing.T) {
		_, err := f.svc.CreateSlot(ctx, SlotInput{ClinicianID: f.gp2.ID, StartTime: f.at(9, 0), EndTime: f.at(9, 30)})
		assert.NoError(t, err)
	})

	t.Run("invalid window", func(t *testing.T) {
		_, err := f.svc.CreateSlot(ctx, SlotInput{ClinicianID: f.gp.ID, StartTime: f.at(12, 0), EndTime: f.at(12, 0)})
		assert.ErrorIs(t, err, ErrInvalidSlotWindow)
		assert.Equal(t, KindValidation, Kind(err))
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := f.svc.CreateSlot(ctx, SlotInput{})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Fields, 3)
	})

	t.Run("unknown clinician", func(t *testing.T) {
		_, err := f.svc.CreateSlot(ctx, SlotInput{ClinicianID: 999, StartTime: f.at(13, 0), EndTime: f.at(13, 30)})
		assert.ErrorIs(t, err, ErrClinicianNotFound)
	})
}

func TestDeleteSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	free := f.slot(f.gp, f.at(9, 0))
	require.NoError(t, f.svc.DeleteSlot(ctx, free.ID))
	_, err := f.store.GetSlotByID(ctx, free.ID)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	assert.ErrorIs(t, f.svc.DeleteSlot(ctx, free.ID), ErrSlotNotFound)

	booked := f.slot(f.gp, f.at(10, 0))
	d := f.book(f.patient, booked)
	assert.ErrorIs(t, f.svc.DeleteSlot(ctx, booked.ID), ErrSlotReferenced)

	// cancelled history still pins the slot
	_, err = f.svc.CancelBooking(ctx, actorFor(f.patient), d.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.DeleteSlot(ctx, booked.ID), ErrSlotReferenced)
}

func TestListClinicians(t *testing.T) {
	f := newFixture(t)
	list, err := f.svc.ListClinicians(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, f.gp.ID, list[0].ID)
}
