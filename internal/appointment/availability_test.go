package appointment

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAvailableSlotsGroupsByClinician(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.slot(f.gp, f.at(11, 0))
	a := f.slot(f.gp, f.at(9, 30))
	c := f.slot(f.gp2, f.at(10, 0))
	booked := f.slot(f.gp2, f.at(10, 30))
	f.book(f.patient, booked)
	f.slot(f.gp, f.at(9, 0).AddDate(0, 0, 1))

	avail, err := f.svc.ListAvailableSlots(ctx, f.at(0, 0), nil)
	require.NoError(t, err)
	require.Len(t, avail, 2)

	g1 := avail[f.gp.ID]
	require.NotNil(t, g1)
	assert.Equal(t, f.gp.Name, g1.Clinician.Name)
	assert.Equal(t, 2, g1.Count)
	assert.Equal(t, []int64{a.ID, b.ID}, []int64{g1.Slots[0].ID, g1.Slots[1].ID})

	g2 := avail[f.gp2.ID]
	require.NotNil(t, g2)
	require.Len(t, g2.Slots, 1)
	assert.Equal(t, c.ID, g2.Slots[0].ID)

	ordered := avail.Ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, f.gp.ID, ordered[0].Clinician.ID)
	assert.Equal(t, f.gp2.ID, ordered[1].Clinician.ID)

	only, err := f.svc.ListAvailableSlots(ctx, f.at(0, 0), &f.gp2.ID)
	require.NoError(t, err)
	assert.Len(t, only, 1)
	assert.Contains(t, only, f.gp2.ID)
}

func TestListAvailableSlotsEmptyDay(t *testing.T) {
	f := newFixture(t)
	avail, err := f.svc.ListAvailableSlots(context.Background(), f.at(0, 0).AddDate(0, 1, 0), nil)
	require.NoError(t, err)
	assert.Empty(t, avail)
	assert.NotNil(t, avail.Ordered())
}

func TestDayBoundsAcrossClockChange(t *testing.T) {
	// clocks go forward in London on 31 March 2030
	day := time.Date(2030, 3, 31, 15, 0, 0, 0, london)
	from, to := DayBounds(day, london)

	assert.Equal(t, time.Date(2030, 3, 31, 0, 0, 0, 0, london), from)
	assert.Equal(t, time.Date(2030, 4, 1, 0, 0, 0, 0, london), to)
	assert.Equal(t, 23*time.Hour, to.Sub(from))
}

func TestParseDate(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.ParseDate("2030-07-01")
	require.NoError(t, err)
	assert.Equal(t, london, d.Location())
	assert.Equal(t, 1, d.Day())

	for _, bad := range []string{"", "01-07-2030", "2030-13-01", "2030-07-01T00:00:00Z"} {
		_, err := f.svc.ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestAvailabilityCache(t *testing.T) {
	f := newFixture(t, withCache())
	ctx := context.Background()
	first := f.slot(f.gp, f.at(9, 0))

	avail, err := f.svc.ListAvailableSlots(ctx, f.at(0, 0), nil)
	require.NoError(t, err)
	require.Len(t, avail[f.gp.ID].Slots, 1)

	// seeded behind the service's back, so the cached day stays stale
	f.slot(f.gp, f.at(9, 30))
	avail, err = f.svc.ListAvailableSlots(ctx, f.at(0, 0), nil)
	require.NoError(t, err)
	require.Len(t, avail[f.gp.ID].Slots, 1)
	assert.Equal(t, first.ID, avail[f.gp.ID].Slots[0].ID)

	_, err = f.svc.CreateSlot(ctx, SlotInput{ClinicianID: f.gp.ID, StartTime: f.at(10, 0), EndTime: f.at(10, 30)})
	require.NoError(t, err)

	avail, err = f.svc.ListAvailableSlots(ctx, f.at(0, 0), nil)
	require.NoError(t, err)
	assert.Len(t, avail[f.gp.ID].Slots, 3)
}

// pausingStore holds the first armed ListFreeSlots call after it has read, until release closes.
type pausingStore struct {
	*MemStore
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) ListFreeSlots(ctx context.Context, from, to time.Time, clinicianID *int64) ([]Slot, error) {
	slots, err := p.MemStore.ListFreeSlots(ctx, from, to, clinicianID)
	if p.armed.CompareAndSwap(true, false) {
		close(p.read)
		<-p.release
	}
	return slots, err
}

func TestAvailabilityCacheReadRacingCancel(t *testing.T) {
	var ps *pausingStore
	f := newFixture(t, withCache(), withStore(func(m *MemStore) Store {
		ps = &pausingStore{MemStore: m, read: make(chan struct{}), release: make(chan struct{})}
		return ps
	}))
	ctx := context.Background()
	date := f.at(0, 0)
	s := f.slot(f.gp, f.at(10, 0))
	d := f.book(f.patient, s)

	ps.armed.Store(true)
	stale := make(chan Availability, 1)
	go func() {
		avail, err := f.svc.ListAvailableSlots(ctx, date, nil)
		assert.NoError(t, err)
		stale <- avail
	}()
	<-ps.read

	_, err := f.svc.CancelBooking(ctx, actorFor(f.patient), d.ID)
	require.NoError(t, err)
	close(ps.release)
	assert.NotContains(t, <-stale, f.gp.ID)

	avail, err := f.svc.ListAvailableSlots(ctx, date, nil)
	require.NoError(t, err)
	require.Contains(t, avail, f.gp.ID)
	assert.Equal(t, s.ID, avail[f.gp.ID].Slots[0].ID)

	only, err := f.svc.ListAvailableSlots(ctx, date, &f.gp.ID)
	require.NoError(t, err)
	assert.Contains(t, only, f.gp.ID)
}
