package appointment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memState struct {
	users        map[int64]User
	clinicians   map[int64]Clinician
	slots        map[int64]Slot
	appointments map[int64]Appointment
	events       []EventLog
	nextID       int64
}

func (st *memState) clone() *memState {
	c := &memState{
		users:        make(map[int64]User, len(st.users)),
		clinicians:   make(map[int64]Clinician, len(st.clinicians)),
		slots:        make(map[int64]Slot, len(st.slots)),
		appointments: make(map[int64]Appointment, len(st.appointments)),
		events:       append([]EventLog(nil), st.events...),
		nextID:       st.nextID,
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.clinicians {
		c.clinicians[k] = v
	}
	for k, v := range st.slots {
		c.slots[k] = v
	}
	for k, v := range st.appointments {
		c.appointments[k] = v
	}
	return c
}

func (st *memState) id() int64 {
	st.nextID++
	return st.nextID
}

// MemStore is an in-process Store. Transactions are serialised and work on a copy
// that replaces the live state only when the callback succeeds.
type MemStore struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state *memState
}

func NewMemStore() *MemStore {
	return &MemStore{state: &memState{
		users:        map[int64]User{},
		clinicians:   map[int64]Clinician{},
		slots:        map[int64]Slot{},
		appointments: map[int64]Appointment{},
	}}
}

// AddUser, AddClinician and AddSlot seed fixtures; ids are assigned when zero.
func (m *MemStore) AddUser(u User) User {
	m.mutate(func(st *memState) {
		if u.ID == 0 {
			u.ID = st.id()
		}
		st.users[u.ID] = u
	})
	return u
}

func (m *MemStore) AddClinician(c Clinician) Clinician {
	m.mutate(func(st *memState) {
		if c.ID == 0 {
			c.ID = st.id()
		}
		st.clinicians[c.ID] = c
	})
	return c
}

func (m *MemStore) AddSlot(s Slot) Slot {
	m.mutate(func(st *memState) {
		if s.ID == 0 {
			s.ID = st.id()
		}
		st.slots[s.ID] = s
	})
	return s
}

// mutate applies fn to a copy of the state and swaps it in. Readers never see a map being written.
func (m *MemStore) mutate(fn func(st *memState)) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()

	fn(work)

	m.mu.Lock()
	m.state = work
	m.mu.Unlock()
}

// Snapshot returns copies of all slots and appointments.
func (m *MemStore) Snapshot() ([]Slot, []Appointment) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slots := make([]Slot, 0, len(m.state.slots))
	for _, s := range m.state.slots {
		slots = append(slots, s)
	}
	appts := make([]Appointment, 0, len(m.state.appointments))
	for _, a := range m.state.appointments {
		appts = append(appts, a)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].ID < slots[j].ID })
	sort.Slice(appts, func(i, j int) bool { return appts[i].ID < appts[j].ID })
	return slots, appts
}

func (m *MemStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()

	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = work
	m.mu.Unlock()
	return nil
}

func (m *MemStore) read() *memState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *MemStore) GetUserByID(_ context.Context, id int64) (*User, error) {
	u, ok := m.read().users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *MemStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.read().users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemStore) GetClinicianByID(_ context.Context, id int64) (*Clinician, error) {
	return m.read().clinician(id)
}

func (m *MemStore) ListClinicians(_ context.Context) ([]Clinician, error) {
	st := m.read()
	out := make([]Clinician, 0, len(st.clinicians))
	for _, c := range st.clinicians {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemStore) GetSlotByID(_ context.Context, id int64) (*Slot, error) {
	s, ok := m.read().slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (m *MemStore) ListFreeSlots(_ context.Context, from, to time.Time, clinicianID *int64) ([]Slot, error) {
	var out []Slot
	for _, s := range m.read().slots {
		if s.IsBooked || s.StartTime.Before(from) || !s.StartTime.Before(to) {
			continue
		}
		if clinicianID != nil && s.ClinicianID != *clinicianID {
			continue
		}
		out = append(out, s)
	}
	sortSlots(out)
	return out, nil
}

func (m *MemStore) GetAppointmentDetail(_ context.Context, id int64) (*AppointmentDetail, error) {
	st := m.read()
	a, ok := st.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return st.detail(a)
}

func (m *MemStore) ListAppointmentsByPatient(_ context.Context, patientID int64, statuses []AppointmentStatus) ([]AppointmentDetail, error) {
	st := m.read()
	return st.details(func(a Appointment, _ Slot) bool {
		return a.PatientID == patientID && hasStatus(statuses, a.Status)
	}, 0, 0)
}

func (m *MemStore) ListAppointments(_ context.Context, f AppointmentFilter) ([]AppointmentDetail, error) {
	st := m.read()
	return st.details(func(a Appointment, s Slot) bool {
		if f.Status != nil && a.Status != *f.Status {
			return false
		}
		if f.ClinicianID != nil && a.ClinicianID != *f.ClinicianID {
			return false
		}
		if f.From != nil && s.StartTime.Before(*f.From) {
			return false
		}
		if f.To != nil && !s.StartTime.Before(*f.To) {
			return false
		}
		return true
	}, f.Limit, f.Offset)
}

func (m *MemStore) ListUnpublishedEvents(_ context.Context, limit int) ([]EventLog, error) {
	var out []EventLog
	for _, ev := range m.read().events {
		if ev.PublishedAt != nil {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) MarkEventPublished(ctx context.Context, id int64, at time.Time) error {
	return m.WithTx(ctx, func(_ context.Context, tx Tx) error {
		st := tx.(*memTx).st
		for i := range st.events {
			if st.events[i].ID == id && st.events[i].PublishedAt == nil {
				ts := at
				st.events[i].PublishedAt = &ts
			}
		}
		return nil
	})
}

func (st *memState) clinician(id int64) (*Clinician, error) {
	c, ok := st.clinicians[id]
	if !ok {
		return nil, ErrClinicianNotFound
	}
	return &c, nil
}

func (st *memState) detail(a Appointment) (*AppointmentDetail, error) {
	s, ok := st.slots[a.SlotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	c, err := st.clinician(a.ClinicianID)
	if err != nil {
		return nil, err
	}
	return &AppointmentDetail{Appointment: a, Slot: &s, Clinician: c}, nil
}

func (st *memState) details(match func(Appointment, Slot) bool, limit, offset int) ([]AppointmentDetail, error) {
	var out []AppointmentDetail
	for _, a := range st.appointments {
		s, ok := st.slots[a.SlotID]
		if !ok || !match(a, s) {
			continue
		}
		d, err := st.detail(a)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Slot.StartTime.Equal(out[j].Slot.StartTime) {
			return out[i].Slot.StartTime.Before(out[j].Slot.StartTime)
		}
		return out[i].ID < out[j].ID
	})
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasStatus(statuses []AppointmentStatus, s AppointmentStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].StartTime.Equal(slots[j].StartTime) {
			return slots[i].StartTime.Before(slots[j].StartTime)
		}
		return slots[i].ID < slots[j].ID
	})
}

type memTx struct {
	st *memState
}

func (t *memTx) LockPatient(_ context.Context, id int64) (*User, error) {
	u, ok := t.st.users[id]
	if !ok || u.Role != RolePatient {
		return nil, ErrPatientNotFound
	}
	return &u, nil
}

func (t *memTx) LockSlot(_ context.Context, id int64) (*Slot, error) {
	s, ok := t.st.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (t *memTx) LockAppointment(_ context.Context, id int64) (*Appointment, error) {
	a, ok := t.st.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) GetClinicianByID(_ context.Context, id int64) (*Clinician, error) {
	return t.st.clinician(id)
}

func (t *memTx) FindActiveInWindow(_ context.Context, patientID int64, start, end time.Time, excludeID int64) (*Appointment, error) {
	window := Slot{StartTime: start, EndTime: end}
	for _, a := range t.st.appointments {
		if a.ID == excludeID || a.PatientID != patientID || !a.Status.Active() {
			continue
		}
		s, ok := t.st.slots[a.SlotID]
		if ok && s.SameWindow(window) {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (t *memTx) LatestCancelledForSlot(_ context.Context, slotID int64) (*Appointment, error) {
	var latest *Appointment
	for _, a := range t.st.appointments {
		if a.SlotID != slotID || a.Status != StatusCancelled {
			continue
		}
		if latest == nil || a.UpdatedAt.After(latest.UpdatedAt) ||
			(a.UpdatedAt.Equal(latest.UpdatedAt) && a.ID > latest.ID) {
			cp := a
			latest = &cp
		}
	}
	if latest == nil {
		return nil, ErrAppointmentNotFound
	}
	return latest, nil
}

// activeOnSlot mirrors the partial unique index on appointments(slot_id).
func (t *memTx) activeOnSlot(slotID, excludeID int64) bool {
	for _, a := range t.st.appointments {
		if a.ID != excludeID && a.SlotID == slotID && a.Status.Active() {
			return true
		}
	}
	return false
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) error {
	if a.Status.Active() && t.activeOnSlot(a.SlotID, 0) {
		return ErrActiveSlotTaken
	}
	a.ID = t.st.id()
	t.st.appointments[a.ID] = *a
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a *Appointment) error {
	if _, ok := t.st.appointments[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	if a.Status.Active() && t.activeOnSlot(a.SlotID, a.ID) {
		return ErrActiveSlotTaken
	}
	t.st.appointments[a.ID] = *a
	return nil
}

func (t *memTx) SetSlotBooked(_ context.Context, slotID int64, booked bool) error {
	s, ok := t.st.slots[slotID]
	if !ok || s.IsBooked == booked {
		return ErrSlotStateChanged
	}
	s.IsBooked = booked
	s.UpdatedAt = time.Now()
	t.st.slots[slotID] = s
	return nil
}

func (t *memTx) InsertSlot(_ context.Context, s *Slot) error {
	s.ID = t.st.id()
	t.st.slots[s.ID] = *s
	return nil
}

func (t *memTx) DeleteSlot(_ context.Context, id int64) error {
	if _, ok := t.st.slots[id]; !ok {
		return ErrSlotNotFound
	}
	delete(t.st.slots, id)
	return nil
}

func (t *memTx) CountAppointmentsForSlot(_ context.Context, slotID int64) (int, error) {
	n := 0
	for _, a := range t.st.appointments {
		if a.SlotID == slotID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) FindOverlappingSlot(_ context.Context, clinicianID int64, start, end time.Time) (*Slot, error) {
	var hits []Slot
	for _, s := range t.st.slots {
		if s.ClinicianID == clinicianID && s.StartTime.Before(end) && s.EndTime.After(start) {
			hits = append(hits, s)
		}
	}
	if len(hits) == 0 {
		return nil, ErrSlotNotFound
	}
	sortSlots(hits)
	return &hits[0], nil
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	ev.ID = int64(len(t.st.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	t.st.events = append(t.st.events, ev)
	return nil
}
