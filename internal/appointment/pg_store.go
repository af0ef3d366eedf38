package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	userColumns        = `id, nhs_number, name, email, password_hash, role, created_at, updated_at`
	clinicianColumns   = `id, name, practice, specialty, created_at, updated_at`
	slotColumns        = `id, clinician_id, start_time, end_time, is_booked, created_at, updated_at`
	appointmentColumns = `id, patient_id, clinician_id, slot_id, status, notes, created_at, updated_at`

	detailSelect = `
		SELECT a.id, a.patient_id, a.clinician_id, a.slot_id, a.status, a.notes, a.created_at, a.updated_at,
		       s.id, s.clinician_id, s.start_time, s.end_time, s.is_booked, s.created_at, s.updated_at,
		       c.id, c.name, c.practice, c.specialty, c.created_at, c.updated_at
		FROM appointments a
		JOIN free_slots s ON s.id = a.slot_id
		JOIN clinicians c ON c.id = a.clinician_id`

	activeSlotIndex    = "appointments_active_slot_idx"
	uniqueViolationSQL = "23505"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// WithTx runs fn inside a READ COMMITTED transaction. Row locks taken by the Tx
// serialise competing bookings on the same slot or patient.
func (s *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.NHSNumber, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanClinician(row pgx.Row) (*Clinician, error) {
	var c Clinician
	var specialty *string
	err := row.Scan(&c.ID, &c.Name, &c.Practice, &specialty, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicianNotFound
		}
		return nil, err
	}
	c.Specialty = specialty
	return &c, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.ClinicianID, &s.StartTime, &s.EndTime, &s.IsBooked, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var notes *string
	err := row.Scan(&a.ID, &a.PatientID, &a.ClinicianID, &a.SlotID, &a.Status, &notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Notes = notes
	return &a, nil
}

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var (
		d         AppointmentDetail
		slot      Slot
		clinician Clinician
		notes     *string
		specialty *string
	)
	err := row.Scan(
		&d.ID, &d.PatientID, &d.ClinicianID, &d.SlotID, &d.Status, &notes, &d.CreatedAt, &d.UpdatedAt,
		&slot.ID, &slot.ClinicianID, &slot.StartTime, &slot.EndTime, &slot.IsBooked, &slot.CreatedAt, &slot.UpdatedAt,
		&clinician.ID, &clinician.Name, &clinician.Practice, &specialty, &clinician.CreatedAt, &clinician.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	d.Notes = notes
	clinician.Specialty = specialty
	d.Slot = &slot
	d.Clinician = &clinician
	return &d, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func isActiveSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationSQL && pgErr.ConstraintName == activeSlotIndex
}

// Reader methods

func (s *PgStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PgStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *PgStore) GetClinicianByID(ctx context.Context, id int64) (*Clinician, error) {
	return getClinician(ctx, s.pool, id)
}

func getClinician(ctx context.Context, q querier, id int64) (*Clinician, error) {
	return scanClinician(q.QueryRow(ctx, `SELECT `+clinicianColumns+` FROM clinicians WHERE id = $1`, id))
}

func (s *PgStore) ListClinicians(ctx context.Context) ([]Clinician, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+clinicianColumns+` FROM clinicians ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanClinician)
}

func (s *PgStore) GetSlotByID(ctx context.Context, id int64) (*Slot, error) {
	return scanSlot(s.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM free_slots WHERE id = $1`, id))
}

func (s *PgStore) ListFreeSlots(ctx context.Context, from, to time.Time, clinicianID *int64) ([]Slot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM free_slots
		WHERE is_booked = false
		  AND start_time >= $1
		  AND start_time < $2
		  AND ($3::bigint IS NULL OR clinician_id = $3)
		ORDER BY start_time ASC, id ASC
	`, from, to, clinicianID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

func (s *PgStore) GetAppointmentDetail(ctx context.Context, id int64) (*AppointmentDetail, error) {
	return scanDetail(s.pool.QueryRow(ctx, detailSelect+` WHERE a.id = $1`, id))
}

func (s *PgStore) ListAppointmentsByPatient(ctx context.Context, patientID int64, statuses []AppointmentStatus) ([]AppointmentDetail, error) {
	rows, err := s.pool.Query(ctx, detailSelect+`
		WHERE a.patient_id = $1
		  AND a.status = ANY($2)
		ORDER BY s.start_time ASC, a.id ASC
	`, patientID, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDetail)
}

func (s *PgStore) ListAppointments(ctx context.Context, f AppointmentFilter) ([]AppointmentDetail, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != nil {
		add("a.status = $%d", string(*f.Status))
	}
	if f.ClinicianID != nil {
		add("a.clinician_id = $%d", *f.ClinicianID)
	}
	if f.From != nil {
		add("s.start_time >= $%d", *f.From)
	}
	if f.To != nil {
		add("s.start_time < $%d", *f.To)
	}

	query := detailSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY s.start_time ASC, a.id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDetail)
}

func (s *PgStore) ListUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at, published_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (*EventLog, error) {
		var ev EventLog
		if err := row.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt, &ev.PublishedAt); err != nil {
			return nil, err
		}
		return &ev, nil
	})
}

func (s *PgStore) MarkEventPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE event_logs SET published_at = $2 WHERE id = $1 AND published_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark event %d published: %w", id, err)
	}
	return nil
}

// Tx methods

type pgTx struct {
	q querier
}

func (t *pgTx) LockPatient(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(t.q.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 AND role = 'patient'
		FOR UPDATE
	`, id))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrPatientNotFound
	}
	return u, err
}

func (t *pgTx) LockSlot(ctx context.Context, id int64) (*Slot, error) {
	return scanSlot(t.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM free_slots WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) LockAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return scanAppointment(t.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) GetClinicianByID(ctx context.Context, id int64) (*Clinician, error) {
	return getClinician(ctx, t.q, id)
}

func (t *pgTx) FindActiveInWindow(ctx context.Context, patientID int64, start, end time.Time, excludeID int64) (*Appointment, error) {
	return scanAppointment(t.q.QueryRow(ctx, `
		SELECT a.id, a.patient_id, a.clinician_id, a.slot_id, a.status, a.notes, a.created_at, a.updated_at
		FROM appointments a
		JOIN free_slots s ON s.id = a.slot_id
		WHERE a.patient_id = $1
		  AND a.status IN ('SCHEDULED', 'RESCHEDULED')
		  AND s.start_time = $2
		  AND s.end_time = $3
		  AND a.id <> $4
		LIMIT 1
	`, patientID, start, end, excludeID))
}

func (t *pgTx) LatestCancelledForSlot(ctx context.Context, slotID int64) (*Appointment, error) {
	return scanAppointment(t.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1 AND status = 'CANCELLED'
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, slotID))
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, clinician_id, slot_id, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, a.PatientID, a.ClinicianID, a.SlotID, string(a.Status), a.Notes, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
	if isActiveSlotViolation(err) {
		return ErrActiveSlotTaken
	}
	return err
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointments
		SET patient_id = $2,
		    clinician_id = $3,
		    slot_id = $4,
		    status = $5,
		    notes = $6,
		    updated_at = $7
		WHERE id = $1
	`, a.ID, a.PatientID, a.ClinicianID, a.SlotID, string(a.Status), a.Notes, a.UpdatedAt)
	if isActiveSlotViolation(err) {
		return ErrActiveSlotTaken
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) SetSlotBooked(ctx context.Context, slotID int64, booked bool) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE free_slots
		SET is_booked = $2,
		    updated_at = now()
		WHERE id = $1
		  AND is_booked = $3
	`, slotID, booked, !booked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotStateChanged
	}
	return nil
}

func (t *pgTx) InsertSlot(ctx context.Context, s *Slot) error {
	return t.q.QueryRow(ctx, `
		INSERT INTO free_slots (clinician_id, start_time, end_time, is_booked, created_at, updated_at)
		VALUES ($1, $2, $3, false, $4, $5)
		RETURNING id
	`, s.ClinicianID, s.StartTime, s.EndTime, s.CreatedAt, s.UpdatedAt).Scan(&s.ID)
}

func (t *pgTx) DeleteSlot(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM free_slots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (t *pgTx) CountAppointmentsForSlot(ctx context.Context, slotID int64) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `SELECT count(*) FROM appointments WHERE slot_id = $1`, slotID).Scan(&n)
	return n, err
}

func (t *pgTx) FindOverlappingSlot(ctx context.Context, clinicianID int64, start, end time.Time) (*Slot, error) {
	return scanSlot(t.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM free_slots
		WHERE clinician_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time ASC
		LIMIT 1
	`, clinicianID, start, end))
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
