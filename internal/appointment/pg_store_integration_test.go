//go:build integration

package appointment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/gp-appointment-portal/internal/config"
	"github.com/hackgods/gp-appointment-portal/internal/db"
	redisclient "github.com/hackgods/gp-appointment-portal/internal/redis"
)

func pgService(t *testing.T, cfg config.Config) (*Service, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{AppName: "gp-integration-test", MaxConns: 20})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.NewMigrator(pool, "").Up(ctx)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE event_logs, appointments, free_slots, clinicians, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return NewService(NewPgStore(pool), redisclient.NopLocker{}, nil, cfg, zerolog.Nop()), pool
}

func insertID(t *testing.T, pool *pgxpool.Pool, sql string, args ...any) int64 {
	t.Helper()
	var id int64
	require.NoError(t, pool.QueryRow(context.Background(), sql, args...).Scan(&id))
	return id
}

func pgPatient(t *testing.T, pool *pgxpool.Pool, n int) int64 {
	return insertID(t, pool,
		`INSERT INTO users (name, email, password_hash, role) VALUES ($1, $2, 'x', 'patient') RETURNING id`,
		fmt.Sprintf("Patient %d", n), fmt.Sprintf("patient%d@example.com", n))
}

func pgSlot(t *testing.T, pool *pgxpool.Pool, clinicianID int64, start time.Time) int64 {
	return insertID(t, pool,
		`INSERT INTO free_slots (clinician_id, start_time, end_time) VALUES ($1, $2, $3) RETURNING id`,
		clinicianID, start, start.Add(30*time.Minute))
}

func TestPgConcurrentBookingSingleWinner(t *testing.T) {
	svc, pool := pgService(t, config.Config{})
	ctx := context.Background()

	gp := insertID(t, pool, `INSERT INTO clinicians (name, practice) VALUES ('Dr Hart', 'Riverside') RETURNING id`)
	slot := pgSlot(t, pool, gp, time.Now().Add(24*time.Hour).Truncate(time.Minute))

	const n = 16
	patients := make([]int64, n)
	for i := range patients {
		patients[i] = pgPatient(t, pool, i)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for _, p := range patients {
		wg.Add(1)
		go func(p int64) {
			defer wg.Done()
			_, err := svc.CreateBooking(ctx, BookingRequest{SlotID: slot, PatientID: p, ClinicianID: gp})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if !errors.Is(err, ErrSlotUnavailable) {
				failures = append(failures, err)
			}
		}(p)
	}
	wg.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, 1, successes)

	var active int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM appointments WHERE slot_id = $1 AND status IN ('SCHEDULED', 'RESCHEDULED')`, slot).Scan(&active))
	assert.Equal(t, 1, active)
}

func TestPgCancelRescheduleRoundTrip(t *testing.T) {
	svc, pool := pgService(t, config.Config{ReuseCancelledRows: true})
	ctx := context.Background()

	gp := insertID(t, pool, `INSERT INTO clinicians (name, practice) VALUES ('Dr Hart', 'Riverside') RETURNING id`)
	start := time.Now().Add(48 * time.Hour).Truncate(time.Minute)
	a := pgSlot(t, pool, gp, start)
	b := pgSlot(t, pool, gp, start.Add(time.Hour))
	p := pgPatient(t, pool, 1)
	q := pgPatient(t, pool, 2)
	patient := Actor{UserID: p, Role: RolePatient}

	d, err := svc.CreateBooking(ctx, BookingRequest{SlotID: a, PatientID: p, ClinicianID: gp})
	require.NoError(t, err)

	moved, err := svc.RescheduleBooking(ctx, patient, d.ID, b)
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, moved.Status)

	_, err = svc.CancelBooking(ctx, patient, d.ID)
	require.NoError(t, err)
	_, err = svc.CancelBooking(ctx, patient, d.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	again, err := svc.CreateBooking(ctx, BookingRequest{SlotID: b, PatientID: q, ClinicianID: gp})
	require.NoError(t, err)
	assert.Equal(t, d.ID, again.ID)

	var booked bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT is_booked FROM free_slots WHERE id = $1`, a).Scan(&booked))
	assert.False(t, booked)

	evs, err := NewPgStore(pool).ListUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, evs, 4)
}
