package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/gp-appointment-portal/internal/auth"
	"github.com/hackgods/gp-appointment-portal/internal/config"
	"github.com/hackgods/gp-appointment-portal/internal/db"
	"github.com/hackgods/gp-appointment-portal/internal/logging"
)

const (
	seedPassword = "password123"
	slotLength   = 30 * time.Minute
)

type seedConfig struct {
	Clinicians int
	Patients   int
	Days       int
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("prod", "info", "seed").Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.Env, cfg.LogLevel, "seed")
	if cfg.PostgresDSN == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	sc := seedConfig{
		Clinicians: envInt("SEED_CLINICIANS", 12),
		Patients:   envInt("SEED_PATIENTS", 500),
		Days:       envInt("SEED_DAYS", 14),
	}
	log.Info().Int("clinicians", sc.Clinicians).Int("patients", sc.Patients).Int("days", sc.Days).Msg("seed starting")

	ctx := context.Background()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, db.PoolOptions{AppName: "gp-seed"})
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, cfg.MigrationsDir).Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	_ = gofakeit.Seed(time.Now().UnixNano())

	hash, err := auth.HashPassword(seedPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("hash password")
	}

	if err := seedAdmin(ctx, pool, hash); err != nil {
		log.Fatal().Err(err).Msg("seed admin")
	}
	clinicianIDs, err := seedClinicians(ctx, pool, sc.Clinicians, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed clinicians")
	}
	if err := seedPatients(ctx, pool, sc.Patients, hash, log); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedSlots(ctx, pool, clinicianIDs, sc.Days, cfg.Location, log); err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}

	log.Info().Str("password", seedPassword).Msg("seed complete")
}

func seedAdmin(ctx context.Context, pool *pgxpool.Pool, hash string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO users (name, email, password_hash, role)
		VALUES ('Practice Admin', 'admin@example.com', $1, 'admin')
		ON CONFLICT DO NOTHING
	`, hash)
	return err
}

func seedClinicians(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) ([]int64, error) {
	log.Info().Int("count", count).Msg("seeding clinicians")

	specialties := []string{
		"General Practice",
		"Women's Health",
		"Paediatrics",
		"Mental Health",
		"Minor Surgery",
		"Diabetes Care",
		"Sexual Health",
		"Elderly Care",
	}
	practices := []string{"Riverside Surgery", "Oak Lane Medical Centre", "High Street Practice"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		name := "Dr " + gofakeit.FirstName() + " " + gofakeit.LastName()
		practice := practices[gofakeit.Number(0, len(practices)-1)]
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO clinicians (name, practice, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
			RETURNING id
		`, name, practice, specialty).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().Msg("clinicians seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, hash string, log zerolog.Logger) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			batch.Queue(`
				INSERT INTO users (nhs_number, name, email, password_hash, role, created_at, updated_at)
				VALUES ($1, $2, $3, $4, 'patient', now(), now())
				ON CONFLICT DO NOTHING
			`, fmt.Sprintf("9%09d", i+1), gofakeit.Name(), fmt.Sprintf("patient%d@example.com", i+1), hash)
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}

// seedSlots creates weekday surgeries (09:00-12:00, 14:00-17:00) for each clinician.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, clinicianIDs []int64, days int, loc *time.Location, log zerolog.Logger) error {
	y, m, d := time.Now().In(loc).Date()
	total := 0

	for day := 1; day <= days; day++ {
		date := time.Date(y, m, d+day, 0, 0, 0, 0, loc)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		batch := &pgx.Batch{}
		for _, id := range clinicianIDs {
			for _, session := range [][2]int{{9, 12}, {14, 17}} {
				start := time.Date(date.Year(), date.Month(), date.Day(), session[0], 0, 0, 0, loc)
				stop := time.Date(date.Year(), date.Month(), date.Day(), session[1], 0, 0, 0, loc)
				for ; start.Before(stop); start = start.Add(slotLength) {
					batch.Queue(`
						INSERT INTO free_slots (clinician_id, start_time, end_time, is_booked)
						VALUES ($1, $2, $3, false)
					`, id, start, start.Add(slotLength))
					total++
				}
			}
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	log.Info().Int("slots", total).Msg("slots seeded")
	return nil
}

func envInt(key string, def int) int {
	var n int
	if v := os.Getenv(key); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
