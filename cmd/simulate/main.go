package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/gp-appointment-portal/internal/api"
	"github.com/hackgods/gp-appointment-portal/internal/config"
	"github.com/hackgods/gp-appointment-portal/internal/db"
	"github.com/hackgods/gp-appointment-portal/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	CancelRatio     float64
	RescheduleRatio float64
	ReadRatio       float64
	PatientLimit    int
	SlotLimit       int
	Password        string
	PostgresDSN     string
	Location        *time.Location
}

type slotRef struct {
	ID          int64
	ClinicianID int64
	Day         string
}

type session struct {
	PatientID int64
	Token     string
}

type DataPool struct {
	Sessions     []session
	Slots        []slotRef
	mu           sync.Mutex
	appointments map[int64]session // appointment id -> owner
}

func (dp *DataPool) AddAppointment(id int64, owner session) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments[id] = owner
}

func (dp *DataPool) RemoveAppointment(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	delete(dp.appointments, id)
}

// RandomAppointment picks any tracked appointment with its owner's session.
func (dp *DataPool) RandomAppointment(rng *rand.Rand) (int64, session, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return 0, session{}, false
	}
	n := rng.Intn(len(dp.appointments))
	for id, owner := range dp.appointments {
		if n == 0 {
			return id, owner, true
		}
		n--
	}
	return 0, session{}, false
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking      OperationMetrics
	Cancel       OperationMetrics
	Reschedule   OperationMetrics
	Availability OperationMetrics
	ListMine     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	cfg := loadConfig()
	log := logging.New("dev", getEnv("LOG_LEVEL", "info"), "simulate")
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{AppName: "gp-simulate", MaxConns: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	dataPool, err := sim.loadDataPool(ctx, pgPool)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	sim.pool = dataPool
	log.Info().Int("sessions", len(dataPool.Sessions)).Int("slots", len(dataPool.Slots)).Msg("data loaded")

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.4),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.15),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.15),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 50),
		SlotLimit:       getInt("SIM_SLOT_LIMIT", 400),
		Password:        getEnv("SIM_PASSWORD", "password123"),
		PostgresDSN:     baseCfg.PostgresDSN,
		Location:        baseCfg.Location,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.RescheduleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.RescheduleRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// loadDataPool reads patients and future free slots from Postgres and logs every patient in.
func (s *Simulator) loadDataPool(ctx context.Context, pool *pgxpool.Pool) (*DataPool, error) {
	dataPool := &DataPool{appointments: make(map[int64]session)}

	rows, err := pool.Query(ctx, `
		SELECT id, email FROM users WHERE role = 'patient' ORDER BY id LIMIT $1
	`, s.config.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	type patient struct {
		id    int64
		email string
	}
	var patients []patient
	for rows.Next() {
		var p patient
		if err := rows.Scan(&p.id, &p.email); err != nil {
			rows.Close()
			return nil, err
		}
		patients = append(patients, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range patients {
		token, err := s.login(ctx, p.email)
		if err != nil {
			s.log.Warn().Err(err).Str("email", p.email).Msg("login failed, skipping patient")
			continue
		}
		dataPool.Sessions = append(dataPool.Sessions, session{PatientID: p.id, Token: token})
	}

	rows, err = pool.Query(ctx, `
		SELECT id, clinician_id, start_time FROM free_slots
		WHERE NOT is_booked AND start_time > now()
		ORDER BY start_time
		LIMIT $1
	`, s.config.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ref   slotRef
			start time.Time
		)
		if err := rows.Scan(&ref.ID, &ref.ClinicianID, &start); err != nil {
			return nil, err
		}
		ref.Day = start.In(s.config.Location).Format("2006-01-02")
		dataPool.Slots = append(dataPool.Slots, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Sessions) == 0 {
		return nil, fmt.Errorf("no patient sessions")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no slots loaded")
	}

	return dataPool, nil
}

func (s *Simulator) login(ctx context.Context, email string) (string, error) {
	body, _ := json.Marshal(api.LoginRequest{Email: email, Password: s.config.Password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < c.BookingRatio:
				s.doBooking(ctx, rng)
			case r < c.BookingRatio+c.CancelRatio:
				s.doCancel(ctx, rng)
			case r < c.BookingRatio+c.CancelRatio+c.RescheduleRatio:
				s.doReschedule(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doAvailability(ctx, rng)
				} else {
					s.doListMine(ctx, rng)
				}
			}
		}
	}
}

// do sends one request and classifies the outcome. 400 and 409 count as conflicts because
// losing a race on a slot surfaces as "slot unavailable".
func (s *Simulator) do(ctx context.Context, method, path, token string, payload any, okStatus int) (success, conflict bool, body []byte) {
	var rdr io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rdr)
	if err != nil {
		return false, false, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, false, nil
	}
	defer resp.Body.Close()
	body, _ = io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case okStatus:
		return true, false, body
	case http.StatusBadRequest, http.StatusConflict:
		return false, true, body
	}
	return false, false, body
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	sess := s.pool.Sessions[rng.Intn(len(s.pool.Sessions))]
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	success, conflict, body := s.do(ctx, http.MethodPost, "/api/appointments", sess.Token,
		map[string]int64{"slotId": slot.ID, "clinicianId": slot.ClinicianID}, http.StatusOK)
	latency := time.Since(start)

	if success {
		var appt struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(body, &appt) == nil && appt.ID > 0 {
			s.pool.AddAppointment(appt.ID, sess)
		}
	}
	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, owner, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	success, conflict, _ := s.do(ctx, http.MethodDelete, "/api/appointments?id="+strconv.FormatInt(id, 10), owner.Token, nil, http.StatusOK)
	latency := time.Since(start)

	if success || conflict {
		s.pool.RemoveAppointment(id)
	}
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, owner, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	success, conflict, _ := s.do(ctx, http.MethodPatch, "/api/appointments?id="+strconv.FormatInt(id, 10), owner.Token,
		map[string]int64{"newSlotId": slot.ID}, http.StatusOK)
	s.metrics.Reschedule.Record(time.Since(start), success, conflict)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	success, _, _ := s.do(ctx, http.MethodGet, "/api/available-slots?date="+slot.Day, "", nil, http.StatusOK)
	s.metrics.Availability.Record(time.Since(start), success, false)
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	sess := s.pool.Sessions[rng.Intn(len(s.pool.Sessions))]

	start := time.Now()
	success, _, _ := s.do(ctx, http.MethodGet, "/api/appointments", sess.Token, nil, http.StatusOK)
	s.metrics.ListMine.Record(time.Since(start), success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Available slots", &s.metrics.Availability)
	printOperationReport("List my appointments", &s.metrics.ListMine)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
