package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/gp-appointment-portal/internal/config"
	redisclient "github.com/hackgods/gp-appointment-portal/internal/redis"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
)

var (
	ErrSlotUnavailable   = errors.New("this slot is no longer available")
	ErrDuplicateBooking  = errors.New("you already have an appointment at this time")
	ErrAlreadyCancelled  = errors.New("appointment is already cancelled")
	ErrClinicianMismatch = errors.New("clinician does not match the selected slot")
	ErrForbidden         = errors.New("not allowed to act on this appointment")
)

// Cache is the byte cache used for availability results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Generation reads a counter. A counter never bumped reads zero.
	Generation(ctx context.Context, key string) (int64, error)
	Bump(ctx context.Context, key string) (int64, error)
}

// Service is the only writer of slot booked flags and appointment status.
type Service struct {
	store  Store
	locker redisclient.Locker
	cache  Cache
	cfg    config.Config
	log    zerolog.Logger
	now    func() time.Time
}

// NewService wires the booking service. cache may be nil to disable availability caching.
func NewService(store Store, locker redisclient.Locker, cache Cache, cfg config.Config, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		store:  store,
		locker: locker,
		cache:  cache,
		cfg:    cfg,
		log:    logger.With().Str("component", "booking").Logger(),
		now:    time.Now,
	}
}

// CreateBooking reserves a future, unbooked slot for a patient.
// The slot lock narrows contention; the transaction and the guarded flag update decide the race.
func (s *Service) CreateBooking(ctx context.Context, req BookingRequest) (*AppointmentDetail, error) {
	verr := NewValidationError()
	if req.SlotID <= 0 {
		verr.Add("slotId", "Slot ID must be a positive number")
	}
	if req.ClinicianID <= 0 {
		verr.Add("clinicianId", "Clinician ID must be a positive number")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	var created *AppointmentDetail

	err := s.locker.WithSlotLock(ctx, req.SlotID, func(lockCtx context.Context) error {
		return s.store.WithTx(lockCtx, func(ctx context.Context, tx Tx) error {
			now := s.now()

			slot, err := tx.LockSlot(ctx, req.SlotID)
			if err != nil {
				if errors.Is(err, ErrSlotNotFound) {
					return fmt.Errorf("%w: slot %d does not exist", ErrSlotUnavailable, req.SlotID)
				}
				return fmt.Errorf("lock slot: %w", err)
			}
			if slot.IsBooked || !slot.StartTime.After(now) {
				return ErrSlotUnavailable
			}
			if slot.ClinicianID != req.ClinicianID {
				return ErrClinicianMismatch
			}

			if _, err := tx.LockPatient(ctx, req.PatientID); err != nil {
				if errors.Is(err, ErrPatientNotFound) {
					return err
				}
				return fmt.Errorf("lock patient: %w", err)
			}

			existing, err := tx.FindActiveInWindow(ctx, req.PatientID, slot.StartTime, slot.EndTime, 0)
			if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("check patient window: %w", err)
			}
			if existing != nil {
				return ErrDuplicateBooking
			}

			appt, reused, err := s.bindAppointment(ctx, tx, slot, req, now)
			if err != nil {
				return err
			}

			if err := tx.SetSlotBooked(ctx, slot.ID, true); err != nil {
				if errors.Is(err, ErrSlotStateChanged) {
					return ErrSlotUnavailable
				}
				return fmt.Errorf("book slot: %w", err)
			}
			slot.IsBooked = true

			clinician, err := tx.GetClinicianByID(ctx, slot.ClinicianID)
			if err != nil {
				return fmt.Errorf("load clinician: %w", err)
			}

			if err := s.logEvent(ctx, tx, appt.ID, EventAppointmentBooked, map[string]any{
				"slot_id":      slot.ID,
				"patient_id":   appt.PatientID,
				"clinician_id": appt.ClinicianID,
				"start_time":   slot.StartTime,
				"reused_row":   reused,
			}); err != nil {
				return err
			}

			created = &AppointmentDetail{Appointment: *appt, Slot: slot, Clinician: clinician}
			return nil
		})
	})
	if err != nil {
		return nil, s.mapLockError(err)
	}

	s.invalidateAvailability(ctx, *created.Slot)
	s.log.Info().
		Int64("appointment_id", created.ID).
		Int64("slot_id", created.SlotID).
		Int64("patient_id", created.PatientID).
		Msg("appointment booked")

	return created, nil
}

// bindAppointment reuses the latest cancelled row for the slot when configured, else inserts.
func (s *Service) bindAppointment(ctx context.Context, tx Tx, slot *Slot, req BookingRequest, now time.Time) (*Appointment, bool, error) {
	if s.cfg.ReuseCancelledRows {
		prev, err := tx.LatestCancelledForSlot(ctx, slot.ID)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return nil, false, fmt.Errorf("find cancelled appointment: %w", err)
		}
		if prev != nil && prev.Status.CanTransition(StatusScheduled) {
			prev.PatientID = req.PatientID
			prev.ClinicianID = req.ClinicianID
			prev.Notes = req.Notes
			prev.Status = StatusScheduled
			prev.UpdatedAt = now
			if err := tx.UpdateAppointment(ctx, prev); err != nil {
				return nil, false, s.mapActiveSlotError(fmt.Errorf("reuse cancelled appointment: %w", err))
			}
			return prev, true, nil
		}
	}

	appt := &Appointment{
		PatientID:   req.PatientID,
		ClinicianID: req.ClinicianID,
		SlotID:      slot.ID,
		Status:      StatusScheduled,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return nil, false, s.mapActiveSlotError(fmt.Errorf("insert appointment: %w", err))
	}
	return appt, false, nil
}

// CancelBooking releases the appointment's slot and marks it CANCELLED.
// Cancelling twice is a conflict and never touches the slot again.
func (s *Service) CancelBooking(ctx context.Context, actor Actor, appointmentID int64) (*Appointment, error) {
	var (
		cancelled *Appointment
		released  Slot
	)

	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.LockAppointment(ctx, appointmentID)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return err
			}
			return fmt.Errorf("lock appointment: %w", err)
		}
		if !actor.CanActFor(appt.PatientID) {
			return ErrForbidden
		}
		if !appt.Status.CanTransition(StatusCancelled) {
			return ErrAlreadyCancelled
		}

		slot, err := tx.LockSlot(ctx, appt.SlotID)
		if err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}
		if err := tx.SetSlotBooked(ctx, slot.ID, false); err != nil {
			return fmt.Errorf("release slot %d: %w", slot.ID, err)
		}
		slot.IsBooked = false

		appt.Status = StatusCancelled
		appt.UpdatedAt = s.now()
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}

		if err := s.logEvent(ctx, tx, appt.ID, EventAppointmentCancelled, map[string]any{
			"slot_id":    slot.ID,
			"patient_id": appt.PatientID,
			"by_user_id": actor.UserID,
		}); err != nil {
			return err
		}

		cancelled = appt
		released = *slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAvailability(ctx, released)
	s.log.Info().
		Int64("appointment_id", cancelled.ID).
		Int64("slot_id", released.ID).
		Msg("appointment cancelled")

	return cancelled, nil
}

// RescheduleBooking moves an active appointment onto newSlotID, reusing the same row.
func (s *Service) RescheduleBooking(ctx context.Context, actor Actor, appointmentID, newSlotID int64) (*AppointmentDetail, error) {
	if newSlotID <= 0 {
		verr := NewValidationError()
		verr.Add("newSlotId", "New slot ID must be a positive number")
		return nil, verr
	}

	var (
		updated *AppointmentDetail
		oldSlot Slot
	)

	err := s.locker.WithSlotLock(ctx, newSlotID, func(lockCtx context.Context) error {
		return s.store.WithTx(lockCtx, func(ctx context.Context, tx Tx) error {
			now := s.now()

			appt, err := tx.LockAppointment(ctx, appointmentID)
			if err != nil {
				if errors.Is(err, ErrAppointmentNotFound) {
					return err
				}
				return fmt.Errorf("lock appointment: %w", err)
			}
			if !actor.CanActFor(appt.PatientID) {
				return ErrForbidden
			}
			if !appt.Status.CanTransition(StatusRescheduled) {
				return ErrAlreadyCancelled
			}
			if appt.SlotID == newSlotID {
				return ErrSlotUnavailable
			}

			current, next, err := lockSlotPair(ctx, tx, appt.SlotID, newSlotID)
			if err != nil {
				return err
			}
			if next.IsBooked || !next.StartTime.After(now) {
				return ErrSlotUnavailable
			}

			if _, err := tx.LockPatient(ctx, appt.PatientID); err != nil {
				return fmt.Errorf("lock patient: %w", err)
			}
			clash, err := tx.FindActiveInWindow(ctx, appt.PatientID, next.StartTime, next.EndTime, appt.ID)
			if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("check patient window: %w", err)
			}
			if clash != nil {
				return ErrDuplicateBooking
			}

			if err := tx.SetSlotBooked(ctx, current.ID, false); err != nil {
				return fmt.Errorf("release slot %d: %w", current.ID, err)
			}
			current.IsBooked = false
			if err := tx.SetSlotBooked(ctx, next.ID, true); err != nil {
				if errors.Is(err, ErrSlotStateChanged) {
					return ErrSlotUnavailable
				}
				return fmt.Errorf("book slot %d: %w", next.ID, err)
			}
			next.IsBooked = true

			fromSlot := appt.SlotID
			appt.SlotID = next.ID
			appt.ClinicianID = next.ClinicianID
			appt.Status = StatusRescheduled
			appt.UpdatedAt = now
			if err := tx.UpdateAppointment(ctx, appt); err != nil {
				return s.mapActiveSlotError(fmt.Errorf("reschedule appointment: %w", err))
			}

			clinician, err := tx.GetClinicianByID(ctx, next.ClinicianID)
			if err != nil {
				return fmt.Errorf("load clinician: %w", err)
			}

			if err := s.logEvent(ctx, tx, appt.ID, EventAppointmentRescheduled, map[string]any{
				"from_slot_id": fromSlot,
				"to_slot_id":   next.ID,
				"patient_id":   appt.PatientID,
				"by_user_id":   actor.UserID,
			}); err != nil {
				return err
			}

			updated = &AppointmentDetail{Appointment: *appt, Slot: next, Clinician: clinician}
			oldSlot = *current
			return nil
		})
	})
	if err != nil {
		return nil, s.mapLockError(err)
	}

	s.invalidateAvailability(ctx, oldSlot, *updated.Slot)
	s.log.Info().
		Int64("appointment_id", updated.ID).
		Int64("from_slot_id", oldSlot.ID).
		Int64("to_slot_id", updated.SlotID).
		Msg("appointment rescheduled")

	return updated, nil
}

// lockSlotPair locks both slots in ascending id order so concurrent reschedules cannot deadlock.
func lockSlotPair(ctx context.Context, tx Tx, currentID, nextID int64) (*Slot, *Slot, error) {
	first, second := currentID, nextID
	if first > second {
		first, second = second, first
	}

	locked := make(map[int64]*Slot, 2)
	for _, id := range []int64{first, second} {
		sl, err := tx.LockSlot(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) && id == nextID {
				return nil, nil, fmt.Errorf("%w: slot %d does not exist", ErrSlotUnavailable, id)
			}
			return nil, nil, fmt.Errorf("lock slot %d: %w", id, err)
		}
		locked[id] = sl
	}
	return locked[currentID], locked[nextID], nil
}

// GetAppointment returns a hydrated appointment the actor is allowed to see.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id int64) (*AppointmentDetail, error) {
	detail, err := s.store.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !actor.CanActFor(detail.PatientID) {
		return nil, ErrForbidden
	}
	return detail, nil
}

// ListActiveAppointments returns the patient's SCHEDULED and RESCHEDULED appointments by slot start.
func (s *Service) ListActiveAppointments(ctx context.Context, patientID int64) ([]AppointmentDetail, error) {
	user, err := s.store.GetUserByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if user.Role != RolePatient {
		return nil, ErrPatientNotFound
	}

	appointments, err := s.store.ListAppointmentsByPatient(ctx, patientID, ActiveStatuses)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListAppointments backs the admin console.
func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter) ([]AppointmentDetail, error) {
	f = f.Paged()

	appointments, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

func (s *Service) logEvent(ctx context.Context, tx Tx, appointmentID int64, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return nil
}

func (s *Service) mapLockError(err error) error {
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return fmt.Errorf("%w: slot is currently being booked", ErrSlotUnavailable)
	}
	return err
}

func (s *Service) mapActiveSlotError(err error) error {
	if errors.Is(err, ErrActiveSlotTaken) {
		return ErrSlotUnavailable
	}
	return err
}
