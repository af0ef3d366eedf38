package appointment

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidSlotWindow = errors.New("slot start time must be before end time")
	ErrSlotOverlap       = errors.New("slot overlaps an existing slot for this clinician")
	ErrSlotReferenced    = errors.New("slot is referenced by an appointment")
)

// CreateSlot adds a bookable window for a clinician.
func (s *Service) CreateSlot(ctx context.Context, in SlotInput) (*Slot, error) {
	verr := NewValidationError()
	if in.ClinicianID <= 0 {
		verr.Add("clinicianId", "Clinician ID must be a positive number")
	}
	if in.StartTime.IsZero() {
		verr.Add("startTime", "Start time is required")
	}
	if in.EndTime.IsZero() {
		verr.Add("endTime", "End time is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	if !in.StartTime.Before(in.EndTime) {
		return nil, ErrInvalidSlotWindow
	}

	var created *Slot
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetClinicianByID(ctx, in.ClinicianID); err != nil {
			return err
		}

		overlap, err := tx.FindOverlappingSlot(ctx, in.ClinicianID, in.StartTime, in.EndTime)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return fmt.Errorf("check overlap: %w", err)
		}
		if overlap != nil {
			return fmt.Errorf("%w (slot %d)", ErrSlotOverlap, overlap.ID)
		}

		now := s.now()
		sl := &Slot{
			ClinicianID: in.ClinicianID,
			StartTime:   in.StartTime,
			EndTime:     in.EndTime,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertSlot(ctx, sl); err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
		created = sl
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAvailability(ctx, *created)
	return created, nil
}

// DeleteSlot removes a slot that no appointment, active or historical, references.
func (s *Service) DeleteSlot(ctx context.Context, id int64) error {
	var removed Slot
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		sl, err := tx.LockSlot(ctx, id)
		if err != nil {
			return err
		}
		n, err := tx.CountAppointmentsForSlot(ctx, id)
		if err != nil {
			return fmt.Errorf("count appointments: %w", err)
		}
		if n > 0 || sl.IsBooked {
			return ErrSlotReferenced
		}
		if err := tx.DeleteSlot(ctx, id); err != nil {
			return fmt.Errorf("delete slot: %w", err)
		}
		removed = *sl
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateAvailability(ctx, removed)
	return nil
}

func (s *Service) ListClinicians(ctx context.Context) ([]Clinician, error) {
	clinicians, err := s.store.ListClinicians(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clinicians: %w", err)
	}
	return clinicians, nil
}
