package main

import (
	"fmt"
	"time"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
	"github.com/hackgods/gp-appointment-portal/internal/auth"
)

const demoPassword = "password123"

// seedDemo gives the memory driver a usable practice: two GPs, a patient, an admin and a week of slots.
func seedDemo(store *appointment.MemStore, loc *time.Location, now time.Time) error {
	hash, err := auth.HashPassword(demoPassword)
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}

	nhs := "1234567890"
	store.AddUser(appointment.User{NHSNumber: &nhs, Name: "Demo Patient", Email: "patient@example.com", PasswordHash: hash, Role: appointment.RolePatient, CreatedAt: now, UpdatedAt: now})
	store.AddUser(appointment.User{Name: "Practice Admin", Email: "admin@example.com", PasswordHash: hash, Role: appointment.RoleAdmin, CreatedAt: now, UpdatedAt: now})

	general := "General Practice"
	clinicians := []appointment.Clinician{
		store.AddClinician(appointment.Clinician{Name: "Dr Amelia Hart", Practice: "Riverside Surgery", Specialty: &general, CreatedAt: now, UpdatedAt: now}),
		store.AddClinician(appointment.Clinician{Name: "Dr Tom Okafor", Practice: "Riverside Surgery", CreatedAt: now, UpdatedAt: now}),
	}

	y, m, d := now.In(loc).Date()
	for day := 1; day <= 7; day++ {
		open := time.Date(y, m, d+day, 9, 0, 0, 0, loc)
		if wd := open.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for _, c := range clinicians {
			for start := open; start.Hour() < 12; start = start.Add(30 * time.Minute) {
				store.AddSlot(appointment.Slot{
					ClinicianID: c.ID,
					StartTime:   start,
					EndTime:     start.Add(30 * time.Minute),
					CreatedAt:   now,
					UpdatedAt:   now,
				})
			}
		}
	}
	return nil
}
