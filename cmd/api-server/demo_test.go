package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
	"github.com/hackgods/gp-appointment-portal/internal/auth"
)

func TestSeedDemo(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	// a Friday, so the following week has five working days
	now := time.Date(2030, 3, 1, 12, 0, 0, 0, loc)

	store := appointment.NewMemStore()
	require.NoError(t, seedDemo(store, loc, now))

	ctx := context.Background()
	patient, err := store.GetUserByEmail(ctx, "patient@example.com")
	require.NoError(t, err)
	assert.Equal(t, appointment.RolePatient, patient.Role)
	assert.True(t, auth.CheckPassword(patient.PasswordHash, demoPassword))

	admin, err := store.GetUserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, appointment.RoleAdmin, admin.Role)

	slots, _ := store.Snapshot()
	// 5 weekdays x 2 clinicians x 6 half-hour slots
	assert.Len(t, slots, 60)
	for _, s := range slots {
		local := s.StartTime.In(loc)
		assert.NotEqual(t, time.Saturday, local.Weekday())
		assert.NotEqual(t, time.Sunday, local.Weekday())
		assert.True(t, local.After(now))
		assert.Equal(t, 30*time.Minute, s.EndTime.Sub(s.StartTime))
	}
}
