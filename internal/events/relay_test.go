package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
)

type recordingPublisher struct {
	sent   []Message
	failOn int64
}

func (p *recordingPublisher) Publish(_ context.Context, msg Message) error {
	if msg.ID == p.failOn {
		return errors.New("broker down")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func seedEvents(t *testing.T, store *appointment.MemStore, types ...string) {
	t.Helper()
	ctx := context.Background()
	for i, typ := range types {
		id := int64(i + 1)
		err := store.WithTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
			return tx.InsertEvent(ctx, appointment.EventLog{
				EventType:     typ,
				AppointmentID: &id,
				Payload:       []byte(`{"slot_id":1}`),
				CreatedAt:     time.Now(),
			})
		})
		require.NoError(t, err)
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "appointment.booked", RoutingKey(appointment.EventAppointmentBooked))
	assert.Equal(t, "appointment.cancelled", RoutingKey(appointment.EventAppointmentCancelled))
	assert.Equal(t, "appointment.rescheduled", RoutingKey(appointment.EventAppointmentRescheduled))
}

func TestRunOncePublishesAndMarks(t *testing.T) {
	store := appointment.NewMemStore()
	seedEvents(t, store, appointment.EventAppointmentBooked, appointment.EventAppointmentCancelled)
	pub := &recordingPublisher{}
	relay := NewRelay(store, pub, 10, zerolog.Nop())

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.sent, 2)
	assert.Equal(t, "appointment.booked", pub.sent[0].RoutingKey)

	var env map[string]any
	require.NoError(t, json.Unmarshal(pub.sent[0].Body, &env))
	assert.Equal(t, appointment.EventAppointmentBooked, env["type"])
	assert.Equal(t, map[string]any{"slot_id": float64(1)}, env["payload"])

	left, err := store.ListUnpublishedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, left)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnceStopsAtFirstFailure(t *testing.T) {
	store := appointment.NewMemStore()
	seedEvents(t, store, appointment.EventAppointmentBooked, appointment.EventAppointmentRescheduled, appointment.EventAppointmentCancelled)
	pub := &recordingPublisher{failOn: 2}
	relay := NewRelay(store, pub, 10, zerolog.Nop())

	n, err := relay.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)

	left, err := store.ListUnpublishedEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, int64(2), left[0].ID)
}

func TestRunOnceHonoursBatchSize(t *testing.T) {
	store := appointment.NewMemStore()
	seedEvents(t, store, appointment.EventAppointmentBooked, appointment.EventAppointmentBooked, appointment.EventAppointmentBooked)
	pub := &recordingPublisher{}

	n, err := NewRelay(store, pub, 2, zerolog.Nop()).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
