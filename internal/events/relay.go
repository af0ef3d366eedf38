// Package events relays the appointment outbox to the message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
)

// EventSource is the outbox side of the appointment store.
type EventSource interface {
	ListUnpublishedEvents(ctx context.Context, limit int) ([]appointment.EventLog, error)
	MarkEventPublished(ctx context.Context, id int64, at time.Time) error
}

type Relay struct {
	source    EventSource
	publisher Publisher
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

func NewRelay(source EventSource, publisher Publisher, batchSize int, logger zerolog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		batchSize: batchSize,
		log:       logger.With().Str("component", "outbox-relay").Logger(),
		now:       time.Now,
	}
}

// RoutingKey maps APPOINTMENT_BOOKED to appointment.booked.
func RoutingKey(eventType string) string {
	return strings.ToLower(strings.Replace(eventType, "_", ".", 1))
}

type envelope struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	AppointmentID *int64          `json:"appointmentId,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

// RunOnce publishes one batch in id order. The first failure stops the batch so later
// events are never delivered ahead of an earlier one.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	batch, err := r.source.ListUnpublishedEvents(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unpublished events: %w", err)
	}

	sent := 0
	for _, ev := range batch {
		payload := json.RawMessage(ev.Payload)
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		body, err := json.Marshal(envelope{
			ID:            ev.ID,
			Type:          ev.EventType,
			AppointmentID: ev.AppointmentID,
			OccurredAt:    ev.CreatedAt,
			Payload:       payload,
		})
		if err != nil {
			return sent, fmt.Errorf("marshal event %d: %w", ev.ID, err)
		}

		msg := Message{ID: ev.ID, RoutingKey: RoutingKey(ev.EventType), Body: body, CreatedAt: ev.CreatedAt}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			return sent, fmt.Errorf("publish event %d: %w", ev.ID, err)
		}
		if err := r.source.MarkEventPublished(ctx, ev.ID, r.now()); err != nil {
			return sent, fmt.Errorf("mark event %d published: %w", ev.ID, err)
		}
		sent++
	}

	if sent > 0 {
		r.log.Info().Int("published", sent).Msg("outbox batch relayed")
	}
	return sent, nil
}

// Run calls RunOnce now and then every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	r.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("outbox relay stopping")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Relay) tick(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		r.log.Error().Err(err).Msg("outbox relay run failed")
	}
}
