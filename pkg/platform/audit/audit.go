// Package audit captures the engine's escalation and delivery trail. Events
// are written to a transactional outbox and published to Kafka by the outbox
// publisher; emission from services is always best-effort and never blocks a
// primary transition.
package audit

import (
	"context"
	"time"
)

// Action names what happened.
type Action string

const (
	EventEscalationRaised            Action = "escalation_raised"
	EventEscalationWithoutRecipients Action = "escalation_without_recipients"
	EventEscalationReset             Action = "escalation_reset"
	EventNotificationCreated         Action = "notification_created"
	EventNotificationQueued          Action = "notification_queued"
	EventNotificationSent            Action = "notification_sent"
	EventNotificationDeadLettered    Action = "notification_dead_lettered"
	EventDigestFlushed               Action = "digest_flushed"
)

// Event is emitted from engine services to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp      time.Time
	Action         Action
	ItemRef        string
	NotificationID string
	RecipientID    string
	Level          int
	Reason         string
	RunID          string
}

// Publisher emits audit events from engine services.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// Store persists audit events durably.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// StorePublisher is the default Publisher: it appends straight to a Store.
// The Kafka leg happens asynchronously in the outbox publisher.
type StorePublisher struct {
	store Store
}

// NewStorePublisher wraps a Store as a Publisher.
func NewStorePublisher(store Store) *StorePublisher {
	return &StorePublisher{store: store}
}

func (p *StorePublisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.store.Append(ctx, event)
}
