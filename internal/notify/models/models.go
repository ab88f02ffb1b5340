// Package models defines the notification row and its lifecycle. The status
// transition table is the single source of truth: stores refuse any mutation
// the table does not allow, so an illegal transition is a bug surfaced at the
// write, never a silent overwrite.
package models

import (
	"fmt"
	"time"

	"vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Status is the delivery lifecycle state of a notification.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusSent      Status = "SENT"
	StatusRetrying  Status = "RETRYING"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// transitions is the central legal-transition table.
//
//	PENDING  -> QUEUED (rate limiter defers to digest)
//	PENDING  -> SENT | RETRYING | FAILED (dispatcher)
//	QUEUED   -> SENT | CANCELLED (digest batcher)
//	RETRYING -> SENT | RETRYING | FAILED (dispatcher)
//
// SENT, FAILED and CANCELLED are terminal; provider callbacks only touch
// delivery metadata, never these states.
var transitions = map[Status][]Status{
	StatusPending:  {StatusQueued, StatusSent, StatusRetrying, StatusFailed},
	StatusQueued:   {StatusSent, StatusCancelled},
	StatusRetrying: {StatusSent, StatusRetrying, StatusFailed},
}

// CanTransition reports whether moving from one status to another is legal.
// RETRYING -> RETRYING is allowed: each transient failure reschedules.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transition.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0 && s.IsValid()
}

// IsValid checks if the status is one of the supported enum values.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusSent, StatusRetrying, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Channel identifies the delivery mechanism.
type Channel string

const (
	ChannelEmail Channel = "email"
)

// DeliveryStatus is provider-reported delivery metadata, updated by the
// status webhook after a notification is already SENT.
type DeliveryStatus string

const (
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryBounced    DeliveryStatus = "bounced"
	DeliveryComplained DeliveryStatus = "complained"
	DeliveryOpened     DeliveryStatus = "opened"
	DeliveryClicked    DeliveryStatus = "clicked"
)

// IsValid checks if the delivery status is one of the supported events.
func (d DeliveryStatus) IsValid() bool {
	switch d {
	case DeliveryDelivered, DeliveryBounced, DeliveryComplained, DeliveryOpened, DeliveryClicked:
		return true
	}
	return false
}

// TypeFor builds the notification type key from domain and severity,
// e.g. "deadline.high". Digest grouping and volume metrics key off it.
func TypeFor(d domain.MonitoredDomain, sev domain.Severity) string {
	return fmt.Sprintf("%s.%s", d, sev)
}

// Notification is one message owed to one recipient. Rows are never deleted;
// terminal states are retained for audit and dedup checks.
type Notification struct {
	ID             domain.NotificationID
	RecipientID    domain.UserID
	RecipientEmail string
	Scope          domain.Scope
	Type           string
	Channel        Channel
	Priority       domain.Severity
	Subject        string
	Body           string
	Status         Status
	ScheduledFor   time.Time
	CreatedAt      time.Time
	SentAt         *time.Time

	// Delivery metadata.
	DeliveryProvider   string
	DeliveryProviderID string
	DeliveryStatus     DeliveryStatus
	RetryCount         int
	LastError          string

	// Escalation metadata.
	ItemRef         domain.ItemRef
	EscalationLevel domain.EscalationLevel

	// Digest metadata, set when the rate limiter defers the row.
	DigestTag   string
	DigestDueAt *time.Time
}

// New validates and constructs a PENDING notification.
func New(recipient domain.UserID, email string, scope domain.Scope, ref domain.ItemRef,
	level domain.EscalationLevel, typ string, priority domain.Severity,
	subject, body string, now time.Time) (*Notification, error) {

	if recipient.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "recipient is required")
	}
	if email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "recipient email is required")
	}
	if ref.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "item ref is required")
	}
	if !priority.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid priority")
	}
	if !level.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid escalation level")
	}

	return &Notification{
		ID:              domain.NewNotificationID(),
		RecipientID:     recipient,
		RecipientEmail:  email,
		Scope:           scope,
		Type:            typ,
		Channel:         ChannelEmail,
		Priority:        priority,
		Subject:         subject,
		Body:            body,
		Status:          StatusPending,
		ScheduledFor:    now,
		CreatedAt:       now,
		ItemRef:         ref,
		EscalationLevel: level,
	}, nil
}
