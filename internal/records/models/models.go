// Package models defines the domain records the engine monitors. The host
// application owns these rows; the engine reads them and only ever writes the
// escalation-state attributes on review items.
package models

import (
	"time"

	"vigil/pkg/domain"
)

// DeadlineStatus tracks a compliance deadline's lifecycle in the host app.
type DeadlineStatus string

const (
	DeadlinePending   DeadlineStatus = "pending"
	DeadlineCompleted DeadlineStatus = "completed"
	DeadlineCancelled DeadlineStatus = "cancelled"
)

// Deadline is an obligation with a due date.
type Deadline struct {
	ID      string
	Scope   domain.Scope
	Title   string
	DueDate time.Time
	Status  DeadlineStatus
}

// Ref returns the monitored-item reference for this deadline.
func (d Deadline) Ref() domain.ItemRef {
	return domain.ItemRef{Domain: domain.DomainDeadline, EntityID: d.ID}
}

// ReviewItem is a human-review queue entry. Escalation state lives on the row
// because review backlog is the one domain where elapsed time drives levels.
type ReviewItem struct {
	ID                  string
	Scope               domain.Scope
	Title               string
	CreatedAt           time.Time
	ResolvedAt          *time.Time
	EscalationLevel     domain.EscalationLevel
	EscalatedAt         *time.Time
	LastEscalationReset *time.Time
}

// Ref returns the monitored-item reference for this review item.
func (r ReviewItem) Ref() domain.ItemRef {
	return domain.ItemRef{Domain: domain.DomainReview, EntityID: r.ID}
}

// PendingSince is the timestamp elapsed-time arithmetic starts from: the last
// escalation reset when one exists, otherwise creation.
func (r ReviewItem) PendingSince() time.Time {
	if r.LastEscalationReset != nil {
		return *r.LastEscalationReset
	}
	return r.CreatedAt
}

// Resolved reports whether the review has been completed.
func (r ReviewItem) Resolved() bool { return r.ResolvedAt != nil }

// Licence is a permit with an expiry date.
type Licence struct {
	ID         string
	Scope      domain.Scope
	Title      string
	ExpiryDate time.Time
	RenewedAt  *time.Time
}

// Ref returns the monitored-item reference for this licence.
func (l Licence) Ref() domain.ItemRef {
	return domain.ItemRef{Domain: domain.DomainLicence, EntityID: l.ID}
}

// PeriodicTest is a recurring test (e.g. a stack test) with a due date.
type PeriodicTest struct {
	ID          string
	Scope       domain.Scope
	Title       string
	DueDate     time.Time
	CompletedAt *time.Time
}

// Ref returns the monitored-item reference for this test.
func (t PeriodicTest) Ref() domain.ItemRef {
	return domain.ItemRef{Domain: domain.DomainTest, EntityID: t.ID}
}

// EvidenceLink attaches a piece of evidence to a monitored item. A link stops
// counting as valid once expired or unlinked.
type EvidenceLink struct {
	ID         string
	ItemRef    domain.ItemRef
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	UnlinkedAt *time.Time
}

// ValidAt reports whether the link counts as evidence at the given time.
func (e EvidenceLink) ValidAt(t time.Time) bool {
	if e.UnlinkedAt != nil && !e.UnlinkedAt.After(t) {
		return false
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(t) {
		return false
	}
	return true
}
