// Package ports defines the record-store contracts the engine consumes.
// The host application owns the underlying tables; these interfaces are the
// narrow read/write surface spec'd for each component.
package ports

import (
	"context"
	"time"

	"vigil/internal/records/models"
	"vigil/pkg/domain"
)

// DeadlineStore enumerates compliance deadlines.
type DeadlineStore interface {
	// PendingDueBy returns pending deadlines due on or before the horizon,
	// including ones already overdue.
	PendingDueBy(ctx context.Context, scope domain.Scope, horizon time.Time) ([]models.Deadline, error)
}

// ReviewStore enumerates review-queue items and owns their escalation state.
type ReviewStore interface {
	// Unresolved returns review items without a resolution.
	Unresolved(ctx context.Context, scope domain.Scope) ([]models.ReviewItem, error)

	// RaiseEscalationLevel conditionally raises the item's level. The update
	// applies only while the persisted level is still below target, which
	// keeps levels monotonic under concurrent workers. Returns whether the
	// row changed.
	RaiseEscalationLevel(ctx context.Context, itemID string, target domain.EscalationLevel, at time.Time) (bool, error)

	// ResetEscalation returns the item to level zero after a resolution
	// signal and stamps last_escalation_reset so a new at-risk window
	// starts from scratch.
	ResetEscalation(ctx context.Context, itemID string, at time.Time) error
}

// LicenceStore enumerates licences nearing expiry.
type LicenceStore interface {
	ExpiringBy(ctx context.Context, scope domain.Scope, horizon time.Time) ([]models.Licence, error)
}

// TestStore enumerates periodic tests nearing their due date.
type TestStore interface {
	DueBy(ctx context.Context, scope domain.Scope, horizon time.Time) ([]models.PeriodicTest, error)
}

// EvidenceStore answers evidence questions for any monitored item.
type EvidenceStore interface {
	// HasValidEvidence reports whether a non-expired, non-unlinked evidence
	// link exists for the item at the given time.
	HasValidEvidence(ctx context.Context, ref domain.ItemRef, at time.Time) (bool, error)
}

// ResolutionStore reports the most recent resolution signal for an item:
// evidence attached, review completed, licence renewed, or test performed,
// depending on the item's domain.
type ResolutionStore interface {
	LatestResolutionAt(ctx context.Context, ref domain.ItemRef) (*time.Time, error)
}
