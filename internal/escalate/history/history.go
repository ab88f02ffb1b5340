// Package history persists the append-only escalation trajectory. The live
// review row only carries the current level; every transition lands here, so
// resets never erase what happened.
package history

import (
	"context"
	"time"

	"vigil/pkg/domain"
)

// Entry is one recorded escalation transition.
type Entry struct {
	ID            string
	ItemRef       domain.ItemRef
	PreviousLevel domain.EscalationLevel
	NewLevel      domain.EscalationLevel
	HoursPending  float64
	// EscalatedTo lists the recipients resolved for this transition. Empty
	// means the escalation was recorded without anyone to notify.
	EscalatedTo      []domain.UserID
	NotificationSent bool
	CreatedAt        time.Time
}

// Store appends and lists escalation history.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// ForItem returns an item's transitions, oldest first.
	ForItem(ctx context.Context, ref domain.ItemRef) ([]Entry, error)
}
