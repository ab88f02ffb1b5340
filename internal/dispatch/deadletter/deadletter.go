// Package deadletter is the terminal store for notifications that exhausted
// retries or hit a permanent failure. Records preserve the original payload
// so an operator can inspect and manually re-send; nothing is silently lost.
package deadletter

import (
	"context"
	"time"

	"vigil/pkg/domain"
)

// Record is one dead-lettered notification.
type Record struct {
	ID             string
	NotificationID domain.NotificationID
	RecipientEmail string
	Subject        string
	Body           string
	Reason         string
	RetryCount     int
	CreatedAt      time.Time
}

// Store persists dead-letter records. Append-only.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// List returns the most recent records, newest first.
	List(ctx context.Context, limit int) ([]Record, error)
}
