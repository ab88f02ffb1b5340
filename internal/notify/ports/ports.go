// Package ports defines shared interfaces for the notify module.
package ports

import (
	"context"
	"time"

	"vigil/internal/notify/models"
	"vigil/pkg/domain"
)

// Store persists notification rows. Implementations enforce the transition
// table from the models package on every status mutation.
type Store interface {
	// Create inserts a new notification row.
	Create(ctx context.Context, n *models.Notification) error

	// Get returns one notification by id.
	Get(ctx context.Context, id domain.NotificationID) (*models.Notification, error)

	// LatestForItemLevel returns the most recent non-cancelled notification
	// for (item, level, recipient), or nil. The rate limiter's cooldown and
	// the idempotent re-run guarantee both rest on this lookup.
	LatestForItemLevel(ctx context.Context, ref domain.ItemRef, level domain.EscalationLevel, recipient domain.UserID) (*models.Notification, error)

	// LatestForItem returns when the most recent non-cancelled notification
	// for an item was created, any level or recipient, or nil. Resolution
	// suppression compares resolution signals against this timestamp.
	LatestForItem(ctx context.Context, ref domain.ItemRef) (*time.Time, error)

	// CountForRecipientSince counts notifications created for a recipient
	// on a channel since the window start, regardless of current status.
	CountForRecipientSince(ctx context.Context, recipient domain.UserID, channel models.Channel, since time.Time) (int, error)

	// ClaimDue atomically claims up to limit PENDING/RETRYING rows whose
	// scheduled_for has passed, pushing their scheduled_for forward by the
	// lease so concurrent dispatchers never double-send. Claimed rows keep
	// their status; the dispatcher decides the transition after delivery.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Notification, error)

	// MarkSent finalizes a delivered notification.
	MarkSent(ctx context.Context, id domain.NotificationID, provider, providerID string, at time.Time) error

	// MarkRetrying reschedules after a transient failure.
	MarkRetrying(ctx context.Context, id domain.NotificationID, retryCount int, nextAttempt time.Time, reason string) error

	// MarkFailed terminates the notification after a permanent failure or
	// retry exhaustion.
	MarkFailed(ctx context.Context, id domain.NotificationID, reason string) error

	// MarkQueued moves a PENDING row onto the digest path.
	MarkQueued(ctx context.Context, id domain.NotificationID, tag string, dueAt time.Time) error

	// QueuedDigestRecipients lists recipients holding QUEUED rows due for
	// flushing.
	QueuedDigestRecipients(ctx context.Context, dueBefore time.Time) ([]domain.UserID, error)

	// ListQueuedDigest returns a recipient's QUEUED rows due for flushing,
	// oldest first.
	ListQueuedDigest(ctx context.Context, recipient domain.UserID, dueBefore time.Time) ([]*models.Notification, error)

	// MarkDigestSent transitions the given QUEUED rows to SENT after the
	// summary message was confirmed delivered.
	MarkDigestSent(ctx context.Context, ids []domain.NotificationID, provider, providerID string, at time.Time) error

	// UpdateDeliveryStatus records a provider callback by provider message
	// id. Terminal statuses are never reopened; only delivery metadata
	// changes. Returns whether a matching row existed.
	UpdateDeliveryStatus(ctx context.Context, providerID string, status models.DeliveryStatus) (bool, error)
}
