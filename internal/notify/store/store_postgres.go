package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vigil/internal/notify/models"
	"vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Postgres persists notification rows. Status updates carry the legal
// source states in their WHERE clause, so an illegal transition changes zero
// rows and is reported instead of applied.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed notification store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const notificationColumns = `
	id, recipient_id, recipient_email, company_id, site_id, type, channel,
	priority, subject, body, status, scheduled_for, created_at, sent_at,
	delivery_provider, delivery_provider_id, delivery_status, retry_count,
	last_error, item_ref, escalation_level, digest_tag, digest_due_at
`

func scanNotification(row interface{ Scan(...any) error }) (*models.Notification, error) {
	var n models.Notification
	var id, recipientID, companyID, siteID uuid.UUID
	var typ, channel, priority, status, itemRef string
	var deliveryStatus, digestTag sql.NullString
	var level int
	err := row.Scan(
		&id, &recipientID, &n.RecipientEmail, &companyID, &siteID, &typ, &channel,
		&priority, &n.Subject, &n.Body, &status, &n.ScheduledFor, &n.CreatedAt, &n.SentAt,
		&n.DeliveryProvider, &n.DeliveryProviderID, &deliveryStatus, &n.RetryCount,
		&n.LastError, &itemRef, &level, &digestTag, &n.DigestDueAt,
	)
	if err != nil {
		return nil, err
	}
	n.ID = domain.NotificationID(id)
	n.RecipientID = domain.UserID(recipientID)
	n.Scope = domain.Scope{CompanyID: domain.CompanyID(companyID), SiteID: domain.SiteID(siteID)}
	n.Type = typ
	n.Channel = models.Channel(channel)
	n.Priority = domain.Severity(priority)
	n.Status = models.Status(status)
	n.DeliveryStatus = models.DeliveryStatus(deliveryStatus.String)
	n.DigestTag = digestTag.String

	ref, err := domain.ParseItemRef(itemRef)
	if err != nil {
		return nil, fmt.Errorf("notification %s: %w", id, err)
	}
	n.ItemRef = ref
	parsedLevel, err := domain.ParseEscalationLevel(level)
	if err != nil {
		return nil, fmt.Errorf("notification %s: %w", id, err)
	}
	n.EscalationLevel = parsedLevel
	return &n, nil
}

func (s *Postgres) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(n.ID), uuid.UUID(n.RecipientID), n.RecipientEmail,
		uuid.UUID(n.Scope.CompanyID), uuid.UUID(n.Scope.SiteID),
		n.Type, string(n.Channel), string(n.Priority), n.Subject, n.Body,
		string(n.Status), n.ScheduledFor, n.CreatedAt, n.SentAt,
		n.DeliveryProvider, n.DeliveryProviderID, nullString(string(n.DeliveryStatus)),
		n.RetryCount, n.LastError, n.ItemRef.String(), int(n.EscalationLevel),
		nullString(n.DigestTag), n.DigestDueAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Postgres) Get(ctx context.Context, id domain.NotificationID) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	n, err := scanNotification(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "notification %s not found", id)
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (s *Postgres) LatestForItemLevel(ctx context.Context, ref domain.ItemRef, level domain.EscalationLevel, recipient domain.UserID) (*models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE item_ref = $1 AND escalation_level = $2 AND recipient_id = $3
		  AND status <> 'CANCELLED'
		ORDER BY created_at DESC
		LIMIT 1
	`
	n, err := scanNotification(s.db.QueryRowContext(ctx, query, ref.String(), int(level), uuid.UUID(recipient)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest notification for item level: %w", err)
	}
	return n, nil
}

func (s *Postgres) LatestForItem(ctx context.Context, ref domain.ItemRef) (*time.Time, error) {
	query := `
		SELECT MAX(created_at) FROM notifications
		WHERE item_ref = $1 AND status <> 'CANCELLED'
	`
	var latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, ref.String()).Scan(&latest); err != nil {
		return nil, fmt.Errorf("latest notification for item: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

func (s *Postgres) CountForRecipientSince(ctx context.Context, recipient domain.UserID, channel models.Channel, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND channel = $2 AND created_at >= $3
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, uuid.UUID(recipient), string(channel), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count notifications for recipient: %w", err)
	}
	return count, nil
}

// ClaimDue pushes scheduled_for forward in the same statement that selects
// the rows, so two dispatchers polling concurrently partition the backlog
// instead of double-sending. FOR UPDATE SKIP LOCKED keeps them from blocking
// each other.
func (s *Postgres) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Notification, error) {
	query := `
		UPDATE notifications
		SET scheduled_for = $2
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status IN ('PENDING', 'RETRYING') AND scheduled_for <= $1
			ORDER BY scheduled_for
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + notificationColumns
	rows, err := s.db.QueryContext(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// guardedUpdate runs an update restricted to legal source states and reports
// an invariant violation when no row changed but the row exists.
func (s *Postgres) guardedUpdate(ctx context.Context, id domain.NotificationID, to models.Status, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update notification status rows: %w", err)
	}
	if n == 0 {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"illegal notification transition %s -> %s", current.Status, to)
	}
	return nil
}

func (s *Postgres) MarkSent(ctx context.Context, id domain.NotificationID, provider, providerID string, at time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'SENT', sent_at = $2, delivery_provider = $3,
		    delivery_provider_id = $4, last_error = ''
		WHERE id = $1 AND status IN ('PENDING', 'RETRYING')
	`
	return s.guardedUpdate(ctx, id, models.StatusSent, query, uuid.UUID(id), at, provider, providerID)
}

func (s *Postgres) MarkRetrying(ctx context.Context, id domain.NotificationID, retryCount int, nextAttempt time.Time, reason string) error {
	query := `
		UPDATE notifications
		SET status = 'RETRYING', retry_count = $2, scheduled_for = $3, last_error = $4
		WHERE id = $1 AND status IN ('PENDING', 'RETRYING')
	`
	return s.guardedUpdate(ctx, id, models.StatusRetrying, query, uuid.UUID(id), retryCount, nextAttempt, reason)
}

func (s *Postgres) MarkFailed(ctx context.Context, id domain.NotificationID, reason string) error {
	query := `
		UPDATE notifications
		SET status = 'FAILED', last_error = $2
		WHERE id = $1 AND status IN ('PENDING', 'RETRYING')
	`
	return s.guardedUpdate(ctx, id, models.StatusFailed, query, uuid.UUID(id), reason)
}

func (s *Postgres) MarkQueued(ctx context.Context, id domain.NotificationID, tag string, dueAt time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'QUEUED', digest_tag = $2, digest_due_at = $3
		WHERE id = $1 AND status = 'PENDING'
	`
	return s.guardedUpdate(ctx, id, models.StatusQueued, query, uuid.UUID(id), tag, dueAt)
}

func (s *Postgres) QueuedDigestRecipients(ctx context.Context, dueBefore time.Time) ([]domain.UserID, error) {
	query := `
		SELECT DISTINCT recipient_id FROM notifications
		WHERE status = 'QUEUED' AND digest_due_at <= $1
	`
	rows, err := s.db.QueryContext(ctx, query, dueBefore)
	if err != nil {
		return nil, fmt.Errorf("query queued digest recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.UserID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan digest recipient: %w", err)
		}
		out = append(out, domain.UserID(id))
	}
	return out, rows.Err()
}

func (s *Postgres) ListQueuedDigest(ctx context.Context, recipient domain.UserID, dueBefore time.Time) ([]*models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'QUEUED' AND recipient_id = $1 AND digest_due_at <= $2
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(recipient), dueBefore)
	if err != nil {
		return nil, fmt.Errorf("list queued digest notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queued notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Postgres) MarkDigestSent(ctx context.Context, ids []domain.NotificationID, provider, providerID string, at time.Time) error {
	raw := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, uuid.UUID(id))
	}
	query := `
		UPDATE notifications
		SET status = 'SENT', sent_at = $2, delivery_provider = $3, delivery_provider_id = $4
		WHERE id = ANY($1) AND status = 'QUEUED'
	`
	res, err := s.db.ExecContext(ctx, query, pq.Array(raw), at, provider, providerID)
	if err != nil {
		return fmt.Errorf("mark digest sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark digest sent rows: %w", err)
	}
	if int(n) != len(ids) {
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"digest flush updated %d of %d rows", n, len(ids))
	}
	return nil
}

func (s *Postgres) UpdateDeliveryStatus(ctx context.Context, providerID string, status models.DeliveryStatus) (bool, error) {
	query := `
		UPDATE notifications
		SET delivery_status = $2
		WHERE delivery_provider_id = $1
	`
	res, err := s.db.ExecContext(ctx, query, providerID, string(status))
	if err != nil {
		return false, fmt.Errorf("update delivery status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update delivery status rows: %w", err)
	}
	return n > 0, nil
}
