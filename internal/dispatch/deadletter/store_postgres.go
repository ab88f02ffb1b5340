package deadletter

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"vigil/pkg/domain"
)

// Postgres persists dead-letter records.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed dead-letter store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Append(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO dead_letters (id, notification_id, recipient_email, subject, body, reason, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, uuid.UUID(rec.NotificationID), rec.RecipientEmail,
		rec.Subject, rec.Body, rec.Reason, rec.RetryCount, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *Postgres) List(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT id, notification_id, recipient_email, subject, body, reason, retry_count, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var notificationID uuid.UUID
		if err := rows.Scan(&rec.ID, &notificationID, &rec.RecipientEmail,
			&rec.Subject, &rec.Body, &rec.Reason, &rec.RetryCount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		rec.NotificationID = domain.NotificationID(notificationID)
		out = append(out, rec)
	}
	return out, rows.Err()
}
