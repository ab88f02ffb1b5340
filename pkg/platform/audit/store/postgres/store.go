package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	dbtx "vigil/pkg/platform/tx"

	audit "vigil/pkg/platform/audit"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by the
// outbox publisher; Kafka is the downstream source of truth for consumers.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := dbtx.From(ctx); ok {
		return tx
	}
	return s.db
}

// payload is the JSON structure published to Kafka.
type payload struct {
	ID             string `json:"id"`
	Timestamp      string `json:"timestamp"`
	Action         string `json:"action"`
	ItemRef        string `json:"item_ref,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
	Level          int    `json:"level"`
	Reason         string `json:"reason,omitempty"`
	RunID          string `json:"run_id,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.NewString()
	body, err := json.Marshal(payload{
		ID:             eventID,
		Timestamp:      event.Timestamp.Format(time.RFC3339Nano),
		Action:         string(event.Action),
		ItemRef:        event.ItemRef,
		NotificationID: event.NotificationID,
		RecipientID:    event.RecipientID,
		Level:          event.Level,
		Reason:         event.Reason,
		RunID:          event.RunID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	aggregateType, aggregateID := "audit", eventID
	if event.ItemRef != "" {
		aggregateType, aggregateID = "item", event.ItemRef
	}
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.New(), aggregateType, aggregateID, string(event.Action), body, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// Entry is one unpublished outbox row.
type Entry struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
}

// FetchUnpublished returns up to limit unpublished outbox rows, oldest first.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, aggregate_id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished outbox entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkPublished stamps outbox rows as delivered to Kafka.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE outbox SET published_at = $2 WHERE id = ANY($1)`
	raw := make([]uuid.UUID, len(ids))
	copy(raw, ids)
	if _, err := s.db.ExecContext(ctx, query, pq.Array(raw), time.Now()); err != nil {
		return fmt.Errorf("mark outbox entries published: %w", err)
	}
	return nil
}
