package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vigil/pkg/domain"
)

// Postgres persists history rows in the escalation_history table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL history store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	recipients := make([]uuid.UUID, 0, len(e.EscalatedTo))
	for _, id := range e.EscalatedTo {
		recipients = append(recipients, uuid.UUID(id))
	}
	query := `
		INSERT INTO escalation_history
			(id, item_ref, previous_level, new_level, hours_pending,
			 escalated_to, notification_sent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.ItemRef.String(), int(e.PreviousLevel), int(e.NewLevel),
		e.HoursPending, pq.Array(recipients), e.NotificationSent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escalation history: %w", err)
	}
	return nil
}

func (s *Postgres) ForItem(ctx context.Context, ref domain.ItemRef) ([]Entry, error) {
	query := `
		SELECT id, item_ref, previous_level, new_level, hours_pending,
		       escalated_to, notification_sent, created_at
		FROM escalation_history
		WHERE item_ref = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, ref.String())
	if err != nil {
		return nil, fmt.Errorf("query escalation history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			rawRef     string
			prev, next int
			recipients []uuid.UUID
		)
		if err := rows.Scan(&e.ID, &rawRef, &prev, &next, &e.HoursPending,
			pq.Array(&recipients), &e.NotificationSent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan escalation history: %w", err)
		}
		if e.ItemRef, err = domain.ParseItemRef(rawRef); err != nil {
			return nil, fmt.Errorf("hydrate history item ref: %w", err)
		}
		if e.PreviousLevel, err = domain.ParseEscalationLevel(prev); err != nil {
			return nil, fmt.Errorf("hydrate history previous level: %w", err)
		}
		if e.NewLevel, err = domain.ParseEscalationLevel(next); err != nil {
			return nil, fmt.Errorf("hydrate history new level: %w", err)
		}
		for _, id := range recipients {
			e.EscalatedTo = append(e.EscalatedTo, domain.UserID(id))
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
