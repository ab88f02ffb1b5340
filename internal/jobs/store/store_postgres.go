package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vigil/internal/jobs/models"
	dErrors "vigil/pkg/domain-errors"
)

// Postgres implements ports.RunStore on the job_runs table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL run store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Start(ctx context.Context, run models.Run) error {
	query := `
		INSERT INTO job_runs (id, job, started_at, heartbeat_at, status, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Job, run.StartedAt, run.HeartbeatAt, string(run.Status), run.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

func (s *Postgres) Heartbeat(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE job_runs SET heartbeat_at = $2 WHERE id = $1 AND finished_at IS NULL`
	res, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("heartbeat job run: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "running job run %s not found", id)
	}
	return nil
}

func (s *Postgres) Finish(ctx context.Context, id string, status models.RunStatus, detail string, at time.Time) error {
	query := `
		UPDATE job_runs
		SET status = $2, detail = $3, finished_at = $4, heartbeat_at = $4
		WHERE id = $1 AND finished_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, id, string(status), detail, at)
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "running job run %s not found", id)
	}
	return nil
}

func (s *Postgres) StaleRuns(ctx context.Context, heartbeatBefore time.Time) ([]models.Run, error) {
	query := `
		SELECT id, job, started_at, heartbeat_at, finished_at, status, detail
		FROM job_runs
		WHERE status = 'running' AND heartbeat_at < $1
		ORDER BY heartbeat_at
	`
	rows, err := s.db.QueryContext(ctx, query, heartbeatBefore)
	if err != nil {
		return nil, fmt.Errorf("query stale job runs: %w", err)
	}
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		var (
			run      models.Run
			finished sql.NullTime
			status   string
		)
		if err := rows.Scan(&run.ID, &run.Job, &run.StartedAt, &run.HeartbeatAt,
			&finished, &status, &run.Detail); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		run.Status = models.RunStatus(status)
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
