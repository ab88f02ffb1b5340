// Package ports defines the job-run store contract.
package ports

import (
	"context"
	"time"

	"vigil/internal/jobs/models"
)

// RunStore persists job-run records.
type RunStore interface {
	// Start inserts a running row for a new job run.
	Start(ctx context.Context, run models.Run) error

	// Heartbeat advances a running row's heartbeat timestamp.
	Heartbeat(ctx context.Context, id string, at time.Time) error

	// Finish closes a run with its final status and detail.
	Finish(ctx context.Context, id string, status models.RunStatus, detail string, at time.Time) error

	// StaleRuns returns running rows without heartbeat progress since the
	// cutoff.
	StaleRuns(ctx context.Context, heartbeatBefore time.Time) ([]models.Run, error)
}
