// Package models defines the job-run records the cycle runner persists.
package models

import (
	"time"
)

// RunStatus is a job run's lifecycle state.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one execution of a named periodic job. Heartbeats let operators
// spot a run that died without finishing; stale runs are surfaced, never
// auto-killed, because the underlying work is idempotent anyway.
type Run struct {
	ID          string
	Job         string
	StartedAt   time.Time
	HeartbeatAt time.Time
	FinishedAt  *time.Time
	Status      RunStatus
	Detail      string
}

// Stale reports whether the run looks dead: still running with no heartbeat
// progress for longer than the threshold.
func (r Run) Stale(now time.Time, threshold time.Duration) bool {
	return r.Status == RunRunning && now.Sub(r.HeartbeatAt) > threshold
}
