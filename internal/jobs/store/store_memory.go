package store

import (
	"context"
	"sync"
	"time"

	"vigil/internal/jobs/models"
	dErrors "vigil/pkg/domain-errors"
)

// Memory implements ports.RunStore over a process-local map.
type Memory struct {
	mu   sync.Mutex
	runs map[string]*models.Run
}

// NewMemory creates an empty in-memory run store.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*models.Run)}
}

func (s *Memory) Start(_ context.Context, run models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return dErrors.Newf(dErrors.CodeConflict, "job run %s already exists", run.ID)
	}
	cp := run
	s.runs[run.ID] = &cp
	return nil
}

func (s *Memory) Heartbeat(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "job run %s not found", id)
	}
	run.HeartbeatAt = at
	return nil
}

func (s *Memory) Finish(_ context.Context, id string, status models.RunStatus, detail string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "job run %s not found", id)
	}
	run.Status = status
	run.Detail = detail
	run.FinishedAt = &at
	run.HeartbeatAt = at
	return nil
}

func (s *Memory) StaleRuns(_ context.Context, heartbeatBefore time.Time) ([]models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Run
	for _, run := range s.runs {
		if run.Status == models.RunRunning && run.HeartbeatAt.Before(heartbeatBefore) {
			out = append(out, *run)
		}
	}
	return out, nil
}
