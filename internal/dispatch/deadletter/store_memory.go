package deadletter

import (
	"context"
	"sync"
)

// Memory is an in-memory dead-letter store for tests and local runs.
type Memory struct {
	mu   sync.RWMutex
	recs []Record
}

// NewMemory creates an empty in-memory dead-letter store.
func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *Memory) List(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.recs))
	for i := len(s.recs) - 1; i >= 0; i-- {
		out = append(out, s.recs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
