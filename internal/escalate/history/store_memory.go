package history

import (
	"context"
	"sync"

	"vigil/pkg/domain"
)

// Memory is the in-memory history store used by tests.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemory creates an empty in-memory history store.
func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *Memory) ForItem(_ context.Context, ref domain.ItemRef) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.ItemRef == ref {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every entry appended so far.
func (s *Memory) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
