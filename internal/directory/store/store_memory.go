package store

import (
	"context"
	"sort"
	"sync"

	"vigil/internal/directory/models"
	"vigil/pkg/domain"
)

// Memory is an in-memory user directory for tests and local runs.
type Memory struct {
	mu    sync.RWMutex
	users map[domain.UserID]models.User
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{users: make(map[domain.UserID]models.User)}
}

// PutUser seeds a directory entry.
func (s *Memory) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Memory) ActiveByRole(_ context.Context, scope domain.Scope, roles []models.Role, limit int) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		wanted[r] = true
	}

	var out []models.User
	for _, u := range s.users {
		if !u.Eligible() || !wanted[u.Role] {
			continue
		}
		if u.Scope.CompanyID != scope.CompanyID {
			continue
		}
		// Site managers are matched per site; company-level bands span sites.
		if u.Role == models.RoleSiteManager && scope.SiteScoped() && u.Scope.SiteID != scope.SiteID {
			continue
		}
		out = append(out, u)
	}
	// Deterministic order keeps fan-out capping stable across runs.
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
