// In-memory record store. It backs unit tests and keeps the engine runnable
// without the host application's database; it intentionally favors clarity
// over performance.
package store

import (
	"context"
	"sync"
	"time"

	"vigil/internal/records/models"
	"vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Memory implements every records port over process-local maps.
type Memory struct {
	mu        sync.RWMutex
	deadlines map[string]models.Deadline
	reviews   map[string]models.ReviewItem
	licences  map[string]models.Licence
	tests     map[string]models.PeriodicTest
	evidence  map[string][]models.EvidenceLink // keyed by ItemRef.String()
}

// NewMemory creates an empty in-memory record store.
func NewMemory() *Memory {
	return &Memory{
		deadlines: make(map[string]models.Deadline),
		reviews:   make(map[string]models.ReviewItem),
		licences:  make(map[string]models.Licence),
		tests:     make(map[string]models.PeriodicTest),
		evidence:  make(map[string][]models.EvidenceLink),
	}
}

// Seed helpers. The host app owns these rows in production; tests put them in
// place directly.

func (s *Memory) PutDeadline(d models.Deadline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[d.ID] = d
}

func (s *Memory) PutReviewItem(r models.ReviewItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[r.ID] = r
}

func (s *Memory) PutLicence(l models.Licence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licences[l.ID] = l
}

func (s *Memory) PutPeriodicTest(t models.PeriodicTest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tests[t.ID] = t
}

func (s *Memory) PutEvidenceLink(e models.EvidenceLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := e.ItemRef.String()
	s.evidence[key] = append(s.evidence[key], e)
}

// GetReviewItem returns a copy of a seeded review item, for test assertions.
func (s *Memory) GetReviewItem(id string) (models.ReviewItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	return r, ok
}

func scopeMatches(rowScope, query domain.Scope) bool {
	if query.CompanyID.IsNil() {
		return true
	}
	if rowScope.CompanyID != query.CompanyID {
		return false
	}
	if query.SiteScoped() && rowScope.SiteID != query.SiteID {
		return false
	}
	return true
}

func (s *Memory) PendingDueBy(_ context.Context, scope domain.Scope, horizon time.Time) ([]models.Deadline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Deadline
	for _, d := range s.deadlines {
		if d.Status != models.DeadlinePending {
			continue
		}
		if !scopeMatches(d.Scope, scope) {
			continue
		}
		if d.DueDate.After(horizon) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Memory) Unresolved(_ context.Context, scope domain.Scope) ([]models.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ReviewItem
	for _, r := range s.reviews {
		if r.Resolved() || !scopeMatches(r.Scope, scope) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Memory) RaiseEscalationLevel(_ context.Context, itemID string, target domain.EscalationLevel, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[itemID]
	if !ok {
		return false, dErrors.Newf(dErrors.CodeNotFound, "review item %s not found", itemID)
	}
	// Compare-and-set: a concurrent worker may already have raised further.
	if !r.EscalationLevel.CanRaiseTo(target) {
		return false, nil
	}
	r.EscalationLevel = target
	if r.EscalatedAt == nil {
		escalatedAt := at
		r.EscalatedAt = &escalatedAt
	}
	s.reviews[itemID] = r
	return true, nil
}

func (s *Memory) ResetEscalation(_ context.Context, itemID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[itemID]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "review item %s not found", itemID)
	}
	r.EscalationLevel = domain.LevelNone
	r.EscalatedAt = nil
	reset := at
	r.LastEscalationReset = &reset
	s.reviews[itemID] = r
	return nil
}

func (s *Memory) ExpiringBy(_ context.Context, scope domain.Scope, horizon time.Time) ([]models.Licence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Licence
	for _, l := range s.licences {
		if !scopeMatches(l.Scope, scope) {
			continue
		}
		if l.ExpiryDate.After(horizon) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Memory) DueBy(_ context.Context, scope domain.Scope, horizon time.Time) ([]models.PeriodicTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PeriodicTest
	for _, t := range s.tests {
		if t.CompletedAt != nil {
			continue
		}
		if !scopeMatches(t.Scope, scope) {
			continue
		}
		if t.DueDate.After(horizon) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Memory) HasValidEvidence(_ context.Context, ref domain.ItemRef, at time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.evidence[ref.String()] {
		if e.ValidAt(at) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) LatestResolutionAt(_ context.Context, ref domain.ItemRef) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *time.Time
	consider := func(t *time.Time) {
		if t == nil {
			return
		}
		if latest == nil || t.After(*latest) {
			v := *t
			latest = &v
		}
	}

	switch ref.Domain {
	case domain.DomainReview:
		if r, ok := s.reviews[ref.EntityID]; ok {
			consider(r.ResolvedAt)
		}
	case domain.DomainLicence:
		if l, ok := s.licences[ref.EntityID]; ok {
			consider(l.RenewedAt)
		}
	case domain.DomainTest:
		if t, ok := s.tests[ref.EntityID]; ok {
			consider(t.CompletedAt)
		}
	}
	// Evidence attached after a notification resolves deadline and evidence
	// domains, and counts for every other domain as well.
	for _, e := range s.evidence[ref.String()] {
		if e.UnlinkedAt == nil {
			created := e.CreatedAt
			consider(&created)
		}
	}
	return latest, nil
}
