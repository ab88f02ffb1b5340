package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"vigil/internal/notify/models"
	"vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Memory implements ports.Store over a process-local map. Used by unit tests
// and local runs; production uses the Postgres store.
type Memory struct {
	mu   sync.Mutex
	rows map[domain.NotificationID]*models.Notification
}

// NewMemory creates an empty in-memory notification store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[domain.NotificationID]*models.Notification)}
}

// All returns a snapshot of every row, ordered by creation time. Test helper.
func (s *Memory) All() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, 0, len(s.rows))
	for _, n := range s.rows {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Memory) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[n.ID]; exists {
		return dErrors.Newf(dErrors.CodeConflict, "notification %s already exists", n.ID)
	}
	cp := *n
	s.rows[n.ID] = &cp
	return nil
}

func (s *Memory) Get(_ context.Context, id domain.NotificationID) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "notification %s not found", id)
	}
	cp := *n
	return &cp, nil
}

func (s *Memory) LatestForItemLevel(_ context.Context, ref domain.ItemRef, level domain.EscalationLevel, recipient domain.UserID) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Notification
	for _, n := range s.rows {
		if n.ItemRef != ref || n.EscalationLevel != level || n.RecipientID != recipient {
			continue
		}
		if n.Status == models.StatusCancelled {
			continue
		}
		if latest == nil || n.CreatedAt.After(latest.CreatedAt) {
			latest = n
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *Memory) LatestForItem(_ context.Context, ref domain.ItemRef) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for _, n := range s.rows {
		if n.ItemRef != ref || n.Status == models.StatusCancelled {
			continue
		}
		if latest == nil || n.CreatedAt.After(*latest) {
			t := n.CreatedAt
			latest = &t
		}
	}
	return latest, nil
}

func (s *Memory) CountForRecipientSince(_ context.Context, recipient domain.UserID, channel models.Channel, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.rows {
		if n.RecipientID == recipient && n.Channel == channel && !n.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Memory) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Notification
	for _, n := range s.rows {
		if n.Status != models.StatusPending && n.Status != models.StatusRetrying {
			continue
		}
		if n.ScheduledFor.After(now) {
			continue
		}
		due = append(due, n)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*models.Notification, 0, len(due))
	for _, n := range due {
		cp := *n
		out = append(out, &cp)
		// The lease is the claim: another dispatcher polling now will not
		// see this row as due.
		n.ScheduledFor = now.Add(lease)
	}
	return out, nil
}

func (s *Memory) transition(id domain.NotificationID, to models.Status) (*models.Notification, error) {
	n, ok := s.rows[id]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "notification %s not found", id)
	}
	if !models.CanTransition(n.Status, to) {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation,
			"illegal notification transition %s -> %s", n.Status, to)
	}
	n.Status = to
	return n, nil
}

func (s *Memory) MarkSent(_ context.Context, id domain.NotificationID, provider, providerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.transition(id, models.StatusSent)
	if err != nil {
		return err
	}
	sentAt := at
	n.SentAt = &sentAt
	n.DeliveryProvider = provider
	n.DeliveryProviderID = providerID
	n.LastError = ""
	return nil
}

func (s *Memory) MarkRetrying(_ context.Context, id domain.NotificationID, retryCount int, nextAttempt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.transition(id, models.StatusRetrying)
	if err != nil {
		return err
	}
	n.RetryCount = retryCount
	n.ScheduledFor = nextAttempt
	n.LastError = reason
	return nil
}

func (s *Memory) MarkFailed(_ context.Context, id domain.NotificationID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.transition(id, models.StatusFailed)
	if err != nil {
		return err
	}
	n.LastError = reason
	return nil
}

func (s *Memory) MarkQueued(_ context.Context, id domain.NotificationID, tag string, dueAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.transition(id, models.StatusQueued)
	if err != nil {
		return err
	}
	n.DigestTag = tag
	due := dueAt
	n.DigestDueAt = &due
	return nil
}

func (s *Memory) QueuedDigestRecipients(_ context.Context, dueBefore time.Time) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[domain.UserID]bool)
	var out []domain.UserID
	for _, n := range s.rows {
		if n.Status != models.StatusQueued {
			continue
		}
		if n.DigestDueAt == nil || n.DigestDueAt.After(dueBefore) {
			continue
		}
		if !seen[n.RecipientID] {
			seen[n.RecipientID] = true
			out = append(out, n.RecipientID)
		}
	}
	return out, nil
}

func (s *Memory) ListQueuedDigest(_ context.Context, recipient domain.UserID, dueBefore time.Time) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Notification
	for _, n := range s.rows {
		if n.Status != models.StatusQueued || n.RecipientID != recipient {
			continue
		}
		if n.DigestDueAt == nil || n.DigestDueAt.After(dueBefore) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) MarkDigestSent(_ context.Context, ids []domain.NotificationID, provider, providerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Validate the whole batch before mutating so a bad id leaves every row
	// QUEUED for the next flush.
	for _, id := range ids {
		n, ok := s.rows[id]
		if !ok {
			return dErrors.Newf(dErrors.CodeNotFound, "notification %s not found", id)
		}
		if !models.CanTransition(n.Status, models.StatusSent) {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"illegal notification transition %s -> SENT", n.Status)
		}
	}
	for _, id := range ids {
		n := s.rows[id]
		n.Status = models.StatusSent
		sentAt := at
		n.SentAt = &sentAt
		n.DeliveryProvider = provider
		n.DeliveryProviderID = providerID
	}
	return nil
}

func (s *Memory) UpdateDeliveryStatus(_ context.Context, providerID string, status models.DeliveryStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.rows {
		if n.DeliveryProviderID == providerID {
			n.DeliveryStatus = status
			return true, nil
		}
	}
	return false, nil
}
