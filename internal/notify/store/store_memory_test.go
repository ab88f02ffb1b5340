package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/notify/models"
	"vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

var storeNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newRow(t *testing.T, s *Memory, recipient domain.UserID, entityID string, level domain.EscalationLevel, at time.Time) *models.Notification {
	t.Helper()
	n, err := models.New(
		recipient, "user@example.com", domain.Scope{CompanyID: domain.CompanyID(uuid.New())},
		domain.ItemRef{Domain: domain.DomainDeadline, EntityID: entityID},
		level, "deadline.low", domain.SeverityLow, "subject", "body", at,
	)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), n))
	return n
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	s := NewMemory()
	n := newRow(t, s, domain.UserID(uuid.New()), "d-1", domain.LevelNone, storeNow)

	err := s.Create(context.Background(), n)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestStatusTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("queued row cannot retry", func(t *testing.T) {
		s := NewMemory()
		n := newRow(t, s, domain.UserID(uuid.New()), "d-1", domain.LevelNone, storeNow)
		require.NoError(t, s.MarkQueued(ctx, n.ID, "2026-03-10", storeNow.Add(time.Hour)))

		err := s.MarkRetrying(ctx, n.ID, 1, storeNow.Add(time.Minute), "boom")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("sent is terminal", func(t *testing.T) {
		s := NewMemory()
		n := newRow(t, s, domain.UserID(uuid.New()), "d-1", domain.LevelNone, storeNow)
		require.NoError(t, s.MarkSent(ctx, n.ID, "email", "p-1", storeNow))

		require.Error(t, s.MarkFailed(ctx, n.ID, "boom"))
		require.Error(t, s.MarkQueued(ctx, n.ID, "2026-03-10", storeNow))
	})

	t.Run("retrying can retry again then fail", func(t *testing.T) {
		s := NewMemory()
		n := newRow(t, s, domain.UserID(uuid.New()), "d-1", domain.LevelNone, storeNow)
		require.NoError(t, s.MarkRetrying(ctx, n.ID, 1, storeNow.Add(time.Minute), "first"))
		require.NoError(t, s.MarkRetrying(ctx, n.ID, 2, storeNow.Add(2*time.Minute), "second"))
		require.NoError(t, s.MarkFailed(ctx, n.ID, "gave up"))

		row, err := s.Get(ctx, n.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, row.Status)
		assert.Equal(t, 2, row.RetryCount)
		assert.Equal(t, "gave up", row.LastError)
	})
}

func TestClaimDueLeasesRows(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	recipient := domain.UserID(uuid.New())

	early := newRow(t, s, recipient, "d-early", domain.LevelNone, storeNow.Add(-2*time.Hour))
	newRow(t, s, recipient, "d-late", domain.LevelNone, storeNow.Add(-time.Hour))
	future := newRow(t, s, recipient, "d-future", domain.LevelNone, storeNow)
	require.NoError(t, s.MarkQueued(ctx, future.ID, "2026-03-10", storeNow.Add(time.Hour)))

	claimed, err := s.ClaimDue(ctx, storeNow, 10, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2, "queued rows are not claimable")
	assert.Equal(t, early.ID, claimed[0].ID, "oldest scheduled first")

	// The lease makes a second claim in the same window come up empty.
	again, err := s.ClaimDue(ctx, storeNow, 10, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	// Past the lease the rows are visible again.
	later, err := s.ClaimDue(ctx, storeNow.Add(6*time.Minute), 10, 5*time.Minute)
	require.NoError(t, err)
	assert.Len(t, later, 2)
}

func TestClaimDueHonorsLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for i := 0; i < 5; i++ {
		newRow(t, s, domain.UserID(uuid.New()), uuid.NewString(), domain.LevelNone, storeNow.Add(-time.Hour))
	}

	claimed, err := s.ClaimDue(ctx, storeNow, 3, time.Minute)
	require.NoError(t, err)
	assert.Len(t, claimed, 3)
}

func TestLatestForItemLevel(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	recipient := domain.UserID(uuid.New())
	ref := domain.ItemRef{Domain: domain.DomainDeadline, EntityID: "d-1"}

	older := newRow(t, s, recipient, "d-1", domain.LevelNone, storeNow.Add(-3*time.Hour))
	newer := newRow(t, s, recipient, "d-1", domain.LevelNone, storeNow.Add(-time.Hour))
	_ = older

	got, err := s.LatestForItemLevel(ctx, ref, domain.LevelNone, recipient)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)

	// Different level, different recipient: no match.
	got, err = s.LatestForItemLevel(ctx, ref, domain.LevelOne, recipient)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.LatestForItemLevel(ctx, ref, domain.LevelNone, domain.UserID(uuid.New()))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLatestForItemIgnoresCancelled(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	recipient := domain.UserID(uuid.New())
	ref := domain.ItemRef{Domain: domain.DomainDeadline, EntityID: "d-1"}

	n := newRow(t, s, recipient, "d-1", domain.LevelNone, storeNow.Add(-time.Hour))
	require.NoError(t, s.MarkQueued(ctx, n.ID, "2026-03-10", storeNow))

	got, err := s.LatestForItem(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, n.CreatedAt, *got)
}

func TestMarkDigestSentIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	recipient := domain.UserID(uuid.New())

	queued := newRow(t, s, recipient, "d-1", domain.LevelNone, storeNow)
	require.NoError(t, s.MarkQueued(ctx, queued.ID, "2026-03-10", storeNow))
	alreadySent := newRow(t, s, recipient, "d-2", domain.LevelNone, storeNow)
	require.NoError(t, s.MarkSent(ctx, alreadySent.ID, "email", "p-0", storeNow))

	// SENT -> SENT is illegal, so the whole batch must be rejected.
	err := s.MarkDigestSent(ctx, []domain.NotificationID{queued.ID, alreadySent.ID}, "email", "p-1", storeNow)
	require.Error(t, err)

	row, err := s.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, row.Status, "a bad batch leaves valid rows untouched")
}

func TestUpdateDeliveryStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	n := newRow(t, s, domain.UserID(uuid.New()), "d-1", domain.LevelNone, storeNow)
	require.NoError(t, s.MarkSent(ctx, n.ID, "email", "p-1", storeNow))

	matched, err := s.UpdateDeliveryStatus(ctx, "p-1", models.DeliveryBounced)
	require.NoError(t, err)
	assert.True(t, matched)

	row, err := s.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryBounced, row.DeliveryStatus)
	assert.Equal(t, models.StatusSent, row.Status, "provider events never reopen a terminal row")

	matched, err = s.UpdateDeliveryStatus(ctx, "unknown-id", models.DeliveryDelivered)
	require.NoError(t, err)
	assert.False(t, matched)
}
