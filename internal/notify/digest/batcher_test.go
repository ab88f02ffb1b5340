package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"vigil/internal/dispatch/channel"
	channelmocks "vigil/internal/dispatch/channel/mocks"
	"vigil/internal/notify/models"
	"vigil/internal/notify/store"
	"vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

func TestWindowTag(t *testing.T) {
	at := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, "2026-03-10", WindowDaily.Tag(at))
	assert.Equal(t, "2026-W11", WindowWeekly.Tag(at))
}

func TestWindowNextFlush(t *testing.T) {
	tests := []struct {
		name   string
		window Window
		at     time.Time
		want   time.Time
	}{
		{
			name:   "daily before the flush hour flushes today",
			window: WindowDaily,
			at:     time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
		},
		{
			name:   "daily after the flush hour flushes tomorrow",
			window: WindowDaily,
			at:     time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
		},
		{
			// 2026-03-10 is a Tuesday.
			name:   "weekly flushes the following monday",
			window: WindowWeekly,
			at:     time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC),
		},
		{
			name:   "weekly on monday before the flush hour flushes today",
			window: WindowWeekly,
			at:     time.Date(2026, 3, 9, 5, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.NextFlush(tt.at, 8))
		})
	}
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("daily")
	require.NoError(t, err)
	assert.Equal(t, WindowDaily, w)

	_, err = ParseWindow("hourly")
	require.Error(t, err)
}

type batcherEnv struct {
	mem     *store.Memory
	ch      *channelmocks.MockChannel
	batcher *Batcher
}

func newBatcherEnv(t *testing.T) *batcherEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	ch := channelmocks.NewMockChannel(ctrl)
	mem := store.NewMemory()

	b, err := New(mem, ch, Config{Window: WindowDaily, FlushHour: 8})
	require.NoError(t, err)
	return &batcherEnv{mem: mem, ch: ch, batcher: b}
}

func (e *batcherEnv) seed(t *testing.T, recipient domain.UserID, title string, priority domain.Severity, at time.Time) domain.NotificationID {
	t.Helper()
	n, err := models.New(
		recipient, "user@example.com", domain.Scope{CompanyID: domain.CompanyID(uuid.New())},
		domain.ItemRef{Domain: domain.DomainDeadline, EntityID: uuid.NewString()},
		domain.LevelNone, "deadline."+string(priority), priority, title, "body", at,
	)
	require.NoError(t, err)
	require.NoError(t, e.mem.Create(context.Background(), n))
	return n.ID
}

func TestQueueMarksRowForDigest(t *testing.T) {
	env := newBatcherEnv(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	recipient := domain.UserID(uuid.New())

	id := env.seed(t, recipient, "Annual report", domain.SeverityLow, now)
	require.NoError(t, env.batcher.Queue(ctx, id))

	row, err := env.mem.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, row.Status)
	assert.Equal(t, "2026-03-10", row.DigestTag)
	require.NotNil(t, row.DigestDueAt)
	assert.Equal(t, time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC), *row.DigestDueAt)
}

func TestFlushSendsOneSummaryPerRecipient(t *testing.T) {
	env := newBatcherEnv(t)
	queuedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	queueCtx := requestcontext.WithTime(context.Background(), queuedAt)
	recipient := domain.UserID(uuid.New())

	low := env.seed(t, recipient, "Routine filing", domain.SeverityLow, queuedAt)
	high := env.seed(t, recipient, "Permit expiring", domain.SeverityHigh, queuedAt.Add(time.Minute))
	require.NoError(t, env.batcher.Queue(queueCtx, low))
	require.NoError(t, env.batcher.Queue(queueCtx, high))

	var sentMsg channel.Message
	env.ch.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msg channel.Message) (string, error) {
			sentMsg = msg
			return "provider-123", nil
		},
	)
	env.ch.EXPECT().Name().Return("email")

	flushAt := time.Date(2026, 3, 11, 8, 30, 0, 0, time.UTC)
	flushCtx := requestcontext.WithTime(context.Background(), flushAt)

	sent, err := env.batcher.FlushDue(flushCtx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	assert.Equal(t, "user@example.com", sentMsg.To)
	assert.Equal(t, "Alert digest: 2 pending items", sentMsg.Subject)
	assert.Equal(t, domain.SeverityHigh, sentMsg.Priority)
	assert.Contains(t, sentMsg.Body, "Permit expiring")
	assert.Contains(t, sentMsg.Body, "Routine filing")

	for _, id := range []domain.NotificationID{low, high} {
		row, err := env.mem.Get(flushCtx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSent, row.Status)
		assert.Equal(t, "provider-123", row.DeliveryProviderID)
	}
}

func TestFlushSkipsRowsNotYetDue(t *testing.T) {
	env := newBatcherEnv(t)
	queuedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	queueCtx := requestcontext.WithTime(context.Background(), queuedAt)
	recipient := domain.UserID(uuid.New())

	id := env.seed(t, recipient, "Annual report", domain.SeverityLow, queuedAt)
	require.NoError(t, env.batcher.Queue(queueCtx, id))

	// Still before tomorrow's flush hour; no Send expected.
	earlyCtx := requestcontext.WithTime(context.Background(), queuedAt.Add(time.Hour))
	sent, err := env.batcher.FlushDue(earlyCtx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	row, err := env.mem.Get(earlyCtx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, row.Status)
}

func TestFlushFailureLeavesBatchQueued(t *testing.T) {
	env := newBatcherEnv(t)
	queuedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	queueCtx := requestcontext.WithTime(context.Background(), queuedAt)
	recipient := domain.UserID(uuid.New())

	id := env.seed(t, recipient, "Annual report", domain.SeverityLow, queuedAt)
	require.NoError(t, env.batcher.Queue(queueCtx, id))

	env.ch.EXPECT().Send(gomock.Any(), gomock.Any()).Return("", errors.New("smtp down"))

	flushCtx := requestcontext.WithTime(context.Background(), time.Date(2026, 3, 11, 8, 30, 0, 0, time.UTC))
	sent, err := env.batcher.FlushDue(flushCtx)
	require.NoError(t, err, "one recipient's failure never fails the pass")
	assert.Zero(t, sent)

	row, err := env.mem.Get(flushCtx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, row.Status, "the next window picks the batch up again")
}

func TestFlushEmptyRecipientIsNoOp(t *testing.T) {
	env := newBatcherEnv(t)
	ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 3, 11, 8, 30, 0, 0, time.UTC))

	require.NoError(t, env.batcher.Flush(ctx, domain.UserID(uuid.New())))
}

func TestRenderRanksGroupsByMostUrgentMember(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mk := func(typ string, priority domain.Severity, title string, at time.Time) *models.Notification {
		n, err := models.New(
			domain.UserID(uuid.New()), "user@example.com",
			domain.Scope{CompanyID: domain.CompanyID(uuid.New())},
			domain.ItemRef{Domain: domain.DomainDeadline, EntityID: uuid.NewString()},
			domain.LevelNone, typ, priority, title, "body", at,
		)
		require.NoError(t, err)
		return n
	}

	batch := []*models.Notification{
		mk("licence", domain.SeverityMedium, "Licence renewal", now),
		mk("deadline", domain.SeverityLow, "Routine filing", now),
		mk("deadline", domain.SeverityCritical, "Overdue report", now.Add(time.Minute)),
	}

	_, body := render(batch)

	// The deadline group holds a critical item, so it outranks the
	// uniformly medium licence group.
	assert.Less(t, strings.Index(body, "deadline"), strings.Index(body, "licence"))
	// Within a group items stay oldest first.
	assert.Less(t, strings.Index(body, "Routine filing"), strings.Index(body, "Overdue report"))
}
