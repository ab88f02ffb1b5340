// Package digest batches volume-capped notifications into one summary message
// per recipient. Rows deferred by the rate limiter sit in QUEUED until their
// flush time; a flush that fails to deliver leaves every row QUEUED so the
// next window picks the whole batch up again.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"vigil/internal/dispatch/channel"
	"vigil/internal/notify/models"
	"vigil/internal/notify/ports"
	"vigil/internal/platform/metrics"
	"vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	"vigil/pkg/requestcontext"
)

// Window is the digest batching cadence.
type Window string

const (
	WindowDaily  Window = "DAILY"
	WindowWeekly Window = "WEEKLY"
)

// ParseWindow validates a window value from configuration.
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToUpper(s)); w {
	case WindowDaily, WindowWeekly:
		return w, nil
	}
	return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid digest window %q", s)
}

// Tag returns the batching key for a point in time. Rows queued within the
// same window share a tag and flush together.
func (w Window) Tag(t time.Time) string {
	t = t.UTC()
	if w == WindowWeekly {
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	}
	return t.Format("2006-01-02")
}

// NextFlush returns when rows queued at t become due. Daily digests flush at
// a fixed UTC hour; weekly digests flush at that hour on Monday.
func (w Window) NextFlush(t time.Time, flushHour int) time.Time {
	t = t.UTC()
	due := time.Date(t.Year(), t.Month(), t.Day(), flushHour, 0, 0, 0, time.UTC)
	if w == WindowWeekly {
		daysUntilMonday := (int(time.Monday) - int(due.Weekday()) + 7) % 7
		due = due.AddDate(0, 0, daysUntilMonday)
		if !due.After(t) {
			due = due.AddDate(0, 0, 7)
		}
		return due
	}
	if !due.After(t) {
		due = due.AddDate(0, 0, 1)
	}
	return due
}

// Config carries the batcher's policy.
type Config struct {
	Window    Window
	FlushHour int
}

// Batcher queues deferred notifications and flushes them as summaries.
type Batcher struct {
	store   ports.Store
	ch      channel.Channel
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Publisher
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithLogger sets the batcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) { b.logger = logger }
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Batcher) { b.metrics = m }
}

// WithAuditPublisher wires best-effort audit emission.
func WithAuditPublisher(p audit.Publisher) Option {
	return func(b *Batcher) { b.auditor = p }
}

// New creates a Batcher.
func New(store ports.Store, ch channel.Channel, cfg Config, opts ...Option) (*Batcher, error) {
	if store == nil || ch == nil {
		return nil, fmt.Errorf("store and channel are required")
	}
	if cfg.Window != WindowDaily && cfg.Window != WindowWeekly {
		return nil, fmt.Errorf("invalid digest window %q", cfg.Window)
	}
	if cfg.FlushHour < 0 || cfg.FlushHour > 23 {
		return nil, fmt.Errorf("flush hour must be 0..23")
	}
	b := &Batcher{
		store:  store,
		ch:     ch,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Queue defers a PENDING notification onto the digest path.
func (b *Batcher) Queue(ctx context.Context, id domain.NotificationID) error {
	now := requestcontext.Now(ctx)
	return b.store.MarkQueued(ctx, id, b.cfg.Window.Tag(now), b.cfg.Window.NextFlush(now, b.cfg.FlushHour))
}

// FlushDue flushes every recipient whose queued rows are due. A failure on
// one recipient never blocks the rest. Returns how many digests were sent.
func (b *Batcher) FlushDue(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	recipients, err := b.store.QueuedDigestRecipients(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list digest recipients: %w", err)
	}

	sent := 0
	for _, r := range recipients {
		if err := b.Flush(ctx, r); err != nil {
			b.logger.Error("digest flush failed",
				"recipient_id", r.String(),
				"error", err,
			)
			continue
		}
		sent++
	}
	return sent, nil
}

// Flush delivers one recipient's due queued rows as a single summary. The
// batch transitions to SENT only after the provider accepted the message;
// on any failure every row stays QUEUED.
func (b *Batcher) Flush(ctx context.Context, recipient domain.UserID) error {
	now := requestcontext.Now(ctx)
	batch, err := b.store.ListQueuedDigest(ctx, recipient, now)
	if err != nil {
		return fmt.Errorf("list queued digest rows: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	subject, body := render(batch)
	providerID, err := b.ch.Send(ctx, channel.Message{
		To:       batch[0].RecipientEmail,
		Subject:  subject,
		Body:     body,
		Priority: maxPriority(batch),
	})
	if err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	ids := make([]domain.NotificationID, 0, len(batch))
	for _, n := range batch {
		ids = append(ids, n.ID)
	}
	if err := b.store.MarkDigestSent(ctx, ids, b.ch.Name(), providerID, now); err != nil {
		return fmt.Errorf("mark digest sent: %w", err)
	}

	if b.metrics != nil {
		b.metrics.DigestFlushes.Inc()
	}
	b.logger.Info("digest flushed",
		"recipient_id", recipient.String(),
		"items", len(batch),
	)
	if b.auditor != nil {
		event := audit.Event{
			Timestamp:   now,
			Action:      audit.EventDigestFlushed,
			RecipientID: recipient.String(),
			Reason:      fmt.Sprintf("%d items", len(batch)),
			RunID:       requestcontext.RunID(ctx),
		}
		if err := b.auditor.Emit(ctx, event); err != nil {
			b.logger.Warn("audit emit failed", "action", string(audit.EventDigestFlushed), "error", err)
		}
	}
	return nil
}

// render builds the summary message. Items are grouped by type, most urgent
// group first, oldest item first within a group.
func render(batch []*models.Notification) (subject, body string) {
	groups := make(map[string][]*models.Notification)
	for _, n := range batch {
		groups[n.Type] = append(groups[n.Type], n)
	}

	// Groups rank by their most urgent member, so one mixed-priority type
	// cannot sink below a uniformly calmer one.
	urgency := make(map[string]domain.Severity, len(groups))
	types := make([]string, 0, len(groups))
	for t, items := range groups {
		types = append(types, t)
		top := items[0].Priority
		for _, n := range items[1:] {
			if n.Priority.MoreUrgentThan(top) {
				top = n.Priority
			}
		}
		urgency[t] = top
	}
	sort.Slice(types, func(i, j int) bool {
		pi, pj := urgency[types[i]], urgency[types[j]]
		if pi != pj {
			return pi.MoreUrgentThan(pj)
		}
		return types[i] < types[j]
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You have %d pending alerts.\n", len(batch)))
	for _, t := range types {
		items := groups[t]
		sort.Slice(items, func(i, j int) bool {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		})
		sb.WriteString(fmt.Sprintf("\n%s (%d)\n", t, len(items)))
		for _, n := range items {
			sb.WriteString(fmt.Sprintf("  - %s\n", n.Subject))
		}
	}
	return fmt.Sprintf("Alert digest: %d pending items", len(batch)), sb.String()
}

func maxPriority(batch []*models.Notification) domain.Severity {
	max := batch[0].Priority
	for _, n := range batch[1:] {
		if n.Priority.MoreUrgentThan(max) {
			max = n.Priority
		}
	}
	return max
}
