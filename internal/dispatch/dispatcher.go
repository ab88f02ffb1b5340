// Package dispatch drives notification delivery: claim due rows, send them
// through the channel, classify the outcome, and schedule retries or dead-
// letter the row. Each run is stateless; claims and transitions live in the
// notification store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"vigil/internal/dispatch/channel"
	"vigil/internal/dispatch/deadletter"
	"vigil/internal/notify/models"
	"vigil/internal/notify/ports"
	"vigil/internal/platform/metrics"
	"vigil/pkg/platform/audit"
	"vigil/pkg/platform/circuit"
	"vigil/pkg/requestcontext"
)

// Config carries the dispatcher's delivery policy.
type Config struct {
	MaxRetries      int
	Backoff         Backoff
	DeliveryTimeout time.Duration
	BatchSize       int
	// ClaimLease is how long a claimed row stays invisible to other
	// dispatchers. Must exceed DeliveryTimeout.
	ClaimLease time.Duration
}

// Dispatcher delivers individual notifications.
type Dispatcher struct {
	store   ports.Store
	dlq     deadletter.Store
	ch      channel.Channel
	breaker *circuit.Breaker
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Publisher
	tracer  trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithAuditPublisher wires best-effort audit emission.
func WithAuditPublisher(p audit.Publisher) Option {
	return func(d *Dispatcher) { d.auditor = p }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(d *Dispatcher) { d.breaker = b }
}

// New creates a Dispatcher.
func New(store ports.Store, dlq deadletter.Store, ch channel.Channel, cfg Config, opts ...Option) (*Dispatcher, error) {
	if store == nil || dlq == nil || ch == nil {
		return nil, fmt.Errorf("store, dead-letter store and channel are required")
	}
	if cfg.MaxRetries < 1 || cfg.BatchSize < 1 {
		return nil, fmt.Errorf("max retries and batch size must be positive")
	}
	if cfg.Backoff.Base <= 0 || cfg.Backoff.Cap < cfg.Backoff.Base {
		return nil, fmt.Errorf("backoff base must be positive and cap must not be below base")
	}
	if cfg.ClaimLease <= cfg.DeliveryTimeout {
		return nil, fmt.Errorf("claim lease must exceed delivery timeout")
	}
	d := &Dispatcher{
		store:   store,
		dlq:     dlq,
		ch:      ch,
		breaker: circuit.New("delivery"),
		cfg:     cfg,
		logger:  slog.Default(),
		tracer:  otel.Tracer("vigil/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// RunOnce processes one batch of due notifications. A failure on one row
// never aborts the rest of the batch. Returns how many rows were processed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.run_once")
	defer span.End()

	if d.breaker.IsOpen() {
		d.logger.Warn("delivery circuit open, skipping dispatch cycle")
		return 0, nil
	}

	now := requestcontext.Now(ctx)
	batch, err := d.store.ClaimDue(ctx, now, d.cfg.BatchSize, d.cfg.ClaimLease)
	if err != nil {
		return 0, fmt.Errorf("claim due notifications: %w", err)
	}

	for _, n := range batch {
		if err := d.deliver(ctx, n); err != nil {
			// Classification already happened; this is a store failure.
			// The claim lease expires and the row is retried next cycle.
			d.logger.Error("failed to record delivery outcome",
				"notification_id", n.ID.String(),
				"error", err,
			)
		}
	}
	return len(batch), nil
}

// deliver sends one notification and persists the outcome.
func (d *Dispatcher) deliver(ctx context.Context, n *models.Notification) error {
	now := requestcontext.Now(ctx)

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	providerID, sendErr := d.ch.Send(sendCtx, channel.Message{
		To:       n.RecipientEmail,
		Subject:  n.Subject,
		Body:     n.Body,
		Priority: n.Priority,
	})
	cancel()

	switch {
	case sendErr == nil:
		d.breaker.RecordSuccess()
		if err := d.store.MarkSent(ctx, n.ID, d.ch.Name(), providerID, now); err != nil {
			return err
		}
		if d.metrics != nil {
			d.metrics.NotificationsSent.Inc()
		}
		d.emitAudit(ctx, audit.EventNotificationSent, n, "")
		return nil

	case channel.IsPermanent(sendErr):
		d.breaker.RecordFailure()
		return d.deadLetter(ctx, n, n.RetryCount, fmt.Sprintf("permanent: %v", sendErr))

	default:
		// Transient, including timeouts.
		d.breaker.RecordFailure()
		reason := sendErr.Error()
		if errors.Is(sendErr, context.DeadlineExceeded) {
			reason = "delivery timed out"
		}
		newCount := n.RetryCount + 1
		if newCount >= d.cfg.MaxRetries {
			return d.deadLetter(ctx, n, newCount, reason)
		}
		next := now.Add(d.cfg.Backoff.Delay(newCount))
		if err := d.store.MarkRetrying(ctx, n.ID, newCount, next, reason); err != nil {
			return err
		}
		if d.metrics != nil {
			d.metrics.DeliveryRetries.Inc()
		}
		d.logger.Info("delivery failed, retry scheduled",
			"notification_id", n.ID.String(),
			"retry_count", newCount,
			"next_attempt", next,
			"error", reason,
		)
		return nil
	}
}

// deadLetter terminates the notification and preserves its payload. The
// FAILED transition and the dead-letter append are a best-effort pair; a
// FAILED row without a dead-letter record still surfaces via diagnostics.
func (d *Dispatcher) deadLetter(ctx context.Context, n *models.Notification, retryCount int, reason string) error {
	now := requestcontext.Now(ctx)
	if err := d.store.MarkFailed(ctx, n.ID, reason); err != nil {
		return err
	}
	rec := deadletter.Record{
		ID:             uuid.NewString(),
		NotificationID: n.ID,
		RecipientEmail: n.RecipientEmail,
		Subject:        n.Subject,
		Body:           n.Body,
		Reason:         reason,
		RetryCount:     retryCount,
		CreatedAt:      now,
	}
	if err := d.dlq.Append(ctx, rec); err != nil {
		d.logger.Error("failed to append dead letter",
			"notification_id", n.ID.String(),
			"error", err,
		)
	}
	if d.metrics != nil {
		d.metrics.DeadLetters.Inc()
	}
	d.logger.Warn("notification dead-lettered",
		"notification_id", n.ID.String(),
		"retry_count", retryCount,
		"reason", reason,
	)
	d.emitAudit(ctx, audit.EventNotificationDeadLettered, n, reason)
	return nil
}

// emitAudit is fire-and-forget: audit failures never abort delivery.
func (d *Dispatcher) emitAudit(ctx context.Context, action audit.Action, n *models.Notification, reason string) {
	if d.auditor == nil {
		return
	}
	event := audit.Event{
		Timestamp:      requestcontext.Now(ctx),
		Action:         action,
		ItemRef:        n.ItemRef.String(),
		NotificationID: n.ID.String(),
		RecipientID:    n.RecipientID.String(),
		Level:          int(n.EscalationLevel),
		Reason:         reason,
		RunID:          requestcontext.RunID(ctx),
	}
	if err := d.auditor.Emit(ctx, event); err != nil {
		d.logger.Warn("audit emit failed", "action", string(action), "error", err)
	}
}
