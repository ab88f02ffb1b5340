// Package ratelimit decides whether a notification may be sent now or must be
// deferred. Both mechanisms read persisted notification history only, so the
// limiter stays correct across process restarts and concurrent workers.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vigil/internal/notify/models"
	"vigil/internal/notify/ports"
	"vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/requestcontext"
)

// Reason explains a deferral.
type Reason string

const (
	ReasonCooldown Reason = "cooldown"
	ReasonVolume   Reason = "volume"
)

// Verdict is the limiter's decision for one prospective notification.
type Verdict struct {
	Allow  bool
	Reason Reason
}

// Config carries the limiter's policy knobs.
type Config struct {
	// RenotifyCooldown suppresses a repeat notification about the same item
	// at the same escalation level.
	RenotifyCooldown time.Duration
	// VolumeCap bounds notifications per recipient per VolumeWindow before
	// the excess goes to the digest path.
	VolumeCap    int
	VolumeWindow time.Duration
}

// Limiter derives allow/defer decisions from the notification store.
type Limiter struct {
	store  ports.Store
	cfg    Config
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the limiter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter.
func New(store ports.Store, cfg Config, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if cfg.RenotifyCooldown <= 0 || cfg.VolumeWindow <= 0 || cfg.VolumeCap <= 0 {
		return nil, fmt.Errorf("rate limit config must be positive")
	}
	l := &Limiter{store: store, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// ShouldSendNow reports whether a notification for (recipient, item, level)
// may be created as PENDING, or must be deferred. The cooldown check runs
// first: a cooldown hit means no new row at all, while a volume hit still
// creates a row on the digest path.
func (l *Limiter) ShouldSendNow(ctx context.Context, recipient domain.UserID, ref domain.ItemRef, level domain.EscalationLevel) (Verdict, error) {
	now := requestcontext.Now(ctx)

	latest, err := l.store.LatestForItemLevel(ctx, ref, level, recipient)
	if err != nil {
		return Verdict{}, dErrors.Wrap(err, dErrors.CodeInternal, "cooldown lookup failed")
	}
	if latest != nil && now.Sub(latest.CreatedAt) < l.cfg.RenotifyCooldown {
		l.logger.Debug("notification suppressed by cooldown",
			"item_ref", ref.String(),
			"level", int(level),
			"recipient_id", recipient.String(),
			"last_created_at", latest.CreatedAt,
		)
		return Verdict{Allow: false, Reason: ReasonCooldown}, nil
	}

	count, err := l.store.CountForRecipientSince(ctx, recipient, models.ChannelEmail, now.Add(-l.cfg.VolumeWindow))
	if err != nil {
		return Verdict{}, dErrors.Wrap(err, dErrors.CodeInternal, "volume lookup failed")
	}
	if count >= l.cfg.VolumeCap {
		l.logger.Info("recipient over volume cap, deferring to digest",
			"recipient_id", recipient.String(),
			"count", count,
			"cap", l.cfg.VolumeCap,
		)
		return Verdict{Allow: false, Reason: ReasonVolume}, nil
	}

	return Verdict{Allow: true}, nil
}
