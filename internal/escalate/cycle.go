package escalate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"vigil/internal/detect"
	dirmodels "vigil/internal/directory/models"
	"vigil/internal/escalate/actionlink"
	"vigil/internal/escalate/history"
	"vigil/internal/notify/digest"
	notifymodels "vigil/internal/notify/models"
	notifyports "vigil/internal/notify/ports"
	"vigil/internal/notify/ratelimit"
	"vigil/internal/platform/metrics"
	recordports "vigil/internal/records/ports"
	"vigil/pkg/domain"
	"vigil/pkg/platform/audit"
	"vigil/pkg/requestcontext"
)

// Cycle runs one detection and escalation pass. It holds no state between
// runs; every decision derives from persisted rows, which is what makes a
// re-run after a crash safe.
type Cycle struct {
	detectors   []detect.Detector
	reviews     recordports.ReviewStore
	resolutions recordports.ResolutionStore
	resolver    *Resolver
	limiter     *ratelimit.Limiter
	notifstore  notifyports.Store
	batcher     *digest.Batcher
	history     history.Store
	links       *actionlink.Signer

	thresholds []float64
	parallel   int

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Publisher
	tracer  trace.Tracer
}

// Option configures a Cycle.
type Option func(*Cycle)

// WithLogger sets the cycle's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cycle) { c.logger = logger }
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cycle) { c.metrics = m }
}

// WithAuditPublisher wires best-effort audit emission.
func WithAuditPublisher(p audit.Publisher) Option {
	return func(c *Cycle) { c.auditor = p }
}

// WithParallelism bounds how many detectors run concurrently.
func WithParallelism(n int) Option {
	return func(c *Cycle) {
		if n > 0 {
			c.parallel = n
		}
	}
}

// New creates a Cycle.
func New(
	detectors []detect.Detector,
	reviews recordports.ReviewStore,
	resolutions recordports.ResolutionStore,
	resolver *Resolver,
	limiter *ratelimit.Limiter,
	notifStore notifyports.Store,
	batcher *digest.Batcher,
	hist history.Store,
	links *actionlink.Signer,
	thresholdsHours []float64,
	opts ...Option,
) (*Cycle, error) {
	if len(detectors) == 0 {
		return nil, fmt.Errorf("at least one detector is required")
	}
	if reviews == nil || resolutions == nil || resolver == nil || limiter == nil ||
		notifStore == nil || batcher == nil || hist == nil || links == nil {
		return nil, fmt.Errorf("all cycle collaborators are required")
	}
	if len(thresholdsHours) == 0 {
		return nil, fmt.Errorf("escalation thresholds are required")
	}
	c := &Cycle{
		detectors:   detectors,
		reviews:     reviews,
		resolutions: resolutions,
		resolver:    resolver,
		limiter:     limiter,
		notifstore:  notifStore,
		batcher:     batcher,
		history:     hist,
		links:       links,
		thresholds:  thresholdsHours,
		parallel:    4,
		logger:      slog.Default(),
		tracer:      otel.Tracer("vigil/escalate"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes one full pass over a scope: detect, decide, raise, notify.
// Detector and candidate failures are isolated; the pass reports the first
// detector error only after every detector has run.
func (c *Cycle) Run(ctx context.Context, scope domain.Scope) error {
	ctx, span := c.tracer.Start(ctx, "escalate.cycle")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)

	results := make([][]detect.Candidate, len(c.detectors))
	for i, d := range c.detectors {
		g.Go(func() error {
			candidates, err := d.Detect(gctx, scope)
			if err != nil {
				return fmt.Errorf("%s detector: %w", d.Domain(), err)
			}
			results[i] = candidates
			return nil
		})
	}
	err := g.Wait()

	for _, candidates := range results {
		for _, cand := range candidates {
			if c.metrics != nil {
				c.metrics.CandidatesDetected.WithLabelValues(string(cand.Ref.Domain)).Inc()
			}
			if procErr := c.process(ctx, cand); procErr != nil {
				// One bad candidate never aborts the pass; the item stays
				// unresolved and is re-evaluated next run.
				c.logger.Error("candidate processing failed",
					"item_ref", cand.Ref.String(),
					"error", procErr,
				)
			}
		}
	}
	return err
}

// process turns one candidate into a level raise and notifications.
func (c *Cycle) process(ctx context.Context, cand detect.Candidate) error {
	now := requestcontext.Now(ctx)

	resolvedAfter, err := c.resolutionAfterLastNotification(ctx, cand.Ref)
	if err != nil {
		return err
	}

	decision := Decide(cand.CurrentLevel, cand.HoursPending, resolvedAfter, c.thresholds)

	switch decision.Outcome {
	case OutcomeReset:
		return c.reset(ctx, cand)

	case OutcomeNone:
		if resolvedAfter {
			// Resolution signal arrived after the last notification; stay
			// quiet and let the next run re-evaluate.
			return nil
		}
		if cand.Ref.Domain == domain.DomainReview {
			// Review candidates exist only to cross thresholds; nothing to
			// do when no new one was crossed.
			return nil
		}
		// Non-escalating domains notify at their window severity.
		return c.notifyRecipients(ctx, cand, domain.LevelNone)

	case OutcomeRaise:
		changed, err := c.reviews.RaiseEscalationLevel(ctx, cand.Ref.EntityID, decision.Target, now)
		if err != nil {
			return fmt.Errorf("raise escalation level: %w", err)
		}
		if !changed {
			// Another worker won the race; its raise covers this candidate.
			c.logger.Debug("escalation raise lost race, skipping",
				"item_ref", cand.Ref.String(),
				"target_level", int(decision.Target),
			)
			return nil
		}
		if c.metrics != nil {
			c.metrics.EscalationsRaised.WithLabelValues(
				string(cand.Ref.Domain), strconv.Itoa(int(decision.Target)),
			).Inc()
		}
		c.emitAudit(ctx, audit.Event{
			Action:  audit.EventEscalationRaised,
			ItemRef: cand.Ref.String(),
			Level:   int(decision.Target),
			Reason:  fmt.Sprintf("%.1f hours pending", cand.HoursPending),
		})
		return c.notifyRecipients(ctx, cand, decision.Target)
	}
	return nil
}

// reset returns a resolved item to level zero and records the trajectory.
func (c *Cycle) reset(ctx context.Context, cand detect.Candidate) error {
	now := requestcontext.Now(ctx)
	if err := c.reviews.ResetEscalation(ctx, cand.Ref.EntityID, now); err != nil {
		return fmt.Errorf("reset escalation: %w", err)
	}
	c.emitAudit(ctx, audit.Event{
		Action:  audit.EventEscalationReset,
		ItemRef: cand.Ref.String(),
		Level:   0,
	})
	c.appendHistory(ctx, cand, cand.CurrentLevel, domain.LevelNone, nil, false)
	return nil
}

// notifyRecipients resolves the audience for a level and creates rows for
// everyone the rate limiter lets through.
func (c *Cycle) notifyRecipients(ctx context.Context, cand detect.Candidate, level domain.EscalationLevel) error {
	recipients, err := c.resolver.Resolve(ctx, cand.Scope, level)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		c.logger.Warn("escalation recorded without recipients",
			"item_ref", cand.Ref.String(),
			"level", int(level),
		)
		c.emitAudit(ctx, audit.Event{
			Action:  audit.EventEscalationWithoutRecipients,
			ItemRef: cand.Ref.String(),
			Level:   int(level),
		})
		c.appendHistory(ctx, cand, cand.CurrentLevel, level, nil, false)
		return nil
	}

	sentAny := false
	notified := make([]domain.UserID, 0, len(recipients))
	for _, user := range recipients {
		created, err := c.notifyOne(ctx, cand, level, user)
		if err != nil {
			c.logger.Error("failed to notify recipient",
				"item_ref", cand.Ref.String(),
				"recipient_id", user.ID.String(),
				"error", err,
			)
			continue
		}
		if created {
			sentAny = true
			notified = append(notified, user.ID)
		}
	}
	// A pass where the cooldown suppressed every recipient and no level
	// changed is not a trajectory event; recording it would flood the
	// history with one row per detection tick.
	if sentAny || level != cand.CurrentLevel {
		c.appendHistory(ctx, cand, cand.CurrentLevel, level, notified, sentAny)
	}
	return nil
}

// notifyOne runs the rate limiter for one recipient and creates the row.
// Returns whether a row was created.
func (c *Cycle) notifyOne(ctx context.Context, cand detect.Candidate, level domain.EscalationLevel, user dirmodels.User) (bool, error) {
	now := requestcontext.Now(ctx)

	verdict, err := c.limiter.ShouldSendNow(ctx, user.ID, cand.Ref, level)
	if err != nil {
		return false, err
	}
	if !verdict.Allow && verdict.Reason == ratelimit.ReasonCooldown {
		if c.metrics != nil {
			c.metrics.RateLimitDeferrals.WithLabelValues(string(verdict.Reason)).Inc()
		}
		return false, nil
	}

	link, err := c.links.Link(cand.Ref, user.ID, now)
	if err != nil {
		return false, err
	}
	subject, body := renderMessage(cand, level, link)

	n, err := notifymodels.New(
		user.ID, user.Email, cand.Scope, cand.Ref, level,
		notifymodels.TypeFor(cand.Ref.Domain, cand.Severity), cand.Severity,
		subject, body, now,
	)
	if err != nil {
		return false, err
	}
	if err := c.notifstore.Create(ctx, n); err != nil {
		return false, fmt.Errorf("create notification: %w", err)
	}
	c.emitAudit(ctx, audit.Event{
		Action:         audit.EventNotificationCreated,
		ItemRef:        cand.Ref.String(),
		NotificationID: n.ID.String(),
		RecipientID:    user.ID.String(),
		Level:          int(level),
	})

	status := notifymodels.StatusPending
	if !verdict.Allow && verdict.Reason == ratelimit.ReasonVolume {
		if err := c.batcher.Queue(ctx, n.ID); err != nil {
			return false, fmt.Errorf("queue for digest: %w", err)
		}
		status = notifymodels.StatusQueued
		if c.metrics != nil {
			c.metrics.RateLimitDeferrals.WithLabelValues(string(verdict.Reason)).Inc()
		}
		c.emitAudit(ctx, audit.Event{
			Action:         audit.EventNotificationQueued,
			ItemRef:        cand.Ref.String(),
			NotificationID: n.ID.String(),
			RecipientID:    user.ID.String(),
			Level:          int(level),
			Reason:         string(ratelimit.ReasonVolume),
		})
	}
	if c.metrics != nil {
		c.metrics.NotificationsCreated.WithLabelValues(string(status)).Inc()
	}
	return true, nil
}

// resolutionAfterLastNotification reports whether a resolution signal landed
// after the item's most recent notification.
func (c *Cycle) resolutionAfterLastNotification(ctx context.Context, ref domain.ItemRef) (bool, error) {
	resolvedAt, err := c.resolutions.LatestResolutionAt(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("latest resolution: %w", err)
	}
	if resolvedAt == nil {
		return false, nil
	}
	lastNotified, err := c.notifstore.LatestForItem(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("latest notification: %w", err)
	}
	return lastNotified == nil || resolvedAt.After(*lastNotified), nil
}

// appendHistory is best-effort: a history write failure never rolls back the
// raise or the notifications, it only costs trajectory detail.
func (c *Cycle) appendHistory(ctx context.Context, cand detect.Candidate, prev, next domain.EscalationLevel, recipients []domain.UserID, sent bool) {
	entry := history.Entry{
		ItemRef:          cand.Ref,
		PreviousLevel:    prev,
		NewLevel:         next,
		HoursPending:     cand.HoursPending,
		EscalatedTo:      recipients,
		NotificationSent: sent,
		CreatedAt:        requestcontext.Now(ctx),
	}
	if err := c.history.Append(ctx, entry); err != nil {
		c.logger.Warn("history append failed",
			"item_ref", cand.Ref.String(),
			"error", err,
		)
	}
}

// emitAudit is fire-and-forget.
func (c *Cycle) emitAudit(ctx context.Context, event audit.Event) {
	if c.auditor == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.RunID = requestcontext.RunID(ctx)
	if err := c.auditor.Emit(ctx, event); err != nil {
		c.logger.Warn("audit emit failed", "action", string(event.Action), "error", err)
	}
}

// renderMessage builds the subject and body for one candidate notification.
func renderMessage(cand detect.Candidate, level domain.EscalationLevel, link string) (subject, body string) {
	subject = fmt.Sprintf("[%s] %s: %s", cand.Severity, headline(cand.Ref.Domain), cand.Title)
	body = fmt.Sprintf(
		"%s\n\n%s is due %s.\n",
		headline(cand.Ref.Domain), cand.Title, cand.ReferenceTime.Format("2006-01-02"),
	)
	if level > domain.LevelNone {
		body += fmt.Sprintf("This item has escalated to level %d after %.0f hours without resolution.\n",
			int(level), cand.HoursPending)
	}
	body += fmt.Sprintf("\nAcknowledge: %s\n", link)
	return subject, body
}

func headline(d domain.MonitoredDomain) string {
	switch d {
	case domain.DomainDeadline:
		return "Compliance deadline"
	case domain.DomainReview:
		return "Review backlog"
	case domain.DomainLicence:
		return "Licence expiry"
	case domain.DomainTest:
		return "Periodic test due"
	case domain.DomainEvidence:
		return "Missing evidence"
	}
	return "Alert"
}
