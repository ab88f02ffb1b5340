package detect

import (
	"context"
	"fmt"

	recordports "vigil/internal/records/ports"
	"vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

// ReviewDetector surfaces review items whose backlog age has crossed an
// escalation threshold the item has not yet reached. Elapsed hours are
// computed inline from the row; nothing about the decision lives outside
// the persisted item.
type ReviewDetector struct {
	store recordports.ReviewStore
	// thresholds are the level boundaries in hours, index 0 = level 1.
	thresholds []float64
}

// NewReviewDetector builds a detector over the configured hour thresholds,
// commonly [48,96,168].
func NewReviewDetector(store recordports.ReviewStore, thresholdsHours []float64) *ReviewDetector {
	return &ReviewDetector{store: store, thresholds: thresholdsHours}
}

func (d *ReviewDetector) Domain() domain.MonitoredDomain { return domain.DomainReview }

func (d *ReviewDetector) Detect(ctx context.Context, scope domain.Scope) ([]Candidate, error) {
	now := requestcontext.Now(ctx)
	rows, err := d.store.Unresolved(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list unresolved review items: %w", err)
	}

	var out []Candidate
	for _, row := range rows {
		hours := now.Sub(row.PendingSince()).Hours()
		target := levelFor(hours, d.thresholds)
		if !row.EscalationLevel.CanRaiseTo(target) {
			continue
		}
		out = append(out, Candidate{
			Ref:           row.Ref(),
			Scope:         row.Scope,
			Title:         row.Title,
			ReferenceTime: row.PendingSince(),
			Severity:      severityForLevel(target),
			HoursPending:  hours,
			CurrentLevel:  row.EscalationLevel,
		})
	}
	return out, nil
}

// levelFor returns the highest level whose threshold hoursPending has
// crossed, or LevelNone.
func levelFor(hoursPending float64, thresholds []float64) domain.EscalationLevel {
	level := domain.LevelNone
	for i, t := range thresholds {
		if hoursPending >= t {
			level = domain.EscalationLevel(i + 1)
		}
	}
	if level > domain.MaxEscalationLevel {
		level = domain.MaxEscalationLevel
	}
	return level
}

// severityForLevel maps the target level onto notification urgency.
func severityForLevel(l domain.EscalationLevel) domain.Severity {
	switch l {
	case domain.LevelThree:
		return domain.SeverityCritical
	case domain.LevelTwo:
		return domain.SeverityHigh
	case domain.LevelOne:
		return domain.SeverityMedium
	}
	return domain.SeverityLow
}
