package detect

import (
	"context"
	"fmt"

	recordports "vigil/internal/records/ports"
	"vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

// DeadlineDetector surfaces pending deadlines inside the look-ahead windows
// or already overdue.
type DeadlineDetector struct {
	store   recordports.DeadlineStore
	windows []window
	horizon int
}

// NewDeadlineDetector builds a detector over the configured day windows,
// commonly [7,3,1].
func NewDeadlineDetector(store recordports.DeadlineStore, windowDays []int) *DeadlineDetector {
	w := ladder(windowDays)
	horizon := 0
	for _, d := range windowDays {
		if d > horizon {
			horizon = d
		}
	}
	return &DeadlineDetector{store: store, windows: w, horizon: horizon}
}

func (d *DeadlineDetector) Domain() domain.MonitoredDomain { return domain.DomainDeadline }

func (d *DeadlineDetector) Detect(ctx context.Context, scope domain.Scope) ([]Candidate, error) {
	now := requestcontext.Now(ctx)
	horizon := now.AddDate(0, 0, d.horizon)
	rows, err := d.store.PendingDueBy(ctx, scope, horizon)
	if err != nil {
		return nil, fmt.Errorf("list pending deadlines: %w", err)
	}

	var out []Candidate
	for _, row := range rows {
		sev, ok := classify(d.windows, now, row.DueDate)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Ref:           row.Ref(),
			Scope:         row.Scope,
			Title:         row.Title,
			ReferenceTime: row.DueDate,
			Severity:      sev,
		})
	}
	return out, nil
}
