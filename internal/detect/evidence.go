package detect

import (
	"context"
	"fmt"

	recordports "vigil/internal/records/ports"
	"vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

// EvidenceGapDetector surfaces deadlines approaching without any currently
// valid evidence attached. The gap itself is the monitored item, so the
// candidate ref uses the evidence domain with the deadline's entity id.
type EvidenceGapDetector struct {
	deadlines recordports.DeadlineStore
	evidence  recordports.EvidenceStore
	// horizonDays bounds how far ahead a missing-evidence deadline counts
	// as a gap.
	horizonDays int
}

// NewEvidenceGapDetector builds the detector with the configured horizon,
// commonly 30 days.
func NewEvidenceGapDetector(deadlines recordports.DeadlineStore, evidence recordports.EvidenceStore, horizonDays int) *EvidenceGapDetector {
	return &EvidenceGapDetector{deadlines: deadlines, evidence: evidence, horizonDays: horizonDays}
}

func (d *EvidenceGapDetector) Domain() domain.MonitoredDomain { return domain.DomainEvidence }

func (d *EvidenceGapDetector) Detect(ctx context.Context, scope domain.Scope) ([]Candidate, error) {
	now := requestcontext.Now(ctx)
	rows, err := d.deadlines.PendingDueBy(ctx, scope, now.AddDate(0, 0, d.horizonDays))
	if err != nil {
		return nil, fmt.Errorf("list deadlines in evidence horizon: %w", err)
	}

	var out []Candidate
	for _, row := range rows {
		ref := domain.ItemRef{Domain: domain.DomainEvidence, EntityID: row.ID}
		ok, err := d.evidence.HasValidEvidence(ctx, ref, now)
		if err != nil {
			return nil, fmt.Errorf("check evidence for %s: %w", ref, err)
		}
		if ok {
			continue
		}
		out = append(out, Candidate{
			Ref:           ref,
			Scope:         row.Scope,
			Title:         row.Title,
			ReferenceTime: row.DueDate,
			Severity:      gapSeverity(row.DueDate.Sub(now).Hours() / 24),
		})
	}
	return out, nil
}

// gapSeverity buckets days-to-deadline. Overdue gaps are critical.
func gapSeverity(daysLeft float64) domain.Severity {
	switch {
	case daysLeft < 0:
		return domain.SeverityCritical
	case daysLeft <= 7:
		return domain.SeverityHigh
	case daysLeft <= 14:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
