// Package detect implements the per-domain risk detectors. A detector is a
// pure read: given the shared cycle clock and a scope it returns candidates,
// and calling it twice in the same state returns the same list. All writes
// happen downstream in the escalation cycle.
package detect

import (
	"context"
	"sort"
	"time"

	"vigil/pkg/domain"
)

// Candidate is one at-risk item surfaced by a detector.
type Candidate struct {
	Ref   domain.ItemRef
	Scope domain.Scope
	Title string

	// ReferenceTime is the due or expiry date the risk is measured against.
	ReferenceTime time.Time
	Severity      domain.Severity

	// HoursPending is how long the item has been waiting, measured from the
	// last escalation reset. Only the review detector sets it; elapsed time
	// drives escalation levels for that domain alone.
	HoursPending float64
	// CurrentLevel is the item's persisted escalation level at detection
	// time. Zero for domains without escalation state.
	CurrentLevel domain.EscalationLevel
}

// Detector finds at-risk items in one monitored domain.
type Detector interface {
	Domain() domain.MonitoredDomain
	Detect(ctx context.Context, scope domain.Scope) ([]Candidate, error)
}

// window pairs a look-ahead tier with the severity it implies.
type window struct {
	days     int
	severity domain.Severity
}

// ladder builds severity windows from configured day tiers. The most urgent
// tier maps to high, the next to medium, the rest to low; overdue is handled
// separately and is always critical.
func ladder(daysTiers []int) []window {
	sorted := make([]int, len(daysTiers))
	copy(sorted, daysTiers)
	sort.Ints(sorted)
	sevs := []domain.Severity{domain.SeverityHigh, domain.SeverityMedium}
	out := make([]window, len(sorted))
	for i, d := range sorted {
		sev := domain.SeverityLow
		if i < len(sevs) {
			sev = sevs[i]
		}
		out[i] = window{days: d, severity: sev}
	}
	return out
}

// classify maps a due date onto a severity. Overdue always wins; otherwise
// the closest matching tier applies. The second return is false when the due
// date is beyond every window.
func classify(windows []window, now, due time.Time) (domain.Severity, bool) {
	if due.Before(now) {
		return domain.SeverityCritical, true
	}
	daysLeft := due.Sub(now).Hours() / 24
	for _, w := range windows {
		if daysLeft <= float64(w.days) {
			return w.severity, true
		}
	}
	return "", false
}
