package domain

// Severity classifies how urgent a detected candidate is. Detectors derive it
// from which look-ahead window matched; the notification priority is taken
// from it directly.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparison and digest sorting.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// IsValid checks if the severity is one of the supported enum values.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the numeric urgency, higher meaning more urgent. Unknown
// severities rank lowest.
func (s Severity) Rank() int { return severityRank[s] }

// MoreUrgentThan reports whether s outranks other.
func (s Severity) MoreUrgentThan(other Severity) bool {
	return s.Rank() > other.Rank()
}
