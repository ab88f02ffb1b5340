// Package escalate holds the escalation state machine, the recipient
// resolver and the cycle service that turns detector candidates into
// persisted level raises and notifications.
package escalate

import (
	"vigil/pkg/domain"
)

// Outcome is what the state machine decided for one candidate.
type Outcome string

const (
	// OutcomeNone means no transition: either no new threshold was crossed
	// or a resolution signal arrived after the last notification.
	OutcomeNone Outcome = "none"
	// OutcomeRaise means the level should move up to Decision.Target.
	OutcomeRaise Outcome = "raise"
	// OutcomeReset means the item resolved and its level returns to zero.
	OutcomeReset Outcome = "reset"
)

// Decision is the state machine's verdict.
type Decision struct {
	Outcome Outcome
	Target  domain.EscalationLevel
}

// Decide applies the escalation transition rule. A resolution signal after
// the last notification always wins: it suppresses any raise, and clears the
// level when one is set. Otherwise the item escalates to the highest
// threshold its pending hours have crossed, and only upward; re-running the
// same inputs yields the same decision, which is what makes overlapping
// detection windows safe.
func Decide(current domain.EscalationLevel, hoursPending float64, resolvedAfter bool, thresholdsHours []float64) Decision {
	if resolvedAfter {
		if current > domain.LevelNone {
			return Decision{Outcome: OutcomeReset, Target: domain.LevelNone}
		}
		return Decision{Outcome: OutcomeNone, Target: current}
	}

	target := domain.LevelNone
	for i, t := range thresholdsHours {
		if hoursPending >= t {
			target = domain.EscalationLevel(i + 1)
		}
	}
	if target > domain.MaxEscalationLevel {
		target = domain.MaxEscalationLevel
	}

	if current.CanRaiseTo(target) {
		return Decision{Outcome: OutcomeRaise, Target: target}
	}
	return Decision{Outcome: OutcomeNone, Target: current}
}
