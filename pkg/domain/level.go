package domain

import dErrors "vigil/pkg/domain-errors"

// EscalationLevel indicates how far an unresolved item has progressed up the
// authority chain. Invariant: levels only move upward while an item stays
// unresolved; a reset to LevelNone is legal only after a resolution signal.
type EscalationLevel int

const (
	LevelNone  EscalationLevel = 0
	LevelOne   EscalationLevel = 1
	LevelTwo   EscalationLevel = 2
	LevelThree EscalationLevel = 3
)

// MaxEscalationLevel is the terminal level for one escalation cycle.
const MaxEscalationLevel = LevelThree

// IsValid checks if the level is within the supported range.
func (l EscalationLevel) IsValid() bool {
	return l >= LevelNone && l <= LevelThree
}

// CanRaiseTo reports whether moving from l to target is a legal raise.
// Raises must be strictly upward; same-level re-notification is the rate
// limiter's concern, not a transition.
func (l EscalationLevel) CanRaiseTo(target EscalationLevel) bool {
	return target.IsValid() && target > l
}

// ParseEscalationLevel constructs a level from persisted integers.
func ParseEscalationLevel(n int) (EscalationLevel, error) {
	l := EscalationLevel(n)
	if !l.IsValid() {
		return LevelNone, dErrors.Newf(dErrors.CodeInvalidInput, "escalation level %d out of range", n)
	}
	return l, nil
}
