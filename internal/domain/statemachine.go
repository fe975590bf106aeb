package domain

import "fmt"

// allowedTransitions is the full status graph. Statuses absent from the map
// are final: nothing leaves them.
var allowedTransitions = map[ApplicationStatus][]ApplicationStatus{
	StatusPending:     {StatusValidating, StatusCancelled},
	StatusValidating:  {StatusApproved, StatusRejected, StatusUnderReview},
	StatusUnderReview: {StatusApproved, StatusRejected},
}

// IsFinalStatus reports whether status has no outgoing transitions.
func IsFinalStatus(status ApplicationStatus) bool {
	return len(allowedTransitions[status]) == 0
}

// AllowedTransitions returns the statuses reachable from status in one step.
func AllowedTransitions(status ApplicationStatus) []ApplicationStatus {
	next := allowedTransitions[status]
	out := make([]ApplicationStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from → to is legal. A self-transition is
// always allowed; callers treat it as a no-op.
func CanTransition(from, to ApplicationStatus) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a permanent StateTransitionError when from → to
// is illegal, nil otherwise.
func ValidateTransition(from, to ApplicationStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return Permanent(ErrTypeStateTransition,
		fmt.Errorf("cannot transition from %s to %s", from, to))
}
