package pledge

import "fmt"

// transitions is the authoritative lifecycle table. Resolved and defunct
// are terminal.
var transitions = map[Status][]Status{
	StatusNone:     {StatusActive},
	StatusActive:   {StatusPaused, StatusResolved, StatusDefunct},
	StatusPaused:   {StatusActive, StatusDefunct},
	StatusResolved: {},
	StatusDefunct:  {},
}

// CanTransition reports whether from → to is an allowed lifecycle move.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0 && s != StatusNone
}

// InvalidTransitionError reports a disallowed status change. The requested
// pair is always named; transitions are rejected, never coerced.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}
