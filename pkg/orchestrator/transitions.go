package orchestrator

import "fmt"

// validTransitions is the §4.3 transitions table: edges present are
// permitted, all others rejected with InvalidTransition.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPlanning:   true,
		StatusInProgress: true,
		StatusCancelled:  true,
		StatusFailed:     true,
	},
	StatusPlanning: {
		StatusBlocked:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusBlocked: {
		StatusInProgress: true,
		StatusFailed:      true,
		StatusCancelled:   true,
	},
	StatusInProgress: {
		StatusBlocked:   true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// ValidateTransition returns nil if from -> to is a permitted edge in the
// §4.3 table, or an *Error{Kind: KindInvalidTransition} otherwise.
func ValidateTransition(from, to Status) error {
	if validTransitions[from][to] {
		return nil
	}
	return newError(KindInvalidTransition, fmt.Sprintf("%s -> %s", from, to), nil)
}
