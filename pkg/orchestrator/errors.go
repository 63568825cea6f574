package orchestrator

import "fmt"

// Kind is the error taxonomy from spec §7 — kinds, not Go types, so callers
// (pkg/api's error-envelope mapping) can switch on Kind without depending on
// every concrete error type this package defines.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindWorkflowConflict Kind = "workflow_conflict"
	KindRateLimit        Kind = "rate_limit"
	KindInvalidTransition Kind = "invalid_transition"
	KindDriverError      Kind = "driver_error"
	KindCancellation     Kind = "cancellation"
	KindNotFound         Kind = "not_found"
	KindPersistence      Kind = "persistence_error"
)

// Error is the common error type every OrchestratorService/StateMachine
// operation returns, carrying the §7 Kind the HTTP layer maps to a status
// code.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// AsKind reports the taxonomy Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func AsKind(err error) (Kind, bool) {
	var oe *Error
	if ok := asError(err, &oe); ok {
		return oe.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if oe, ok := err.(*Error); ok {
			*target = oe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
