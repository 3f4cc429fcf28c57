package domain

import "fmt"

// TransitionError reports a state change the current status does not allow.
type TransitionError struct {
	Entity string
	Op     string
	From   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %s", e.Op, e.Entity, e.From)
}

// ValidationError reports malformed input caught by the domain.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
