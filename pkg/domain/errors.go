package domain

import "fmt"

// ValidationError is returned for caller mistakes; no state is mutated.
type ValidationError struct {
	Field  string
	Reason string
	// NotFound marks a reference to an unknown scenario, run or result.
	NotFound bool
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func NewNotFoundError(field, id string) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf("%q not found", id), NotFound: true}
}
