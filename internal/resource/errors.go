package resource

import (
	"errors"
	"fmt"
)

var ErrValidation = errors.New("resource: invalid desired state")

// ValidationError is a caller mistake caught before or during diffing, such
// as an unknown state or a property the live record does not have.
type ValidationError struct {
	Kind   string
	Name   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("resource: %s %q: %s", e.Kind, e.Name, e.Reason)
	}
	return fmt.Sprintf("resource: %s %q: %s: %s", e.Kind, e.Name, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
