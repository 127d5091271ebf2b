package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the protocol package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, protocol.ErrUnknownKind) {
//	    // fail closed: drop, do not forward
//	}
var (
	// ErrMalformedFrame is returned when a frame is not a valid JSON object.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnknownKind is returned when a message's tag is not in the
	// dispatch set for its direction.
	ErrUnknownKind = errors.New("protocol: unknown message kind")

	// ErrValidationFailed is returned (wrapped in a *ValidationError) when
	// a message fails schema validation.
	ErrValidationFailed = errors.New("protocol: validation failed")
)

// ViolationClass distinguishes the two validation failure diagnostics.
type ViolationClass string

const (
	// ViolationUnknownField marks a field the kind's schema has no entry for.
	ViolationUnknownField ViolationClass = "unknown_field"

	// ViolationWrongType marks a field whose runtime type disagrees with
	// the schema.
	ViolationWrongType ViolationClass = "wrong_type"
)

// Violation records one offending field found during validation.
type Violation struct {
	Field string
	Class ViolationClass
}

// ValidationError reports every offending field of a failed validation.
// It wraps ErrValidationFailed so callers can branch with errors.Is while
// observability code keeps the per-field diagnostics.
type ValidationError struct {
	Kind       Kind
	Violations []Violation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s (%s)", v.Field, v.Class)
	}
	return fmt.Sprintf("protocol: validation failed for %s: %s", e.Kind, strings.Join(parts, ", "))
}

// Unwrap lets errors.Is(err, ErrValidationFailed) succeed.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}
