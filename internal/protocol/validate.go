package protocol

import (
	"fmt"
	"sort"
)

// Validate checks every field present in msg against the schema for kind.
//
// Validation is permissive about missing fields (the firmware omits fields
// freely, e.g. /kr frequently arrives with nothing but a uri) and strict
// about extra or mistyped ones. Any unknown or mistyped field fails the
// whole message; all offending fields are reported in the returned
// *ValidationError so both diagnostic classes survive for logging.
//
// The input is never mutated. An unknown kind is reported as ErrUnknownKind.
func Validate(msg Message, kind Kind) error {
	schema, ok := Lookup(kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	var violations []Violation
	for field, value := range msg {
		want, known := schema[field]
		if !known {
			violations = append(violations, Violation{Field: field, Class: ViolationUnknownField})
			continue
		}
		if !matchesType(value, want) {
			violations = append(violations, Violation{Field: field, Class: ViolationWrongType})
		}
	}

	if len(violations) == 0 {
		return nil
	}

	// Map iteration order is random; sort so diagnostics are stable.
	sort.Slice(violations, func(i, j int) bool {
		return violations[i].Field < violations[j].Field
	})

	return &ValidationError{Kind: kind, Violations: violations}
}

// matchesType reports whether a decoded JSON value has the expected
// primitive type. encoding/json decodes all numbers to float64.
func matchesType(value any, want FieldType) bool {
	switch want {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		_, ok := value.(float64)
		return ok
	default:
		return false
	}
}
