package telemetry

import "errors"

// Sentinel errors for telemetry operations, checked with errors.Is().
var (
	// ErrBadEncoding is returned when an energy field is not a
	// colon-delimited pair of hexadecimal integers.
	ErrBadEncoding = errors.New("telemetry: malformed energy encoding")
)
