package outlet

import "errors"

// Domain errors for the outlet package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, outlet.ErrNotReady) {
//	    // no live session is bound to this device
//	}
var (
	// ErrNotFound is returned when a device id has never logged in.
	ErrNotFound = errors.New("outlet: device not found")

	// ErrNotReady is returned when the injection API is used on a State
	// with no bound injector (no live session for the device).
	ErrNotReady = errors.New("outlet: no live session for device")

	// ErrBadLogin is returned when a login payload cannot be parsed or
	// carries no device id. The session, not the registry, is expected to
	// fail on it.
	ErrBadLogin = errors.New("outlet: bad login payload")

	// ErrInvalidRelay is returned when an injected relay action is neither
	// "open" nor "break".
	ErrInvalidRelay = errors.New("outlet: invalid relay action")
)
