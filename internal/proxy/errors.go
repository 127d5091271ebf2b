package proxy

import "errors"

// Domain errors for the proxy package.
var (
	// ErrSessionClosed is returned when sending on a session whose
	// teardown has begun.
	ErrSessionClosed = errors.New("proxy: session closed")

	// ErrBufferOverflow is returned when the pre-ready outbound buffer
	// exceeds its configured cap. The session is torn down rather than
	// dropping or reordering buffered frames.
	ErrBufferOverflow = errors.New("proxy: outbound buffer overflow")

	// ErrCloudUnavailable is returned when the cloud-side dial fails.
	ErrCloudUnavailable = errors.New("proxy: cloud connection failed")
)
