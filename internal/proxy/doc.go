// Package proxy bridges each outlet's WebSocket connection to the vendor
// cloud.
//
// The Server accepts device connections on the path the firmware dials.
// Each accepted connection becomes a Session that walks a small state
// machine:
//
//	AwaitingLogin -> Bridging(buffering) -> Bridging(live) -> Closed
//
// A session arms a login deadline on connect; the first frame must resolve
// a device state through the registry or the session closes. Device frames
// validated while the cloud socket is still opening are buffered FIFO and
// flushed in arrival order before any live traffic. Once both sides are up
// an injector is bound to the device state so the control surface can
// command the outlet through this session.
//
// Close or error on either stream is terminal for the session: both
// sockets are closed, the injector is unbound, and nothing is retried.
// The next connection from the device starts a fresh session that resolves
// to the same device state.
//
// # Concurrency
//
// Each session runs two goroutines, one read loop per stream. All shared
// session state (buffer, readiness, liveness) sits behind one mutex, and
// each socket has its own write lock because the injector writes from API
// goroutines.
package proxy
