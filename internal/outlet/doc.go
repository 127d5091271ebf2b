// Package outlet maintains the authoritative state of each Voltson smart
// outlet passing through the proxy.
//
// One State exists per device id for the lifetime of the process, created on
// first login and shared across reconnects. The State owns the relay
// position and the latest energy telemetry, applies validated protocol
// messages from both directions through two independent dispatch tables,
// and exposes an injection API used by the control surface to command the
// device without letting the cloud's view drift.
//
// The device, not the cloud, is the source of truth for the relay: cloud
// traffic is validated and forwarded but never mutates local state.
//
// State changes are announced through relay-changed and power-updated
// notifications with deterministic per-State delivery order; WatchPower
// provides the one-shot subscription used to correlate an injected
// /getRuntime with the /runtimeInfo the device answers with.
//
// # Thread Safety
//
// Registry and State are safe for concurrent use. Sessions run on
// independent goroutines and a control-surface call may race an in-flight
// protocol message for the same id; all relay/energy mutation and injector
// binding for one State is serialised behind its mutex.
package outlet
