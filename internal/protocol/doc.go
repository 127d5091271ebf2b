// Package protocol implements the Voltson outlet wire protocol.
//
// The outlet and the vendor cloud exchange UTF-8 JSON objects, one object
// per WebSocket frame. A frame is either a login (identified by the presence
// of an "account" field) or a tagged message whose "uri" field names its
// kind (e.g. "/ka", "/runtimeInfo", "/relay").
//
// This package provides:
//
//   - A closed set of message kinds, each with a fixed field-name to
//     primitive-type schema (see Lookup).
//   - Validation that is permissive about missing fields but strict about
//     extra or mistyped ones, preserving the unknown-field and wrong-type
//     diagnostics separately (see Validate).
//   - Tag resolution for device-originated and cloud-originated traffic
//     (see DeviceKind and CloudKind). The two directions recognise
//     different kind sets; anything outside them fails closed.
//   - Pluggable transport decoding for the login frame, which the firmware
//     sends base64-encoded (see LoginDecoder).
//
// Kinds observed in firmware strings but never dispatched here include
// /upgrade, /assignGuid, /beginMeasure, /setTrigger, /delTrigger,
// /clrTriggerCnt, /resetID and /softRestore. They are unimplemented, not
// deliberately blocked; traffic carrying them is dropped and logged.
//
// # Thread Safety
//
// All functions are pure lookups over immutable tables and are safe for
// concurrent use.
package protocol
