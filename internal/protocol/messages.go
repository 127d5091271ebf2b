package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind identifies a message type on the wire.
//
// The value is the message's "uri" field, except for KindLogin which has no
// uri and is recognised by the presence of an "account" field.
type Kind string

// Message kinds recognised by the proxy.
const (
	KindLogin        Kind = "login"
	KindLoginReply   Kind = "/loginReply"
	KindKeepalive    Kind = "/ka"
	KindKeepaliveACK Kind = "/kr"
	KindReport       Kind = "/report"
	KindTriggerCount Kind = "/getTriggerCnt"
	KindGetRuntime   Kind = "/getRuntime"
	KindRuntimeInfo  Kind = "/runtimeInfo"
	KindRelay        Kind = "/relay"
	KindCtlFlags     Kind = "/setCtlFlags"
	KindTimer        Kind = "/timer"
	KindEventTimer   Kind = "/evtimer"
	KindState        Kind = "/state"
	KindTrigger      Kind = "/trigger"
	KindUpgrade      Kind = "/upgrade"
)

// FieldType is the expected JSON primitive type of a schema field.
type FieldType string

// Field types used by the protocol. The firmware only ever sends strings
// and numbers; booleans, arrays and objects do not appear in any kind.
const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
)

// Schema maps field names to their expected primitive type for one kind.
type Schema map[string]FieldType

// Message is a decoded protocol frame. Values are the types produced by
// encoding/json: string, float64, bool, nil, map[string]any, []any.
type Message map[string]any

// schemas is the full field catalogue, one entry per kind.
// Field meanings recovered from observed traffic:
//   - /report: e = Watt-seconds, t = seconds since relay open or last report.
//   - /timer loop: bitfield for days of the week, highest bit is Sunday.
//   - /setCtlFlags flag 0: blue LED flashes when offline.
//   - energy fields (power, voltage, current): colon-delimited hex pairs.
var schemas = map[Kind]Schema{
	KindLogin: {
		"account":           TypeString,
		"id":                TypeString,
		"deviceName":        TypeString,
		"deviceVersion":     TypeString,
		"deviceVersionCode": TypeNumber,
		"type":              TypeString,
		"apptype":           TypeString,
		"firmName":          TypeString,
		"firmVersion":       TypeString,
		"firmVersionCode":   TypeNumber,
		"key":               TypeNumber,
		"relay":             TypeString,
	},
	KindLoginReply: {
		"uri":   TypeString,
		"error": TypeNumber,
		"wd":    TypeNumber,
		"year":  TypeNumber,
		"month": TypeNumber,
		"day":   TypeNumber,
		"ms":    TypeNumber,
		"hh":    TypeNumber,
		"hl":    TypeNumber,
		"lh":    TypeNumber,
		"ll":    TypeNumber,
	},
	KindKeepalive: {
		"uri": TypeString,
	},
	KindKeepaliveACK: {
		"uri":   TypeString,
		"error": TypeNumber,
		"wd":    TypeNumber,
		"year":  TypeNumber,
		"month": TypeNumber,
		"day":   TypeNumber,
		"ms":    TypeNumber,
	},
	KindReport: {
		"uri": TypeString,
		"e":   TypeString,
		"t":   TypeString,
	},
	KindTriggerCount: {
		"uri": TypeString,
		// cloud -> device
		"cid":           TypeString,
		"aboveInteger":  TypeNumber,
		"aboveFraction": TypeNumber,
		"belowInteger":  TypeNumber,
		"belowFraction": TypeNumber,
		"aboveAction":   TypeNumber,
		"belowAction":   TypeNumber,
		// device -> cloud
		"aboveTriggerCount": TypeNumber,
		"belowTriggerCount": TypeNumber,
	},
	KindGetRuntime: {
		"uri": TypeString,
		"cid": TypeString,
	},
	KindRuntimeInfo: {
		"uri":      TypeString,
		"relay":    TypeString,
		"meastate": TypeString,
		"power":    TypeString,
		"voltage":  TypeString,
		"current":  TypeString,
	},
	KindRelay: {
		"uri":    TypeString,
		"cid":    TypeString,
		"action": TypeString,
	},
	KindCtlFlags: {
		"uri":  TypeString,
		"flag": TypeNumber,
		"set":  TypeNumber,
	},
	KindTimer: {
		"uri": TypeString,
		// cloud -> device
		"action":       TypeString,
		"id":           TypeNumber,
		"year":         TypeNumber,
		"month":        TypeNumber,
		"day":          TypeNumber,
		"start_time":   TypeNumber,
		"start_action": TypeNumber,
		"duration":     TypeNumber,
		"end_action":   TypeNumber,
		"loop":         TypeNumber,
		"cd":           TypeNumber,
		// device -> cloud
		"error": TypeNumber,
	},
	KindEventTimer: {
		"uri":   TypeString,
		"aname": TypeString,
		"relay": TypeString,
		"id":    TypeNumber,
	},
	KindUpgrade: {
		"uri":        TypeString,
		"url":        TypeString,
		"newVersion": TypeString,
	},
	KindState: {
		"uri":   TypeString,
		"relay": TypeString,
	},
	KindTrigger: {
		"uri":  TypeString,
		"type": TypeNumber,
	},
}

// deviceKinds are the kinds accepted from the device-side stream.
// Anything else fails closed.
var deviceKinds = map[Kind]bool{
	KindLogin:        true,
	KindKeepalive:    true,
	KindKeepaliveACK: true,
	KindReport:       true,
	KindEventTimer:   true,
	KindTriggerCount: true,
	KindRuntimeInfo:  true,
	KindCtlFlags:     true,
	KindTimer:        true,
	KindState:        true,
	KindTrigger:      true,
}

// cloudKinds are the kinds accepted from the cloud-side stream.
var cloudKinds = map[Kind]bool{
	KindLoginReply:   true,
	KindKeepalive:    true,
	KindKeepaliveACK: true,
	KindTriggerCount: true,
	KindGetRuntime:   true,
	KindRelay:        true,
	KindCtlFlags:     true,
	KindTimer:        true,
}

// Lookup returns the field schema for a kind, or false if the kind is not
// part of the protocol catalogue.
func Lookup(kind Kind) (Schema, bool) {
	s, ok := schemas[kind]
	return s, ok
}

// Parse decodes a single JSON frame into a Message.
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformedFrame)
	}
	return msg, nil
}

// DeviceKind resolves the kind of a device-originated message.
//
// A message carrying an "account" field is a login regardless of any uri;
// otherwise the uri is looked up in the device kind set. Returns
// ErrUnknownKind for anything outside that set.
func DeviceKind(msg Message) (Kind, error) {
	if _, ok := msg["account"]; ok {
		return KindLogin, nil
	}
	return resolveURI(msg, deviceKinds)
}

// CloudKind resolves the kind of a cloud-originated message, which is
// always tagged by uri. Returns ErrUnknownKind for anything outside the
// cloud kind set.
func CloudKind(msg Message) (Kind, error) {
	return resolveURI(msg, cloudKinds)
}

func resolveURI(msg Message, allowed map[Kind]bool) (Kind, error) {
	uri, ok := msg["uri"].(string)
	if !ok {
		return "", fmt.Errorf("%w: missing uri", ErrUnknownKind)
	}
	kind := Kind(uri)
	if !allowed[kind] {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, uri)
	}
	return kind, nil
}

// LoginDecoder undoes the transport encoding the firmware applies to its
// login frame before JSON parsing. The stock firmware base64-encodes the
// login; everything after it arrives as plain JSON.
type LoginDecoder interface {
	DecodeLogin(payload []byte) ([]byte, error)
}

// Base64LoginDecoder decodes a base64 transport encoding, tolerating
// missing padding as the firmware omits it on some versions.
type Base64LoginDecoder struct{}

// DecodeLogin implements LoginDecoder.
func (Base64LoginDecoder) DecodeLogin(payload []byte) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(string(payload))
	if err == nil {
		return decoded, nil
	}
	decoded, rawErr := base64.RawStdEncoding.DecodeString(string(payload))
	if rawErr != nil {
		return nil, fmt.Errorf("%w: base64: %w", ErrMalformedFrame, err)
	}
	return decoded, nil
}

// PlainLoginDecoder passes the login frame through untouched, for firmware
// or test harnesses that send plain JSON logins.
type PlainLoginDecoder struct{}

// DecodeLogin implements LoginDecoder.
func (PlainLoginDecoder) DecodeLogin(payload []byte) ([]byte, error) {
	return payload, nil
}
