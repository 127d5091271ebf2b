package outlet

import "time"

// Relay is the position of the outlet's switched output.
type Relay string

// Relay positions. "open" means the outlet is delivering power.
const (
	RelayOpen    Relay = "open"
	RelayBreak   Relay = "break"
	RelayUnknown Relay = "unknown"
)

// Identity holds the device metadata captured verbatim from a login
// payload. It is overwritten wholesale on every login; a device logs in
// again after every reconnect.
type Identity struct {
	Account           string `json:"account"`
	DeviceName        string `json:"device_name"`
	DeviceVersion     string `json:"device_version"`
	DeviceVersionCode int    `json:"device_version_code"`
	Type              string `json:"type"`
	AppType           string `json:"apptype"`
	FirmName          string `json:"firm_name"`
	FirmVersion       string `json:"firm_version"`
	FirmVersionCode   int    `json:"firm_version_code"`
	Key               int    `json:"key"`
}

// Energy is the latest telemetry reported by the device. Power and Voltage
// are colon-delimited pairs of hexadecimal integers exactly as received;
// decoding into watts and volts is the telemetry layer's concern.
type Energy struct {
	Power   string `json:"power"`
	Voltage string `json:"voltage"`
}

// Snapshot is a read-only copy of a State at one instant, safe to hand to
// observers and API responses.
type Snapshot struct {
	ID       string    `json:"id"`
	Identity Identity  `json:"identity"`
	Relay    Relay     `json:"relay"`
	Energy   Energy    `json:"energy"`
	Bound    bool      `json:"session_bound"`
	SeenAt   time.Time `json:"seen_at"`
}
