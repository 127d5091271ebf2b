package outlet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/voltson-proxy/internal/protocol"
)

// Injector sends synthetic protocol messages on behalf of a State. It is a
// narrow capability bound to exactly one live session; both functions are
// one-way sends.
type Injector interface {
	SendToDevice(msg protocol.Message) error
	SendToCloud(msg protocol.Message) error
}

// State is the authoritative view of one physical outlet.
//
// The zero value is not usable; States are created by the Registry and
// live for the rest of the process.
type State struct {
	mu sync.Mutex

	id       string // assigned at first login, immutable thereafter
	identity Identity
	relay    Relay
	energy   Energy
	seenAt   time.Time

	// injector is present only while a live session is bound.
	injector Injector

	subs   map[Event][]subscriber
	subSeq int

	logger Logger
}

// newState is called by the Registry; id may still be empty when the State
// is pre-created for tests.
func newState(id string, logger Logger) *State {
	return &State{
		id:     id,
		relay:  RelayUnknown,
		energy: Energy{Power: "0:0", Voltage: "0:0"},
		subs:   make(map[Event][]subscriber),
		logger: logger,
	}
}

// ID returns the device id.
func (s *State) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Snapshot returns a read-only copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		ID:       s.id,
		Identity: s.identity,
		Relay:    s.relay,
		Energy:   s.energy,
		Bound:    s.injector != nil,
		SeenAt:   s.seenAt,
	}
}

// applyFunc mutates state for one validated message and reports which
// events the mutation raised. Called with s.mu held.
type applyFunc func(s *State, msg protocol.Message) []Event

// deviceApply is the dispatch table for device-originated traffic.
// Kinds with no mutation carry a nil entry; presence in the table is what
// marks them as recognised (tag resolution itself happens in protocol).
var deviceApply = map[protocol.Kind]applyFunc{
	protocol.KindLogin:        (*State).applyLogin,
	protocol.KindKeepalive:    nil,
	protocol.KindKeepaliveACK: nil,
	protocol.KindReport:       nil, // energy summaries pass through; history is the recorder's job
	protocol.KindEventTimer:   (*State).applyRelayField,
	protocol.KindTriggerCount: nil,
	protocol.KindRuntimeInfo:  (*State).applyRuntimeInfo,
	protocol.KindCtlFlags:     nil, // write-only API, nothing to keep
	protocol.KindTimer:        nil,
	protocol.KindState:        (*State).applyRelayField,
	protocol.KindTrigger:      nil,
}

// cloudApply is the dispatch table for cloud-originated traffic. No cloud
// message mutates local state: the device is the source of truth, so even
// a validated /relay command's action is not applied until the device
// reports back.
var cloudApply = map[protocol.Kind]applyFunc{
	protocol.KindLoginReply:   nil,
	protocol.KindKeepalive:    nil,
	protocol.KindKeepaliveACK: nil,
	protocol.KindTriggerCount: nil,
	protocol.KindGetRuntime:   nil,
	protocol.KindRelay:        nil,
	protocol.KindCtlFlags:     nil,
	protocol.KindTimer:        nil,
}

// HandleDeviceMessage runs one device-originated frame through the state
// machine: parse, tag, validate, mutate, notify.
//
// On success the original frame is returned for forwarding to the cloud.
// On any failure the frame must not be forwarded; the error says why and
// the violation is logged with its field-level diagnostics.
func (s *State) HandleDeviceMessage(raw []byte) ([]byte, error) {
	return s.handle(raw, "device", protocol.DeviceKind, deviceApply)
}

// HandleCloudMessage runs one cloud-originated frame through the state
// machine. On success the original frame is returned for forwarding to
// the device.
func (s *State) HandleCloudMessage(raw []byte) ([]byte, error) {
	return s.handle(raw, "cloud", protocol.CloudKind, cloudApply)
}

func (s *State) handle(raw []byte, direction string, tag func(protocol.Message) (protocol.Kind, error), table map[protocol.Kind]applyFunc) ([]byte, error) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		s.logger.Warn("blocked malformed frame", "device_id", s.ID(), "direction", direction, "error", err)
		return nil, err
	}

	kind, err := tag(msg)
	if err != nil {
		s.logger.Warn("blocked unknown message", "device_id", s.ID(), "direction", direction, "error", err)
		return nil, err
	}

	if err := protocol.Validate(msg, kind); err != nil {
		var verr *protocol.ValidationError
		if errors.As(err, &verr) {
			for _, v := range verr.Violations {
				s.logger.Warn("blocked invalid message",
					"device_id", s.ID(),
					"direction", direction,
					"kind", kind,
					"field", v.Field,
					"violation", string(v.Class),
				)
			}
		}
		return nil, err
	}

	s.mu.Lock()
	s.seenAt = time.Now().UTC()
	var events []Event
	if apply := table[kind]; apply != nil {
		events = apply(s, msg)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	for _, event := range events {
		s.notify(event, snap)
	}

	s.logger.Debug("message forwarded", "device_id", snap.ID, "direction", direction, "kind", kind)
	return raw, nil
}

// applyLogin reassigns the full identity metadata. The relay is not
// touched: it retains its prior value (or starts unknown) until the device
// itself reports a position.
func (s *State) applyLogin(msg protocol.Message) []Event {
	if s.id == "" {
		s.id, _ = msg["id"].(string)
	}
	s.identity = Identity{
		Account:           stringField(msg, "account"),
		DeviceName:        stringField(msg, "deviceName"),
		DeviceVersion:     stringField(msg, "deviceVersion"),
		DeviceVersionCode: intField(msg, "deviceVersionCode"),
		Type:              stringField(msg, "type"),
		AppType:           stringField(msg, "apptype"),
		FirmName:          stringField(msg, "firmName"),
		FirmVersion:       stringField(msg, "firmVersion"),
		FirmVersionCode:   intField(msg, "firmVersionCode"),
		Key:               intField(msg, "key"),
	}
	return nil
}

// applyRelayField sets the relay from the message's relay field. Used for
// /evtimer (a device timer fired) and /state (the button was pressed).
func (s *State) applyRelayField(msg protocol.Message) []Event {
	if relay, ok := msg["relay"].(string); ok {
		s.relay = Relay(relay)
		return []Event{EventRelayChanged}
	}
	return nil
}

// applyRuntimeInfo sets the relay and refreshes energy telemetry from an
// on-demand /runtimeInfo snapshot.
func (s *State) applyRuntimeInfo(msg protocol.Message) []Event {
	events := s.applyRelayField(msg)
	if power, ok := msg["power"].(string); ok {
		s.energy.Power = power
	}
	if voltage, ok := msg["voltage"].(string); ok {
		s.energy.Voltage = voltage
	}
	return append(events, EventPowerUpdated)
}

// BindInjector attaches the capability used by the injection API. A fresh
// bind replaces any previous one: on reconnect the newest session wins.
func (s *State) BindInjector(inj Injector) {
	s.mu.Lock()
	s.injector = inj
	s.mu.Unlock()
}

// UnbindInjector detaches an injector. It is idempotent and only clears
// the binding if inj still owns it, so the late teardown of a dead session
// cannot clobber the injector a reconnected session just bound.
func (s *State) UnbindInjector(inj Injector) {
	s.mu.Lock()
	if s.injector == inj {
		s.injector = nil
	}
	s.mu.Unlock()
}

// InjectRelay commands the device's relay to the desired position.
//
// The local relay is set immediately (optimistic, no acknowledgment
// awaited), an actuation message goes to the device and, independently, a
// state notification goes to the cloud so its view matches the commanded
// position before the device reports back. Exactly one relay-changed
// notification is raised.
//
// Returns ErrInvalidRelay for positions other than open/break and
// ErrNotReady when no live session is bound.
func (s *State) InjectRelay(desired Relay) error {
	if desired != RelayOpen && desired != RelayBreak {
		return fmt.Errorf("%w: %q", ErrInvalidRelay, desired)
	}

	s.mu.Lock()
	inj := s.injector
	if inj == nil {
		s.mu.Unlock()
		return ErrNotReady
	}
	s.relay = desired
	id := s.id
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(EventRelayChanged, snap)

	toDevice := inj.SendToDevice(protocol.Message{
		"uri":    string(protocol.KindRelay),
		"cid":    id,
		"action": string(desired),
	})
	toCloud := inj.SendToCloud(protocol.Message{
		"uri":   string(protocol.KindState),
		"relay": string(desired),
	})
	return errors.Join(toDevice, toCloud)
}

// InjectGetRuntime asks the device for a telemetry snapshot. It does not
// return telemetry: the device answers with a /runtimeInfo through the
// normal device-message path, which raises power-updated. Callers wanting
// the reading should open a WatchPower before calling this.
func (s *State) InjectGetRuntime() error {
	s.mu.Lock()
	inj := s.injector
	id := s.id
	s.mu.Unlock()

	if inj == nil {
		return ErrNotReady
	}
	return inj.SendToDevice(protocol.Message{
		"uri": string(protocol.KindGetRuntime),
		"cid": id,
	})
}

func stringField(msg protocol.Message, key string) string {
	v, _ := msg[key].(string)
	return v
}

func intField(msg protocol.Message, key string) int {
	v, _ := msg[key].(float64)
	return int(v)
}
