package outlet

import (
	"fmt"
	"sync"

	"github.com/nerrad567/voltson-proxy/internal/protocol"
)

// Logger defines the logging interface used by the outlet package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the process-wide, id-keyed store of device States.
//
// It is the only shared mutable state between sessions: a device id maps to
// exactly one State for the process lifetime, and a reconnecting device
// resolves to the instance its first login created.
//
// All public methods are thread-safe.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*State

	logger   Logger
	onCreate func(*State)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states: make(map[string]*State),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used by the registry and by States it creates.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// SetOnCreate registers a hook invoked once for every State the registry
// creates, before the State is returned to any caller. Collaborators use
// it to attach observers (telemetry recording, event publishing) to each
// new device. Must be set before sessions start.
func (r *Registry) SetOnCreate(hook func(*State)) {
	r.mu.Lock()
	r.onCreate = hook
	r.mu.Unlock()
}

// GetOrCreate returns the State for id, constructing and storing a fresh
// one on first use. Two calls with the same id always return the same
// instance (first-write-wins).
func (r *Registry) GetOrCreate(id string) *State {
	r.mu.RLock()
	s, ok := r.states[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	if s, ok = r.states[id]; ok {
		r.mu.Unlock()
		return s
	}
	s = newState(id, r.logger)
	r.states[id] = s
	hook := r.onCreate
	r.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	r.logger.Info("device state created", "device_id", id)
	return s
}

// Get returns the State for id, or ErrNotFound if the device has never
// logged in. Read paths (the control surface) use this so an HTTP caller
// cannot fabricate device states; creation is login-only.
func (r *Registry) Get(id string) (*State, error) {
	r.mu.RLock()
	s, ok := r.states[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// ResolveLogin parses an already transport-decoded login payload, extracts
// the device id and delegates to GetOrCreate.
//
// A payload that is not valid JSON or carries no id yields ErrBadLogin;
// the calling session is expected to fail on it.
func (r *Registry) ResolveLogin(payload []byte) (*State, error) {
	msg, err := protocol.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadLogin, err)
	}
	id, ok := msg["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: missing device id", ErrBadLogin)
	}
	return r.GetOrCreate(id), nil
}

// Snapshots returns a point-in-time copy of every known device state.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	states := make([]*State, 0, len(r.states))
	for _, s := range r.states {
		states = append(states, s)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(states))
	for _, s := range states {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
