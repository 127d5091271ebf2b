package proxy

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/voltson-proxy/internal/outlet"
	"github.com/nerrad567/voltson-proxy/internal/protocol"
)

// Conn is the subset of *websocket.Conn a session uses. Tests substitute
// in-memory pairs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens the cloud-side connection. The production dialer wraps
// gorilla's websocket.Dialer; tests substitute a stub.
type Dialer func() (Conn, error)

// Logger is the logging interface used by sessions.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SessionConfig carries the per-session knobs out of the proxy config.
type SessionConfig struct {
	// LoginDeadline is how long to wait for the first login frame.
	LoginDeadline time.Duration

	// BufferLimit caps the pre-ready outbound buffer.
	BufferLimit int

	// LoginDecoder undoes the firmware's login transport encoding.
	LoginDecoder protocol.LoginDecoder
}

// Session bridges one device connection to one cloud connection.
//
// Identity is the connection pair; the session is ephemeral and never
// outlives either socket.
type Session struct {
	id       string
	cfg      SessionConfig
	registry *outlet.Registry
	dial     Dialer
	logger   Logger

	device Conn

	mu          sync.Mutex
	cloud       Conn          // nil until the dial completes
	state       *outlet.State // nil until login resolves
	buffer      [][]byte      // FIFO, validated device frames awaiting the cloud
	remoteReady bool          // cloud socket open and buffer flushed
	connected   bool          // false once teardown begins

	// deviceWriteMu and cloudWriteMu serialise socket writes; the
	// injector writes from API goroutines while the read loops forward.
	deviceWriteMu sync.Mutex
	cloudWriteMu  sync.Mutex

	loginTimer *time.Timer
	closeOnce  sync.Once
}

// NewSession wraps an accepted device connection. Run must be called to
// start bridging.
func NewSession(device Conn, registry *outlet.Registry, dial Dialer, cfg SessionConfig, logger Logger) *Session {
	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		registry:  registry,
		dial:      dial,
		logger:    logger,
		device:    device,
		connected: true,
	}
	return s
}

// ID returns the session's unique id, used for log correlation.
func (s *Session) ID() string {
	return s.id
}

// Run drives the session until either stream closes. It blocks; callers
// run it on its own goroutine.
func (s *Session) Run() {
	s.logger.Info("device connected", "session_id", s.id)

	// A connection that never logs in is torn down after the deadline.
	// Stop() on successful login makes a post-cancel fire a no-op, and the
	// loggedIn check covers the window where both race.
	s.loginTimer = time.AfterFunc(s.cfg.LoginDeadline, func() {
		s.mu.Lock()
		loggedIn := s.state != nil
		s.mu.Unlock()
		if !loggedIn {
			s.logger.Warn("no login before deadline, closing session",
				"session_id", s.id,
				"deadline", s.cfg.LoginDeadline,
			)
			s.teardown()
		}
	})

	for {
		_, data, err := s.device.ReadMessage()
		if err != nil {
			s.logger.Info("device stream closed", "session_id", s.id, "error", err)
			s.teardown()
			return
		}
		if err := s.handleDeviceFrame(data); err != nil {
			// Fatal frame errors (bad login, buffer overflow) already
			// triggered teardown; validation drops just continue.
			s.mu.Lock()
			alive := s.connected
			s.mu.Unlock()
			if !alive {
				return
			}
		}
	}
}

// handleDeviceFrame processes one frame from the device stream.
//
// The first frame must be a login: it is transport-decoded, resolved to a
// device state, and the cloud dial starts. Every frame (the login
// included) then runs through the device handler; only frames it passes
// are forwarded. The raw frame, not the decoded form, is what the cloud
// receives, so the upstream sees exactly what the device sent.
func (s *Session) handleDeviceFrame(raw []byte) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	handlerInput := raw
	if state == nil {
		decoded, err := s.cfg.LoginDecoder.DecodeLogin(raw)
		if err != nil {
			s.logger.Warn("undecodable first frame, closing session", "session_id", s.id, "error", err)
			s.teardown()
			return err
		}
		state, err = s.registry.ResolveLogin(decoded)
		if err != nil {
			s.logger.Warn("login resolve failed, closing session", "session_id", s.id, "error", err)
			s.teardown()
			return err
		}

		s.mu.Lock()
		s.state = state
		s.mu.Unlock()
		s.loginTimer.Stop()
		s.logger.Info("device logged in", "session_id", s.id, "device_id", state.ID())

		go s.connectCloud()
		handlerInput = decoded
	}

	fwd, err := state.HandleDeviceMessage(handlerInput)
	if err != nil {
		// Validation or unknown-kind failure: drop, session continues.
		return nil
	}
	if fwd == nil {
		return nil
	}
	return s.forwardToCloud(raw)
}

// forwardToCloud buffers while the cloud socket opens, then streams live.
// Buffered frames are flushed in arrival order before any live frame.
func (s *Session) forwardToCloud(raw []byte) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.remoteReady {
		if s.cfg.BufferLimit > 0 && len(s.buffer) >= s.cfg.BufferLimit {
			s.mu.Unlock()
			s.logger.Error("outbound buffer overflow, closing session",
				"session_id", s.id,
				"limit", s.cfg.BufferLimit,
			)
			s.teardown()
			return ErrBufferOverflow
		}
		s.buffer = append(s.buffer, raw)
		s.mu.Unlock()
		return nil
	}
	cloud := s.cloud
	s.mu.Unlock()

	if err := s.writeConn(cloud, &s.cloudWriteMu, raw); err != nil {
		s.logger.Error("cloud write failed, closing session", "session_id", s.id, "error", err)
		s.teardown()
		return err
	}
	return nil
}

// connectCloud dials the vendor endpoint, binds the injector, flushes the
// buffer and starts the cloud read loop. Runs on its own goroutine.
func (s *Session) connectCloud() {
	cloud, err := s.dial()
	if err != nil {
		s.logger.Error("cloud dial failed, closing session", "session_id", s.id, "error", err)
		s.teardown()
		return
	}

	s.mu.Lock()
	if !s.connected {
		// The device went away while we were dialling.
		s.mu.Unlock()
		cloud.Close() //nolint:errcheck // Best effort on a dead session
		return
	}
	s.cloud = cloud
	state := s.state
	s.mu.Unlock()

	s.logger.Info("cloud connected", "session_id", s.id, "device_id", state.ID())
	state.BindInjector(s.injector())

	// Flush under the session lock so no live send can slip past a
	// buffered frame; remoteReady only flips once the buffer is drained.
	s.mu.Lock()
	for _, frame := range s.buffer {
		if err := s.writeConn(cloud, &s.cloudWriteMu, frame); err != nil {
			s.mu.Unlock()
			s.logger.Error("buffer flush failed, closing session", "session_id", s.id, "error", err)
			s.teardown()
			return
		}
	}
	s.buffer = nil
	s.remoteReady = true
	s.mu.Unlock()

	go s.cloudReadLoop(cloud, state)
}

// cloudReadLoop forwards validated cloud frames to the device.
func (s *Session) cloudReadLoop(cloud Conn, state *outlet.State) {
	for {
		_, data, err := cloud.ReadMessage()
		if err != nil {
			s.logger.Info("cloud stream closed", "session_id", s.id, "error", err)
			s.teardown()
			return
		}

		fwd, err := state.HandleCloudMessage(data)
		if err != nil || fwd == nil {
			continue // dropped, fail closed
		}
		if err := s.sendToDevice(fwd); err != nil {
			s.logger.Error("device write failed, closing session", "session_id", s.id, "error", err)
			s.teardown()
			return
		}
	}
}

// sendToDevice writes one frame to the device stream.
func (s *Session) sendToDevice(data []byte) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	device := s.device
	s.mu.Unlock()

	return s.writeConn(device, &s.deviceWriteMu, data)
}

// sendToCloud writes one frame to the cloud stream, used by the injector
// once the session is live.
func (s *Session) sendToCloud(data []byte) error {
	s.mu.Lock()
	if !s.connected || s.cloud == nil {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	cloud := s.cloud
	s.mu.Unlock()

	return s.writeConn(cloud, &s.cloudWriteMu, data)
}

func (s *Session) writeConn(conn Conn, writeMu *sync.Mutex, data []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("proxy: write: %w", err)
	}
	return nil
}

// teardown closes both streams and unbinds the injector. It is idempotent
// and safe to call from any goroutine; in-flight handlers see connected ==
// false and stop sending.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.connected = false
		state := s.state
		cloud := s.cloud
		s.mu.Unlock()

		if s.loginTimer != nil {
			s.loginTimer.Stop()
		}
		if state != nil {
			state.UnbindInjector(s.injector())
		}
		if cloud != nil {
			cloud.Close() //nolint:errcheck // Already-closed is fine
		}
		s.device.Close() //nolint:errcheck // Already-closed is fine

		s.logger.Info("session closed", "session_id", s.id)
	})
}

// injector returns this session's injection capability. The value is
// comparable by session so a stale session's unbind cannot clear a newer
// session's binding.
func (s *Session) injector() outlet.Injector {
	return sessionInjector{s}
}

// sessionInjector adapts a Session to the outlet.Injector capability.
type sessionInjector struct {
	s *Session
}

// SendToDevice implements outlet.Injector.
func (i sessionInjector) SendToDevice(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("proxy: encoding injected message: %w", err)
	}
	return i.s.sendToDevice(data)
}

// SendToCloud implements outlet.Injector.
func (i sessionInjector) SendToCloud(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("proxy: encoding injected message: %w", err)
	}
	return i.s.sendToCloud(data)
}
