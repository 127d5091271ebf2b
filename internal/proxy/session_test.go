package proxy

import (
	"bytes"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/voltson-proxy/internal/outlet"
	"github.com/nerrad567/voltson-proxy/internal/protocol"
)

// fakeConn is an in-memory Conn. Frames pushed into in come out of
// ReadMessage; WriteMessage records frames for inspection.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// waitFor polls cond until it holds or the test deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		LoginDeadline: 2 * time.Second,
		BufferLimit:   256,
		LoginDecoder:  protocol.Base64LoginDecoder{},
	}
}

func encodeLogin(payload string) []byte {
	return []byte(base64.StdEncoding.EncodeToString([]byte(payload)))
}

func TestSessionBuffersUntilCloudReady(t *testing.T) {
	device := newFakeConn()
	cloud := newFakeConn()
	release := make(chan struct{})
	dial := func() (Conn, error) {
		<-release
		return cloud, nil
	}

	registry := outlet.NewRegistry()
	sess := NewSession(device, registry, dial, testSessionConfig(), noopLogger{})
	go sess.Run()

	rawLogin := encodeLogin(`{"account":"abc","id":"dev-1"}`)
	ka1 := []byte(`{"uri":"/ka"}`)
	ka2 := []byte(`{"uri":"/ka"}`)
	device.in <- rawLogin
	device.in <- ka1
	device.in <- ka2

	waitFor(t, "login to resolve", func() bool { return registry.Count() == 1 })
	if got := len(cloud.written()); got != 0 {
		t.Fatalf("cloud received %d frames before dial completed", got)
	}

	close(release)
	waitFor(t, "buffer flush", func() bool { return len(cloud.written()) == 3 })

	device.in <- []byte(`{"uri":"/ka"}`)
	waitFor(t, "live forward", func() bool { return len(cloud.written()) == 4 })

	writes := cloud.written()
	// The login goes upstream in its original transport encoding.
	if !bytes.Equal(writes[0], rawLogin) {
		t.Errorf("first forwarded frame = %q, want raw login %q", writes[0], rawLogin)
	}
	if !bytes.Equal(writes[1], ka1) || !bytes.Equal(writes[2], ka2) {
		t.Errorf("buffered frames flushed out of order: %q, %q", writes[1], writes[2])
	}
}

func TestSessionLoginDeadline(t *testing.T) {
	device := newFakeConn()
	cfg := testSessionConfig()
	cfg.LoginDeadline = 20 * time.Millisecond
	dial := func() (Conn, error) {
		t.Error("dial must not run without a login")
		return nil, ErrCloudUnavailable
	}

	registry := outlet.NewRegistry()
	sess := NewSession(device, registry, dial, cfg, noopLogger{})
	go sess.Run()

	waitFor(t, "deadline teardown", device.isClosed)
	if registry.Count() != 0 {
		t.Errorf("registry has %d devices, want 0", registry.Count())
	}
}

func TestSessionBadFirstFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"not base64", []byte("!!!!")},
		{"decodes to non-JSON", encodeLogin("hello")},
		{"login without id", encodeLogin(`{"account":"abc"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeConn()
			dial := func() (Conn, error) {
				t.Error("dial must not run without a login")
				return nil, ErrCloudUnavailable
			}

			registry := outlet.NewRegistry()
			sess := NewSession(device, registry, dial, testSessionConfig(), noopLogger{})
			go sess.Run()

			device.in <- tt.frame
			waitFor(t, "teardown", device.isClosed)
			if registry.Count() != 0 {
				t.Errorf("registry has %d devices, want 0", registry.Count())
			}
		})
	}
}

func TestSessionDropsInvalidDeviceFrames(t *testing.T) {
	device := newFakeConn()
	cloud := newFakeConn()
	dial := func() (Conn, error) { return cloud, nil }

	registry := outlet.NewRegistry()
	sess := NewSession(device, registry, dial, testSessionConfig(), noopLogger{})
	go sess.Run()

	device.in <- encodeLogin(`{"account":"abc","id":"dev-1"}`)
	waitFor(t, "login forward", func() bool { return len(cloud.written()) == 1 })

	// Unknown uri and a mistyped field: both dropped, session stays up.
	device.in <- []byte(`{"uri":"/selfdestruct"}`)
	device.in <- []byte(`{"uri":"/report","e":7}`)
	device.in <- []byte(`{"uri":"/ka"}`)

	waitFor(t, "valid frame after drops", func() bool { return len(cloud.written()) == 2 })
	if device.isClosed() {
		t.Error("session torn down by droppable frames")
	}
	if got := cloud.written()[1]; !bytes.Equal(got, []byte(`{"uri":"/ka"}`)) {
		t.Errorf("forwarded %q after drops, want the /ka frame", got)
	}
}

func TestSessionBufferOverflow(t *testing.T) {
	device := newFakeConn()
	cfg := testSessionConfig()
	cfg.BufferLimit = 2
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	dial := func() (Conn, error) {
		<-release
		return nil, ErrCloudUnavailable
	}

	registry := outlet.NewRegistry()
	sess := NewSession(device, registry, dial, cfg, noopLogger{})
	go sess.Run()

	device.in <- encodeLogin(`{"account":"abc","id":"dev-1"}`)
	device.in <- []byte(`{"uri":"/ka"}`)
	device.in <- []byte(`{"uri":"/ka"}`)

	waitFor(t, "overflow teardown", device.isClosed)
}

func TestSessionCloudToDevice(t *testing.T) {
	device := newFakeConn()
	cloud := newFakeConn()
	dial := func() (Conn, error) { return cloud, nil }

	registry := outlet.NewRegistry()
	sess := NewSession(device, registry, dial, testSessionConfig(), noopLogger{})
	go sess.Run()

	device.in <- encodeLogin(`{"account":"abc","id":"dev-1"}`)
	waitFor(t, "login forward", func() bool { return len(cloud.written()) == 1 })

	reply := []byte(`{"uri":"/loginReply","error":0,"wd":6,"year":2019,"month":3,"day":2,"ms":0,"hh":0,"hl":0,"lh":0,"ll":0}`)
	cloud.in <- []byte(`{"uri":"/bogus"}`)
	cloud.in <- reply

	waitFor(t, "cloud frame forwarded", func() bool { return len(device.written()) == 1 })
	if got := device.written()[0]; !bytes.Equal(got, reply) {
		t.Errorf("device received %q, want %q", got, reply)
	}
}

func TestSessionBindsAndUnbindsInjector(t *testing.T) {
	device := newFakeConn()
	cloud := newFakeConn()
	dial := func() (Conn, error) { return cloud, nil }

	registry := outlet.NewRegistry()
	sess := NewSession(device, registry, dial, testSessionConfig(), noopLogger{})
	go sess.Run()

	device.in <- encodeLogin(`{"account":"abc","id":"dev-1"}`)

	state := registry.GetOrCreate("dev-1")
	waitFor(t, "injector bound", func() bool { return state.Snapshot().Bound })

	if err := state.InjectRelay(outlet.RelayBreak); err != nil {
		t.Fatalf("InjectRelay() error = %v", err)
	}
	waitFor(t, "injected frames", func() bool {
		return len(device.written()) == 1 && len(cloud.written()) == 2
	})

	device.Close()
	waitFor(t, "injector unbound", func() bool { return !state.Snapshot().Bound })
	if err := state.InjectRelay(outlet.RelayOpen); !errors.Is(err, outlet.ErrNotReady) {
		t.Errorf("InjectRelay() after close error = %v, want ErrNotReady", err)
	}
}

func TestSessionTeardownIdempotent(t *testing.T) {
	device := newFakeConn()
	cloud := newFakeConn()
	dial := func() (Conn, error) { return cloud, nil }

	registry := outlet.NewRegistry()
	sess := NewSession(device, registry, dial, testSessionConfig(), noopLogger{})
	go sess.Run()

	device.in <- encodeLogin(`{"account":"abc","id":"dev-1"}`)
	waitFor(t, "cloud connected", func() bool { return len(cloud.written()) == 1 })

	sess.teardown()
	sess.teardown()
	waitFor(t, "both streams closed", func() bool {
		return device.isClosed() && cloud.isClosed()
	})
}

// noopLogger satisfies Logger for tests that do not assert on output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
