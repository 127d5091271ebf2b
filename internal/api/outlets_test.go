package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/voltson-proxy/internal/infrastructure/config"
	"github.com/nerrad567/voltson-proxy/internal/infrastructure/logging"
	"github.com/nerrad567/voltson-proxy/internal/outlet"
	"github.com/nerrad567/voltson-proxy/internal/protocol"
)

// mockInjector records injected messages and can react to them, standing
// in for a live proxy session.
type mockInjector struct {
	mu       sync.Mutex
	toDevice []protocol.Message
	toCloud  []protocol.Message
	onDevice func(protocol.Message)
}

func (m *mockInjector) SendToDevice(msg protocol.Message) error {
	m.mu.Lock()
	m.toDevice = append(m.toDevice, msg)
	hook := m.onDevice
	m.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (m *mockInjector) SendToCloud(msg protocol.Message) error {
	m.mu.Lock()
	m.toCloud = append(m.toCloud, msg)
	m.mu.Unlock()
	return nil
}

func newTestServer(t *testing.T) (*Server, *outlet.Registry) {
	t.Helper()

	cfg := config.APIConfig{
		Host:             "127.0.0.1",
		Port:             0,
		RuntimeTimeoutMS: 200,
		Nightlight: config.NightlightConfig{
			StartHour:       19,
			EndHour:         7,
			DurationMinutes: 2,
		},
	}
	outlets := config.OutletsConfig{
		FriendlyNames: map[string]string{
			"kitchen": "dev-1",
		},
		Commands: []config.CommandPattern{
			{Pattern: `turn on (the )?(?P<name>\w+)`, Action: "open"},
			{Pattern: `turn off (the )?(?P<name>\w+)`, Action: "break"},
		},
	}

	registry := outlet.NewRegistry()
	s, err := New(Deps{
		Config:   cfg,
		Outlets:  outlets,
		Logger:   logging.Default(),
		Registry: registry,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, registry
}

// loginDevice creates a device state the way a session would, bound to
// the given injector.
func loginDevice(t *testing.T, registry *outlet.Registry, id string, inj outlet.Injector) *outlet.State {
	t.Helper()
	state, err := registry.ResolveLogin([]byte(`{"account":"u@x.com","id":"` + id + `"}`))
	if err != nil {
		t.Fatalf("ResolveLogin() error = %v", err)
	}
	if inj != nil {
		state.BindInjector(inj)
	}
	return state
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestListOutlets(t *testing.T) {
	s, registry := newTestServer(t)
	loginDevice(t, registry, "dev-1", nil)
	loginDevice(t, registry, "dev-2", nil)

	rec := doRequest(s, http.MethodGet, "/api/v1/outlets/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Count   int `json:"count"`
		Outlets []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"outlets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Outlets[0].ID != "dev-1" || resp.Outlets[0].Name != "kitchen" {
		t.Errorf("first outlet = %+v, want dev-1/kitchen", resp.Outlets[0])
	}
}

func TestGetOutletByFriendlyName(t *testing.T) {
	s, registry := newTestServer(t)
	loginDevice(t, registry, "dev-1", nil)

	rec := doRequest(s, http.MethodGet, "/api/v1/outlets/kitchen/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["id"] != "dev-1" {
		t.Errorf("id = %v, want dev-1", resp["id"])
	}
	if resp["relay"] != "unknown" {
		t.Errorf("relay = %v, want unknown before any report", resp["relay"])
	}
}

func TestGetOutletUnknown(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/outlets/cellar", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSetRelay(t *testing.T) {
	s, registry := newTestServer(t)
	inj := &mockInjector{}
	loginDevice(t, registry, "dev-1", inj)

	rec := doRequest(s, http.MethodPut, "/api/v1/outlets/kitchen/relay", `{"action":"open"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	inj.mu.Lock()
	defer inj.mu.Unlock()
	if len(inj.toDevice) != 1 || len(inj.toCloud) != 1 {
		t.Fatalf("injected %d device / %d cloud messages, want 1 / 1",
			len(inj.toDevice), len(inj.toCloud))
	}
	if inj.toDevice[0]["uri"] != "/relay" || inj.toDevice[0]["action"] != "open" {
		t.Errorf("device message = %v", inj.toDevice[0])
	}
	if inj.toCloud[0]["uri"] != "/state" || inj.toCloud[0]["relay"] != "open" {
		t.Errorf("cloud message = %v", inj.toCloud[0])
	}
}

func TestSetRelayValidation(t *testing.T) {
	s, registry := newTestServer(t)
	loginDevice(t, registry, "dev-1", &mockInjector{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad action", `{"action":"toggle"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(s, http.MethodPut, "/api/v1/outlets/kitchen/relay", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSetRelayNoSession(t *testing.T) {
	s, registry := newTestServer(t)
	loginDevice(t, registry, "dev-1", nil)

	rec := doRequest(s, http.MethodPut, "/api/v1/outlets/kitchen/relay", `{"action":"open"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestGetPower(t *testing.T) {
	s, registry := newTestServer(t)

	var state *outlet.State
	inj := &mockInjector{}
	inj.onDevice = func(msg protocol.Message) {
		if msg["uri"] != "/getRuntime" {
			return
		}
		// The device answers through the normal device-message path.
		go state.HandleDeviceMessage([]byte( //nolint:errcheck // Test reply
			`{"uri":"/runtimeInfo","relay":"open","power":"A0:10","voltage":"05:01"}`,
		))
	}
	state = loginDevice(t, registry, "dev-1", inj)

	rec := doRequest(s, http.MethodGet, "/api/v1/outlets/kitchen/power", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Watts    float64 `json:"watts"`
		Volts    float64 `json:"volts"`
		PowerRaw string  `json:"power_raw"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if want := (0xA0 + 0x10) / 8192.0; resp.Watts != want {
		t.Errorf("watts = %v, want %v", resp.Watts, want)
	}
	if resp.PowerRaw != "A0:10" {
		t.Errorf("power_raw = %q", resp.PowerRaw)
	}
}

func TestGetPowerTimeout(t *testing.T) {
	s, registry := newTestServer(t)
	// Injector accepts /getRuntime but the device never answers.
	loginDevice(t, registry, "dev-1", &mockInjector{})

	start := time.Now()
	rec := doRequest(s, http.MethodGet, "/api/v1/outlets/kitchen/power", "")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v, configured 200ms", elapsed)
	}
}

func TestNightlightWindow(t *testing.T) {
	tests := []struct {
		name          string
		hour          int
		wantActivated bool
	}{
		{"evening", 21, true},
		{"after midnight", 3, true},
		{"daytime", 12, false},
		{"boundary start", 19, true},
		{"boundary end", 7, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, registry := newTestServer(t)
			inj := &mockInjector{}
			loginDevice(t, registry, "dev-1", inj)

			s.now = func() time.Time {
				return time.Date(2026, 8, 30, tt.hour, 0, 0, 0, time.UTC)
			}

			rec := doRequest(s, http.MethodPost, "/api/v1/outlets/kitchen/nightlight", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}

			var resp struct {
				Activated bool `json:"activated"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if resp.Activated != tt.wantActivated {
				t.Errorf("activated = %v, want %v", resp.Activated, tt.wantActivated)
			}

			inj.mu.Lock()
			injected := len(inj.toDevice)
			inj.mu.Unlock()
			if tt.wantActivated && injected == 0 {
				t.Error("nightlight activated but nothing injected")
			}
			if !tt.wantActivated && injected != 0 {
				t.Error("nightlight injected outside the window")
			}
		})
	}
}

func TestNightlightAlreadyOn(t *testing.T) {
	s, registry := newTestServer(t)
	inj := &mockInjector{}
	state := loginDevice(t, registry, "dev-1", inj)

	// The outlet reports its relay open before the nightlight fires.
	if _, err := state.HandleDeviceMessage([]byte(`{"uri":"/state","relay":"open"}`)); err != nil {
		t.Fatalf("HandleDeviceMessage() error = %v", err)
	}

	s.now = func() time.Time {
		return time.Date(2026, 8, 30, 21, 0, 0, 0, time.UTC)
	}

	rec := doRequest(s, http.MethodPost, "/api/v1/outlets/kitchen/nightlight", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Activated bool   `json:"activated"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Activated || resp.Reason != "already on" {
		t.Errorf("response = %+v, want activated=false reason=already on", resp)
	}

	inj.mu.Lock()
	defer inj.mu.Unlock()
	if len(inj.toDevice) != 0 {
		t.Errorf("injected %d messages on an already-open relay", len(inj.toDevice))
	}
}

func TestHealth(t *testing.T) {
	s, registry := newTestServer(t)
	loginDevice(t, registry, "dev-1", nil)

	rec := doRequest(s, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %v", resp["status"])
	}
	if resp["outlets"] != float64(1) {
		t.Errorf("outlets = %v, want 1", resp["outlets"])
	}
}
