package mqtt

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/voltson-proxy/internal/infrastructure/config"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"outlet state", topics.OutletState("dev-1"), "voltson/state/dev-1"},
		{"outlet energy", topics.OutletEnergy("dev-1"), "voltson/energy/dev-1"},
		{"system status", topics.SystemStatus(), "voltson/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublishValidation(t *testing.T) {
	// A zero client is never connected; validation runs before the
	// connection check except for the payload-size path.
	c := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "voltson/state/dev-1", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "voltson/state/dev-1", bytes.Repeat([]byte("x"), maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "voltson/state/dev-1", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "broker.local",
			Port:     8883,
			TLS:      true,
			ClientID: "voltson-proxy-test",
		},
		Auth: config.MQTTAuthConfig{
			Username: "proxy",
			Password: "secret",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     30,
		},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("got %d brokers, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "ssl://broker.local:8883" {
		t.Errorf("broker URL = %q, want ssl://broker.local:8883", got)
	}
	if opts.ClientID != "voltson-proxy-test" {
		t.Errorf("client id = %q", opts.ClientID)
	}
	if opts.Username != "proxy" {
		t.Errorf("username = %q", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLS enabled but no TLS config set")
	}
}

func TestBuildClientOptionsPlainTCP(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "voltson-proxy",
		},
	}

	opts := buildClientOptions(cfg)
	if got := opts.Servers[0].String(); got != "tcp://localhost:1883" {
		t.Errorf("broker URL = %q, want tcp://localhost:1883", got)
	}
	if opts.Username != "" {
		t.Errorf("username set without credentials: %q", opts.Username)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	online := buildStatusPayload("online", "voltson-proxy", "")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload missing status: %s", online)
	}
	if strings.Contains(online, "reason") {
		t.Errorf("online payload should not carry a reason: %s", online)
	}

	offline := buildStatusPayload("offline", "voltson-proxy", "graceful_shutdown")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload missing reason: %s", offline)
	}
}
