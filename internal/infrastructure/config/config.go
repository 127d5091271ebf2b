package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Voltson proxy.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Proxy    ProxyConfig    `yaml:"proxy"`
	API      APIConfig      `yaml:"api"`
	Outlets  OutletsConfig  `yaml:"outlets"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProxyConfig contains the device-facing listener and cloud-facing dialer
// settings.
type ProxyConfig struct {
	// Host and Port bind the local WebSocket server the outlets connect to
	// once DNS for the vendor endpoint points at this machine.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Path is the WebSocket path the firmware dials (stock: /gnws).
	Path string `yaml:"path"`

	// RemoteURL is the real vendor cloud endpoint.
	RemoteURL string `yaml:"remote_url"`

	// LoginDeadlineMS is how long a fresh connection may sit without a
	// login before it is torn down.
	LoginDeadlineMS int `yaml:"login_deadline_ms"`

	// LoginEncoding selects the transport decoding applied to the first
	// frame: "base64" (stock firmware) or "plain".
	LoginEncoding string `yaml:"login_encoding"`

	// BufferLimit caps the number of device frames buffered while the
	// cloud connection is still opening. Overflow tears the session down.
	BufferLimit int `yaml:"buffer_limit"`

	// DialTimeoutMS bounds the cloud WebSocket handshake.
	DialTimeoutMS int `yaml:"dial_timeout_ms"`
}

// APIConfig contains HTTP control-surface settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// RuntimeTimeoutMS bounds the wait for a /runtimeInfo answer when the
	// power endpoint injects a /getRuntime.
	RuntimeTimeoutMS int `yaml:"runtime_timeout_ms"`

	// Nightlight configures the nightlight endpoint.
	Nightlight NightlightConfig `yaml:"nightlight"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// NightlightConfig defines the night window and how long the relay stays
// open when the nightlight endpoint fires.
type NightlightConfig struct {
	// StartHour..EndHour (24h clock, wrapping midnight) is "night".
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`

	// DurationMinutes is how long the relay stays open.
	DurationMinutes int `yaml:"duration_minutes"`
}

// OutletsConfig maps human-friendly names onto device ids and defines the
// regex patterns behind the natural-language command endpoint.
type OutletsConfig struct {
	// FriendlyNames maps a name usable in API paths and commands (e.g.
	// "kitchen") to the outlet's stable device id.
	FriendlyNames map[string]string `yaml:"friendly_names"`

	// Commands are tried in order against the command endpoint's text.
	Commands []CommandPattern `yaml:"commands"`
}

// CommandPattern binds a regex to a relay action. The pattern must contain
// a capture group named "name" matching a friendly outlet name.
type CommandPattern struct {
	Pattern string `yaml:"pattern"`
	Action  string `yaml:"action"` // "open" or "break"
}

// DatabaseConfig contains SQLite database settings for telemetry history.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for event publishing.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection backoff settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for energy points.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads, parses and validates the configuration file at path.
//
// Values are layered: built-in defaults, then the YAML file, then
// environment variable overrides of the form VOLTSON_SECTION_KEY
// (e.g. VOLTSON_DATABASE_PATH, VOLTSON_MQTT_PASSWORD).
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the stock firmware's endpoints and
// sensible defaults everywhere else.
func defaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Host:            "0.0.0.0",
			Port:            17273,
			Path:            "/gnws",
			RemoteURL:       "ws://server2.vesync.com:17273/gnws",
			LoginDeadlineMS: 2000,
			LoginEncoding:   "base64",
			BufferLimit:     256,
			DialTimeoutMS:   10000,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 16522,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RuntimeTimeoutMS: 10000,
			Nightlight: NightlightConfig{
				StartHour:       19,
				EndHour:         7,
				DurationMinutes: 2,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/voltson.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "voltson-proxy",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VOLTSON_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOLTSON_PROXY_REMOTE_URL"); v != "" {
		cfg.Proxy.RemoteURL = v
	}
	if v := os.Getenv("VOLTSON_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("VOLTSON_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("VOLTSON_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VOLTSON_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VOLTSON_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("VOLTSON_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Proxy.Port < 1 || c.Proxy.Port > 65535 {
		errs = append(errs, "proxy.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.Proxy.Path, "/") {
		errs = append(errs, "proxy.path must start with /")
	}
	if c.Proxy.RemoteURL == "" {
		errs = append(errs, "proxy.remote_url is required")
	}
	if c.Proxy.LoginDeadlineMS <= 0 {
		errs = append(errs, "proxy.login_deadline_ms must be positive")
	}
	switch c.Proxy.LoginEncoding {
	case "base64", "plain":
	default:
		errs = append(errs, "proxy.login_encoding must be base64 or plain")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if h := c.API.Nightlight.StartHour; h < 0 || h > 23 {
		errs = append(errs, "api.nightlight.start_hour must be between 0 and 23")
	}
	if h := c.API.Nightlight.EndHour; h < 0 || h > 23 {
		errs = append(errs, "api.nightlight.end_hour must be between 0 and 23")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	for i, cmd := range c.Outlets.Commands {
		re, err := regexp.Compile(cmd.Pattern)
		if err != nil {
			errs = append(errs, fmt.Sprintf("outlets.commands[%d].pattern: %v", i, err))
			continue
		}
		if !hasNameGroup(re) {
			errs = append(errs, fmt.Sprintf("outlets.commands[%d].pattern must contain a (?P<name>...) group", i))
		}
		if cmd.Action != "open" && cmd.Action != "break" {
			errs = append(errs, fmt.Sprintf("outlets.commands[%d].action must be open or break", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// hasNameGroup reports whether a compiled pattern has a "name" capture group.
func hasNameGroup(re *regexp.Regexp) bool {
	for _, group := range re.SubexpNames() {
		if group == "name" {
			return true
		}
	}
	return false
}

// GetLoginDeadline returns the proxy login deadline as a Duration.
func (c *Config) GetLoginDeadline() time.Duration {
	return time.Duration(c.Proxy.LoginDeadlineMS) * time.Millisecond
}

// GetDialTimeout returns the cloud dial timeout as a Duration.
func (c *Config) GetDialTimeout() time.Duration {
	return time.Duration(c.Proxy.DialTimeoutMS) * time.Millisecond
}

// GetRuntimeTimeout returns the power-read wait bound as a Duration.
func (c *Config) GetRuntimeTimeout() time.Duration {
	return time.Duration(c.API.RuntimeTimeoutMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
