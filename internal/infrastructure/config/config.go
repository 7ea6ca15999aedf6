package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the FindSpot device agent.
// All configuration is loaded from YAML and can be overridden by environment
// variables.
type Config struct {
	Device       DeviceConfig       `yaml:"device"`
	Credentials  CredentialsConfig  `yaml:"credentials"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Registration RegistrationConfig `yaml:"registration"`
	Sensors      []SensorConfig     `yaml:"sensors"`
	Journal      JournalConfig      `yaml:"journal"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DeviceConfig contains the device's descriptive metadata, carried in the
// device-registration payload.
type DeviceConfig struct {
	Name      string  `yaml:"name"`
	Location  string  `yaml:"location"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`

	// MAC pins the device identity instead of reading it from hardware.
	// Leave empty on real devices; set it for simulators and tests.
	MAC string `yaml:"mac"`
}

// CredentialsConfig contains everything needed to derive and bootstrap
// broker credentials. The salt is a shared secret and must never appear in
// any payload; only derived output crosses the wire.
type CredentialsConfig struct {
	Prefix            string `yaml:"prefix"`
	Salt              string `yaml:"salt"`
	BootstrapUsername string `yaml:"bootstrap_username"`
	BootstrapPassword string `yaml:"bootstrap_password"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Timeouts  MQTTTimeoutConfig   `yaml:"timeouts"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
// The agent retries at a fixed interval, indefinitely; phase-level timeouts
// are handled separately by the registration coordinator.
type MQTTReconnectConfig struct {
	Interval int `yaml:"interval"` // seconds between attempts
}

// MQTTTimeoutConfig bounds individual broker operations so the cooperative
// tick loop is never blocked for long.
type MQTTTimeoutConfig struct {
	Connect int `yaml:"connect"` // seconds
	Publish int `yaml:"publish"` // seconds
}

// RegistrationConfig contains the handshake timing policy.
type RegistrationConfig struct {
	// ResponseTimeout is how long a published request may wait for a
	// response before the pending flag is cleared (seconds).
	ResponseTimeout int `yaml:"response_timeout"`

	// OverallDeadline bounds the whole handshake (seconds). If the device
	// is not fully registered within it, the agent exits non-zero so the
	// supervisor restarts it from scratch. 0 disables the deadline.
	OverallDeadline int `yaml:"overall_deadline"`
}

// SensorConfig describes one attached peripheral.
type SensorConfig struct {
	Name       string `yaml:"name"`
	Technology string `yaml:"technology"`
	Kind       string `yaml:"kind"`
	Index      int    `yaml:"index"`
}

// JournalConfig contains the optional SQLite registration journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FINDSPOT_SECTION_KEY
// For example: FINDSPOT_CREDENTIALS_SALT, FINDSPOT_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: "findspot-device",
		},
		Credentials: CredentialsConfig{
			Prefix: "esp32_dev",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				Interval: 5,
			},
			Timeouts: MQTTTimeoutConfig{
				Connect: 5,
				Publish: 5,
			},
		},
		Registration: RegistrationConfig{
			ResponseTimeout: 15,
			OverallDeadline: 120,
		},
		Journal: JournalConfig{
			Enabled:     false,
			Path:        "./data/registration.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern:
// FINDSPOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("FINDSPOT_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}
	if v := os.Getenv("FINDSPOT_DEVICE_MAC"); v != "" {
		cfg.Device.MAC = v
	}

	// Credentials - the salt and bootstrap password are secrets and should
	// normally arrive via the environment rather than the config file.
	if v := os.Getenv("FINDSPOT_CREDENTIALS_SALT"); v != "" {
		cfg.Credentials.Salt = v
	}
	if v := os.Getenv("FINDSPOT_CREDENTIALS_BOOTSTRAP_USERNAME"); v != "" {
		cfg.Credentials.BootstrapUsername = v
	}
	if v := os.Getenv("FINDSPOT_CREDENTIALS_BOOTSTRAP_PASSWORD"); v != "" {
		cfg.Credentials.BootstrapPassword = v
	}

	// MQTT
	if v := os.Getenv("FINDSPOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FINDSPOT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}

	// Journal
	if v := os.Getenv("FINDSPOT_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.Name == "" {
		errs = append(errs, "device.name is required")
	}

	// Credentials validation - the handshake cannot run without these.
	if c.Credentials.Prefix == "" {
		errs = append(errs, "credentials.prefix is required")
	}
	if c.Credentials.Salt == "" {
		errs = append(errs, "credentials.salt is required (set FINDSPOT_CREDENTIALS_SALT environment variable)")
	}
	if c.Credentials.BootstrapUsername == "" {
		errs = append(errs, "credentials.bootstrap_username is required")
	}
	if c.Credentials.BootstrapPassword == "" {
		errs = append(errs, "credentials.bootstrap_password is required")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.Interval < 1 {
		errs = append(errs, "mqtt.reconnect.interval must be at least 1 second")
	}
	if c.MQTT.Timeouts.Connect < 1 {
		errs = append(errs, "mqtt.timeouts.connect must be at least 1 second")
	}
	if c.MQTT.Timeouts.Publish < 1 {
		errs = append(errs, "mqtt.timeouts.publish must be at least 1 second")
	}

	// Registration validation
	if c.Registration.ResponseTimeout < 1 {
		errs = append(errs, "registration.response_timeout must be at least 1 second")
	}
	if c.Registration.OverallDeadline < 0 {
		errs = append(errs, "registration.overall_deadline cannot be negative")
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal.enabled is true")
	}

	// Sensor validation - structural checks only; semantic checks (duplicate
	// indices etc.) happen when descriptors are built.
	for i, s := range c.Sensors {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("sensors[%d].name is required", i))
		}
		if s.Technology == "" {
			errs = append(errs, fmt.Sprintf("sensors[%d].technology is required", i))
		}
		if s.Kind == "" {
			errs = append(errs, fmt.Sprintf("sensors[%d].kind is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReconnectInterval returns the fixed reconnect interval as a Duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.MQTT.Reconnect.Interval) * time.Second
}

// ConnectTimeout returns the broker connect timeout as a Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.MQTT.Timeouts.Connect) * time.Second
}

// PublishTimeout returns the broker publish timeout as a Duration.
func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.MQTT.Timeouts.Publish) * time.Second
}

// ResponseTimeout returns the per-request response timeout as a Duration.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.Registration.ResponseTimeout) * time.Second
}

// OverallDeadline returns the whole-handshake deadline as a Duration.
// Zero means no deadline.
func (c *Config) OverallDeadline() time.Duration {
	return time.Duration(c.Registration.OverallDeadline) * time.Second
}
