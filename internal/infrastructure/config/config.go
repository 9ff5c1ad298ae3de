package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the ESSL agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Polling   PollingConfig   `yaml:"polling"`
	Streaming StreamingConfig `yaml:"streaming"`
	Devices   DevicesConfig   `yaml:"devices"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AgentConfig identifies this agent to the central server.
type AgentConfig struct {
	// ID is the unique agent identifier presented when polling for commands.
	ID string `yaml:"id"`

	// ServerURL is the base URL of the central server, without trailing slash.
	// Events and command results are posted here.
	ServerURL string `yaml:"server_url"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// PollingConfig contains command polling settings.
type PollingConfig struct {
	// Interval is the seconds between polls of the central command queue.
	Interval int `yaml:"interval"`

	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// StreamingConfig contains per-device stream engine tunables.
// Zero values fall back to the engine defaults.
type StreamingConfig struct {
	// InitialSyncHours is the historical lookback window on stream start.
	InitialSyncHours int `yaml:"initial_sync_hours"`

	// RetryAttempts is the delivery attempts per event before it is queued.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryDelay is the seconds between delivery attempts.
	RetryDelay int `yaml:"retry_delay"`

	// ReconnectAttempts is the connection attempts before a stream gives up.
	ReconnectAttempts int `yaml:"reconnect_attempts"`

	// ReconnectDelay is the seconds between reconnection attempts.
	ReconnectDelay int `yaml:"reconnect_delay"`

	// QueueSize caps the overflow queue of undeliverable events.
	QueueSize int `yaml:"queue_size"`
}

// DevicesConfig contains terminal driver settings.
type DevicesConfig struct {
	// Driver selects the terminal implementation: "simulator" for development.
	Driver string `yaml:"driver"`

	// DefaultPort is used when a device record omits a port.
	DefaultPort int `yaml:"default_port"`

	// DefaultTimeout is the per-operation device timeout in seconds.
	DefaultTimeout int `yaml:"default_timeout"`
}

// MirrorConfig contains the optional site-local MQTT event mirror settings.
// When enabled, every captured attendance event is also published to the
// local broker alongside delivery to the central server.
type MirrorConfig struct {
	Enabled bool             `yaml:"enabled"`
	Broker  MQTTBrokerConfig `yaml:"broker"`
	Auth    MQTTAuthConfig   `yaml:"auth"`
	QoS     int              `yaml:"qos"`
	Topic   string           `yaml:"topic"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ESSLAGENT_SECTION_KEY
// For example: ESSLAGENT_DATABASE_PATH, ESSLAGENT_SERVER_URL
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
		Database: DatabaseConfig{
			Path:        "./data/esslagent.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8001,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Polling: PollingConfig{
			Interval: 10,
			Timeout:  10,
		},
		Streaming: StreamingConfig{
			InitialSyncHours:  24,
			RetryAttempts:     3,
			RetryDelay:        5,
			ReconnectAttempts: 3,
			ReconnectDelay:    10,
			QueueSize:         1000,
		},
		Devices: DevicesConfig{
			Driver:         "simulator",
			DefaultPort:    4370,
			DefaultTimeout: 10,
		},
		Mirror: MirrorConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "esslagent",
			},
			QoS:   1,
			Topic: "esslagent/events",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ESSLAGENT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Agent identity
	if v := os.Getenv("ESSLAGENT_AGENT_ID"); v != "" {
		cfg.Agent.ID = v
	}
	if v := os.Getenv("ESSLAGENT_SERVER_URL"); v != "" {
		cfg.Agent.ServerURL = v
	}

	// Database
	if v := os.Getenv("ESSLAGENT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("ESSLAGENT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ESSLAGENT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Mirror credentials
	if v := os.Getenv("ESSLAGENT_MQTT_HOST"); v != "" {
		cfg.Mirror.Broker.Host = v
	}
	if v := os.Getenv("ESSLAGENT_MQTT_USERNAME"); v != "" {
		cfg.Mirror.Auth.Username = v
	}
	if v := os.Getenv("ESSLAGENT_MQTT_PASSWORD"); v != "" {
		cfg.Mirror.Auth.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.ID == "" {
		errs = append(errs, "agent.id is required (set ESSLAGENT_AGENT_ID environment variable)")
	}
	if c.Agent.ServerURL == "" {
		errs = append(errs, "agent.server_url is required (set ESSLAGENT_SERVER_URL environment variable)")
	} else if !strings.HasPrefix(c.Agent.ServerURL, "http://") && !strings.HasPrefix(c.Agent.ServerURL, "https://") {
		errs = append(errs, "agent.server_url must start with http:// or https://")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Polling.Interval < 1 {
		errs = append(errs, "polling.interval must be at least 1 second")
	}

	if c.Mirror.QoS < 0 || c.Mirror.QoS > 2 {
		errs = append(errs, "mirror.qos must be 0, 1, or 2")
	}

	switch c.Devices.Driver {
	case "simulator", "essl":
	default:
		errs = append(errs, "devices.driver must be \"simulator\" or \"essl\"")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollInterval returns the command polling interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Polling.Interval) * time.Second
}

// GetPollTimeout returns the polling HTTP timeout as a Duration.
func (c *Config) GetPollTimeout() time.Duration {
	return time.Duration(c.Polling.Timeout) * time.Second
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

// GetDeviceTimeout returns the default per-operation device timeout as a Duration.
func (c *Config) GetDeviceTimeout() time.Duration {
	return time.Duration(c.Devices.DefaultTimeout) * time.Second
}
