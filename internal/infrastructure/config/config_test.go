package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig drops a YAML file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

const minimalYAML = `
agent:
  id: agent-1
  server_url: http://central.example.com
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agent.ID != "agent-1" {
		t.Errorf("Agent.ID = %q, want agent-1", cfg.Agent.ID)
	}
	if cfg.Database.Path != "./data/esslagent.db" {
		t.Errorf("Database.Path = %q, want default", cfg.Database.Path)
	}
	if cfg.API.Port != 8001 {
		t.Errorf("API.Port = %d, want 8001", cfg.API.Port)
	}
	if cfg.Polling.Interval != 10 {
		t.Errorf("Polling.Interval = %d, want 10", cfg.Polling.Interval)
	}
	if cfg.Streaming.InitialSyncHours != 24 {
		t.Errorf("Streaming.InitialSyncHours = %d, want 24", cfg.Streaming.InitialSyncHours)
	}
	if cfg.Streaming.QueueSize != 1000 {
		t.Errorf("Streaming.QueueSize = %d, want 1000", cfg.Streaming.QueueSize)
	}
	if cfg.Devices.Driver != "simulator" {
		t.Errorf("Devices.Driver = %q, want simulator", cfg.Devices.Driver)
	}
	if cfg.Devices.DefaultPort != 4370 {
		t.Errorf("Devices.DefaultPort = %d, want 4370", cfg.Devices.DefaultPort)
	}
	if cfg.Mirror.Enabled {
		t.Error("Mirror.Enabled should default to false")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging defaults = %q/%q, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
agent:
  id: agent-2
  server_url: https://hq.example.com
database:
  path: /var/lib/esslagent/agent.db
api:
  port: 9001
polling:
  interval: 30
streaming:
  initial_sync_hours: 48
  queue_size: 200
devices:
  driver: essl
  default_timeout: 5
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/var/lib/esslagent/agent.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.API.Port != 9001 {
		t.Errorf("API.Port = %d, want 9001", cfg.API.Port)
	}
	if cfg.Polling.Interval != 30 {
		t.Errorf("Polling.Interval = %d, want 30", cfg.Polling.Interval)
	}
	if cfg.Streaming.InitialSyncHours != 48 || cfg.Streaming.QueueSize != 200 {
		t.Errorf("Streaming = %+v", cfg.Streaming)
	}
	if cfg.Devices.Driver != "essl" {
		t.Errorf("Devices.Driver = %q, want essl", cfg.Devices.Driver)
	}
	if cfg.GetDeviceTimeout() != 5*time.Second {
		t.Errorf("GetDeviceTimeout() = %v, want 5s", cfg.GetDeviceTimeout())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ESSLAGENT_AGENT_ID", "env-agent")
	t.Setenv("ESSLAGENT_SERVER_URL", "http://env.example.com")
	t.Setenv("ESSLAGENT_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("ESSLAGENT_API_PORT", "9999")
	t.Setenv("ESSLAGENT_MQTT_HOST", "broker.internal")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agent.ID != "env-agent" {
		t.Errorf("Agent.ID = %q, want env-agent", cfg.Agent.ID)
	}
	if cfg.Agent.ServerURL != "http://env.example.com" {
		t.Errorf("Agent.ServerURL = %q", cfg.Agent.ServerURL)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("API.Port = %d, want 9999", cfg.API.Port)
	}
	if cfg.Mirror.Broker.Host != "broker.internal" {
		t.Errorf("Mirror.Broker.Host = %q", cfg.Mirror.Broker.Host)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing agent id",
			mutate:  func(c *Config) { c.Agent.ID = "" },
			wantErr: "agent.id is required",
		},
		{
			name:    "missing server url",
			mutate:  func(c *Config) { c.Agent.ServerURL = "" },
			wantErr: "agent.server_url is required",
		},
		{
			name:    "server url without scheme",
			mutate:  func(c *Config) { c.Agent.ServerURL = "central.example.com" },
			wantErr: "must start with http:// or https://",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port must be between",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Polling.Interval = 0 },
			wantErr: "polling.interval must be at least",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.Mirror.QoS = 3 },
			wantErr: "mirror.qos must be",
		},
		{
			name:    "unrecognised driver",
			mutate:  func(c *Config) { c.Devices.Driver = "zkteco" },
			wantErr: "devices.driver must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Agent.ID = "agent-1"
			cfg.Agent.ServerURL = "http://central.example.com"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := defaultConfig()

	if cfg.GetPollInterval() != 10*time.Second {
		t.Errorf("GetPollInterval() = %v, want 10s", cfg.GetPollInterval())
	}
	if cfg.GetPollTimeout() != 10*time.Second {
		t.Errorf("GetPollTimeout() = %v, want 10s", cfg.GetPollTimeout())
	}
	if cfg.GetReadTimeout() != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", cfg.GetReadTimeout())
	}
	if cfg.GetIdleTimeout() != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", cfg.GetIdleTimeout())
	}
}
