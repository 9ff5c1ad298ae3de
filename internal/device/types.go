package device

import (
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/terminal"
)

// Record is a registered terminal as held in the registry and persisted
// to SQLite. The JSON field names match the agent's wire conventions:
// the address travels as device_ip and the comm key never leaves the agent.
type Record struct {
	// DeviceID is the unique identifier used for routing commands.
	DeviceID string `json:"device_id"`

	// Address is the terminal's IP address or hostname.
	Address string `json:"device_ip"`

	// Port is the terminal's TCP port.
	Port int `json:"port"`

	// SharedSecret is the comm key configured on the terminal.
	SharedSecret int `json:"-"`

	Name     string `json:"name,omitempty"`
	Location string `json:"location,omitempty"`

	// Active marks the device for automatic streaming at startup.
	Active bool `json:"is_active"`

	// LastSeen is the time of the last successful operation against the
	// terminal. Nil until the first success.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the record.
// Callers receive copies so registry internals are never aliased.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.LastSeen != nil {
		t := *r.LastSeen
		clone.LastSeen = &t
	}
	return &clone
}

// TerminalConfig builds the driver configuration for this record.
func (r *Record) TerminalConfig(timeout time.Duration) terminal.Config {
	return terminal.Config{
		Address:      r.Address,
		Port:         r.Port,
		SharedSecret: r.SharedSecret,
		Timeout:      timeout,
	}
}

// Fields returns the record as a generic mapping for command results.
func (r *Record) Fields() map[string]any {
	m := map[string]any{
		"device_id": r.DeviceID,
		"device_ip": r.Address,
		"port":      r.Port,
		"name":      r.Name,
		"location":  r.Location,
		"is_active": r.Active,
	}
	if r.LastSeen != nil {
		m["last_seen"] = r.LastSeen.UTC().Format(time.RFC3339)
	}
	return m
}
