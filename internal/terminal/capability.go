package terminal

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Default connection parameters for ESSL/ZK-style terminals.
const (
	// DefaultPort is the standard TCP port the terminals listen on.
	DefaultPort = 4370

	// DefaultSecret is the factory comm key.
	DefaultSecret = 0

	// DefaultTimeout is the per-operation socket timeout.
	DefaultTimeout = 10 * time.Second

	// probeTimeout bounds the cheap reachability check.
	probeTimeout = 3 * time.Second
)

// Config describes how to reach a single terminal.
type Config struct {
	// Address is the terminal's IP address or hostname.
	Address string

	// Port is the TCP port. Zero means DefaultPort.
	Port int

	// SharedSecret is the comm key configured on the terminal.
	SharedSecret int

	// Timeout is the per-operation timeout. Zero means DefaultTimeout.
	Timeout time.Duration
}

// withDefaults returns cfg with zero fields replaced by package defaults.
func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// User is a person enrolled on a terminal.
type User struct {
	// UID is the terminal's internal serial number for the record.
	UID int `json:"uid"`

	// UserID is the employee identifier shown on the terminal.
	UserID string `json:"user_id"`

	Name      string `json:"name"`
	Privilege int    `json:"privilege"`
	Password  string `json:"password,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	Card      string `json:"card,omitempty"`
}

// Fields returns the user as a generic mapping for command results.
func (u User) Fields() map[string]any {
	return map[string]any{
		"uid":       u.UID,
		"user_id":   u.UserID,
		"name":      u.Name,
		"privilege": u.Privilege,
		"card":      u.Card,
	}
}

// AttendanceRecord is a single punch read from a terminal.
type AttendanceRecord struct {
	// UID is the terminal's internal serial for the enrolled user, when known.
	UID int `json:"uid"`

	// UserID is the employee identifier that punched.
	UserID string `json:"user_id"`

	// Timestamp is the punch time as reported by the terminal.
	Timestamp time.Time `json:"timestamp"`

	// Status is the verification mode (fingerprint, card, ...).
	Status int `json:"status"`

	// Punch is the in/out direction code.
	Punch int `json:"punch"`
}

// Fields returns the record as a generic mapping for command results.
// The timestamp is rendered in RFC 3339 so results survive JSON transit.
func (r AttendanceRecord) Fields() map[string]any {
	return map[string]any{
		"uid":       r.UID,
		"user_id":   r.UserID,
		"timestamp": r.Timestamp.Format(time.RFC3339),
		"status":    r.Status,
		"punch":     r.Punch,
	}
}

// AttendanceQuery filters an attendance read.
type AttendanceQuery struct {
	// Since excludes records before this time when non-nil.
	Since *time.Time

	// Until excludes records after this time when non-nil.
	Until *time.Time

	// UserID restricts to a single employee when non-empty.
	UserID string

	// Limit caps the number of records returned. Zero means no cap.
	Limit int
}

// Capability is the surface the agent requires from a terminal driver.
//
// The wire protocol itself lives behind this interface; the agent ships
// with an in-memory simulator and accepts real drivers through a Factory.
//
// Contract:
//   - Connect is idempotent; calling it while connected is a no-op.
//   - Disconnect is safe to call when not connected.
//   - All other methods require a prior successful Connect and return a
//     *DeviceError when the terminal misbehaves.
//   - Attendance returns records sorted newest-first, after filtering and
//     before the limit is applied.
//   - LiveCapture returns a channel of punches that closes when the
//     connection drops or ctx is cancelled. Nil entries are keepalives and
//     must be skipped. A closed channel cannot be restarted; call
//     LiveCapture again after reconnecting.
type Capability interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsReachable(ctx context.Context) bool

	DeviceInfo(ctx context.Context) (map[string]any, error)

	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, u User) (User, error)
	DeleteUser(ctx context.Context, uid int) error

	Attendance(ctx context.Context, q AttendanceQuery) ([]AttendanceRecord, error)
	LiveCapture(ctx context.Context) (<-chan *AttendanceRecord, error)
	ClearAttendance(ctx context.Context) error

	Unlock(ctx context.Context, seconds int) error
	Restart(ctx context.Context) error
}

// Factory builds a Capability for a terminal configuration.
// The returned value is not yet connected.
type Factory func(cfg Config) Capability

// Probe reports whether a TCP connection to the terminal can be opened.
// It is deliberately cheap: a dial and an immediate close, bounded by a
// short timeout regardless of the configured operation timeout.
func Probe(ctx context.Context, address string, port int) bool {
	if port == 0 {
		port = DefaultPort
	}
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close() //nolint:errcheck // Probe only; nothing was written
	return true
}
