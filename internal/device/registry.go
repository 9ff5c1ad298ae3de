package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/terminal"
)

// ErrorKind classifies an operation failure for the central server.
type ErrorKind string

// Failure classifications carried in operation results.
const (
	ErrorKindUnknownOperation ErrorKind = "unknown_operation"
	ErrorKindParameter        ErrorKind = "parameter_error"
	ErrorKindDevice           ErrorKind = "device_error"
)

// OpResult is the structured outcome of a single device operation.
// Failures are values, never panics: the caller always receives a result
// it can serialise back to the central server.
type OpResult struct {
	DeviceID  string    `json:"device_id"`
	Operation string    `json:"operation"`
	Success   bool      `json:"success"`
	Value     any       `json:"value,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// HealthReport describes the observed condition of a terminal.
type HealthReport struct {
	DeviceID string     `json:"device_id"`
	Address  string     `json:"device_ip"`
	Online   bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Info holds device identity fields when the opportunistic fetch
	// succeeded. A probe can pass while the session handshake fails, in
	// which case Online stays true and ConnectionError explains the gap.
	Info            map[string]any `json:"device_info,omitempty"`
	ConnectionError string         `json:"connection_error,omitempty"`
}

// Logger is the minimal logging interface the registry requires.
// Satisfied by logging.Logger; a no-op implementation is used when unset.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the agent's catalogue of terminals. It persists records
// through a Repository and binds each record to a driver built by the
// Factory. Command traffic is serialised per terminal, never globally: a
// single terminal handles one session at a time while lookups and
// operations against other terminals proceed unblocked.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	// mu guards the maps only. It is never held across device I/O; the
	// per-terminal sessions locks cover that.
	mu       sync.Mutex
	records  map[string]*Record
	caps     map[string]terminal.Capability
	sessions map[string]*sync.Mutex

	repo    Repository
	factory terminal.Factory
	timeout time.Duration
	logger  Logger
}

// NewRegistry creates an empty registry.
//
// Parameters:
//   - repo: Persistence for device records
//   - factory: Builds a driver for each registered terminal
//   - timeout: Per-operation device timeout applied to every driver
func NewRegistry(repo Repository, factory terminal.Factory, timeout time.Duration) *Registry {
	if timeout == 0 {
		timeout = terminal.DefaultTimeout
	}
	return &Registry{
		records:  make(map[string]*Record),
		caps:     make(map[string]terminal.Capability),
		sessions: make(map[string]*sync.Mutex),
		repo:     repo,
		factory:  factory,
		timeout:  timeout,
		logger:   noopLogger{},
	}
}

// SetLogger attaches a logger. Call before concurrent use.
func (r *Registry) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// Load populates the registry from persistent storage.
// Call once at startup, before serving traffic.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		r.records[rec.DeviceID] = rec
		r.caps[rec.DeviceID] = r.factory(rec.TerminalConfig(r.timeout))
		r.sessions[rec.DeviceID] = &sync.Mutex{}
	}

	r.logger.Info("device registry loaded", "count", len(records))
	return nil
}

// Register adds a terminal to the registry and persists it.
//
// Returns:
//   - ErrInvalidRecord: If device_id or address is missing
//   - ErrAlreadyExists: If the device_id is already registered
func (r *Registry) Register(ctx context.Context, rec *Record) error {
	if rec == nil || rec.DeviceID == "" || rec.Address == "" {
		return fmt.Errorf("%w: device_id and device_ip are required", ErrInvalidRecord)
	}
	if rec.Port == 0 {
		rec.Port = terminal.DefaultPort
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.DeviceID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.DeviceID)
	}

	if err := r.repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("persisting device %s: %w", rec.DeviceID, err)
	}

	stored := rec.DeepCopy()
	r.records[stored.DeviceID] = stored
	r.caps[stored.DeviceID] = r.factory(stored.TerminalConfig(r.timeout))
	r.sessions[stored.DeviceID] = &sync.Mutex{}

	r.logger.Info("device registered", "device_id", stored.DeviceID, "address", stored.Address)
	return nil
}

// Unregister removes a terminal, disconnecting its driver first.
//
// Returns:
//   - ErrNotFound: If the device_id is not registered
func (r *Registry) Unregister(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[deviceID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, deviceID)
	}

	if cap, ok := r.caps[deviceID]; ok {
		cap.Disconnect()
	}

	if err := r.repo.Delete(ctx, deviceID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("removing device %s: %w", deviceID, err)
	}

	delete(r.records, deviceID)
	delete(r.caps, deviceID)
	delete(r.sessions, deviceID)

	r.logger.Info("device unregistered", "device_id", deviceID)
	return nil
}

// Get returns a copy of the record for deviceID.
func (r *Registry) Get(deviceID string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[deviceID]
	if !ok {
		return nil, false
	}
	return rec.DeepCopy(), true
}

// List returns copies of all registered records.
func (r *Registry) List() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.DeepCopy())
	}
	return out
}

// ListActive returns copies of records marked for automatic streaming.
func (r *Registry) ListActive() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Record
	for _, rec := range r.records {
		if rec.Active {
			out = append(out, rec.DeepCopy())
		}
	}
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// resolve finds the terminal for an identifier: registered device_id
// first, then registered address, then an ad-hoc throwaway driver so a
// device never has to be registered just to receive one command.
//
// The session lock is nil for ad-hoc drivers; nothing shares them.
// Caller must hold r.mu.
func (r *Registry) resolve(identifier string) (rec *Record, cap terminal.Capability, session *sync.Mutex) {
	if rec, ok := r.records[identifier]; ok {
		return rec, r.caps[rec.DeviceID], r.sessions[rec.DeviceID]
	}
	for id, candidate := range r.records {
		if candidate.Address == identifier {
			return candidate, r.caps[id], r.sessions[id]
		}
	}

	r.logger.Warn("unregistered device addressed directly", "address", identifier)
	cfg := terminal.Config{Address: identifier, Timeout: r.timeout}
	return nil, r.factory(cfg), nil
}

// Execute runs a named operation against the terminal identified by
// device_id or address. The connection is scoped to the call: connect,
// operate, disconnect, in that order, whatever the outcome. The call
// holds only the terminal's own session lock while talking to it, so
// registry lookups and other terminals are never blocked behind slow
// device I/O.
//
// Routing keys (device_id, device_ip, agent_id) are stripped from params
// before the operation sees them. Failures come back classified in the
// result; Execute itself never returns an error.
func (r *Registry) Execute(ctx context.Context, identifier, opName string, params Params) *OpResult {
	r.mu.Lock()
	rec, cap, session := r.resolve(identifier)
	deviceID := identifier
	if rec != nil {
		deviceID = rec.DeviceID
	}
	r.mu.Unlock()

	res := &OpResult{DeviceID: deviceID, Operation: opName}

	op, ok := operations[opName]
	if !ok {
		res.ErrorKind = ErrorKindUnknownOperation
		res.Error = fmt.Sprintf("unknown operation %q (supported: %v)", opName, OperationNames())
		return res
	}

	// One session per terminal at a time.
	if session != nil {
		session.Lock()
		defer session.Unlock()
	}

	if err := cap.Connect(ctx); err != nil {
		res.ErrorKind = ErrorKindDevice
		res.Error = err.Error()
		r.logger.Error("device connect failed", "device_id", deviceID, "operation", opName, "error", err)
		return res
	}
	defer cap.Disconnect()

	value, err := op(ctx, cap, params.clone())
	if err != nil {
		var paramErr *ParamError
		if errors.As(err, &paramErr) {
			res.ErrorKind = ErrorKindParameter
		} else {
			res.ErrorKind = ErrorKindDevice
		}
		res.Error = err.Error()
		r.logger.Error("device operation failed",
			"device_id", deviceID, "operation", opName, "kind", res.ErrorKind, "error", err)
		return res
	}

	res.Success = true
	res.Value = value

	if rec != nil {
		now := time.Now().UTC()
		r.mu.Lock()
		if current, ok := r.records[deviceID]; ok {
			current.LastSeen = &now
		}
		r.mu.Unlock()
		if err := r.repo.UpdateLastSeen(ctx, deviceID, now); err != nil {
			// Persistence of last_seen is best-effort
			r.logger.Warn("last_seen update failed", "device_id", deviceID, "error", err)
		}
	}

	return res
}

// Health checks a terminal's condition without requiring registration.
//
// The check is two-tier: a cheap TCP probe decides Online, then a full
// session with a device-info read is attempted opportunistically. A
// session failure downgrades the report rather than failing it.
func (r *Registry) Health(ctx context.Context, identifier string) *HealthReport {
	r.mu.Lock()
	rec, cap, session := r.resolve(identifier)

	report := &HealthReport{DeviceID: identifier, Address: identifier}
	if rec != nil {
		report.DeviceID = rec.DeviceID
		report.Address = rec.Address
		report.LastSeen = rec.LastSeen
	}
	r.mu.Unlock()

	if session != nil {
		session.Lock()
		defer session.Unlock()
	}

	report.Online = cap.IsReachable(ctx)
	if !report.Online {
		return report
	}

	if err := cap.Connect(ctx); err != nil {
		report.ConnectionError = err.Error()
		return report
	}
	defer cap.Disconnect()

	info, err := cap.DeviceInfo(ctx)
	if err != nil {
		report.ConnectionError = err.Error()
		return report
	}
	report.Info = info

	return report
}
