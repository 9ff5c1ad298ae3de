package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/device"
)

// defaultAttendanceLimit caps attendance reads when the server gives no limit.
const defaultAttendanceLimit = 1000

// Logger is the minimal logging interface the agent package requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// deviceCommands maps server command names to registry operation names.
// The table is fixed: an unmapped name fails at dispatch, before any
// device connection is attempted.
var deviceCommands = map[string]string{
	"get_users":        "get_users",
	"create_user":      "create_user",
	"update_user":      "update_user",
	"delete_user":      "delete_user",
	"get_attendance":   "get_attendance",
	"get_device_info":  "get_device_info",
	"unlock_door":      "unlock_door",
	"clear_attendance": "clear_attendance",
	"restart_device":   "restart_device",
}

// Router turns commands from the central server into registry calls.
//
// Management commands (register_device, unregister_device, list_devices,
// device_health) act on the registry directly and never open a device
// session beyond what a health probe needs. Everything else goes through
// the fixed device command table.
type Router struct {
	registry *device.Registry
	identity Identity
	logger   Logger
}

// NewRouter creates a command router.
func NewRouter(registry *device.Registry, identity Identity) *Router {
	return &Router{
		registry: registry,
		identity: identity,
		logger:   noopLogger{},
	}
}

// SetLogger attaches a logger. Call before concurrent use.
func (r *Router) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// Dispatch handles one command and always produces a result envelope.
// Missing command name, missing device target, and unknown command are
// distinct failures so the server can tell a malformed command from an
// unsupported one.
func (r *Router) Dispatch(ctx context.Context, cmd Command) Result {
	res := Result{
		ID:         cmd.ID,
		AgentID:    r.identity.AgentID,
		Command:    cmd.Command,
		MACAddress: r.identity.MACAddress,
		Timestamp:  nowStamp(),
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}

	if cmd.Command == "" {
		res.Result = failure("missing command", "")
		return res
	}

	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}

	// The target lives at the top level of the envelope; older senders put
	// it in params instead, so fall back there.
	targetID := cmd.DeviceID
	if targetID == "" {
		targetID = stringParam(params, "device_id")
	}
	targetIP := cmd.DeviceIP
	if targetIP == "" {
		targetIP = stringParam(params, "device_ip")
	}
	res.DeviceID = targetID
	res.DeviceIP = targetIP

	switch cmd.Command {
	case "register_device":
		res.Success, res.Result = r.registerDevice(ctx, targetID, targetIP, params)
	case "unregister_device":
		res.Success, res.Result = r.unregisterDevice(ctx, targetID)
	case "list_devices":
		res.Success, res.Result = r.listDevices()
	case "device_health":
		res.Success, res.Result = r.deviceHealth(ctx, targetID, targetIP)
	default:
		r.dispatchDevice(ctx, cmd, targetID, targetIP, params, &res)
	}

	return res
}

// dispatchDevice routes a device command through the operation table.
func (r *Router) dispatchDevice(ctx context.Context, cmd Command, targetID, targetIP string, params map[string]any, res *Result) {
	target := targetID
	if target == "" {
		target = targetIP
	}
	if target == "" {
		res.Result = failure("missing device identifier (device_id or device_ip)", "")
		return
	}

	opName, ok := deviceCommands[cmd.Command]
	if !ok {
		res.Result = failure("Unknown command: "+cmd.Command, string(device.ErrorKindUnknownOperation))
		return
	}

	if cmd.Command == "get_attendance" {
		params = prepareAttendanceParams(params)
	}

	opRes := r.registry.Execute(ctx, target, opName, device.Params(params))

	res.DeviceID = opRes.DeviceID
	res.Success = opRes.Success
	if opRes.Success {
		res.Result = normalise(cmd.Command, opRes.Value)
	} else {
		res.Result = failure(opRes.Error, string(opRes.ErrorKind))
	}
}

// registerDevice adds a terminal to the registry.
func (r *Router) registerDevice(ctx context.Context, targetID, targetIP string, params map[string]any) (bool, map[string]any) {
	rec := &device.Record{
		DeviceID:     targetID,
		Address:      targetIP,
		Port:         intParam(params, "port", 0),
		SharedSecret: intParam(params, "password", 0),
		Name:         stringParam(params, "name"),
		Location:     stringParam(params, "location"),
		Active:       boolParam(params, "is_active", true),
	}

	if err := r.registry.Register(ctx, rec); err != nil {
		return false, failure(err.Error(), "")
	}
	return true, map[string]any{"registered": true, "device": rec.Fields()}
}

// unregisterDevice removes a terminal from the registry.
func (r *Router) unregisterDevice(ctx context.Context, deviceID string) (bool, map[string]any) {
	if deviceID == "" {
		return false, failure("missing device identifier (device_id or device_ip)", "")
	}

	if err := r.registry.Unregister(ctx, deviceID); err != nil {
		return false, failure(err.Error(), "")
	}
	return true, map[string]any{"unregistered": true, "device_id": deviceID}
}

// listDevices returns every registered terminal.
func (r *Router) listDevices() (bool, map[string]any) {
	records := r.registry.List()
	devices := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		devices = append(devices, rec.Fields())
	}
	return true, map[string]any{"devices": devices, "count": len(devices)}
}

// deviceHealth probes a terminal and reports its condition.
func (r *Router) deviceHealth(ctx context.Context, targetID, targetIP string) (bool, map[string]any) {
	target := targetID
	if target == "" {
		target = targetIP
	}
	if target == "" {
		return false, failure("missing device identifier (device_id or device_ip)", "")
	}

	report := r.registry.Health(ctx, target)

	out := map[string]any{
		"device_id": report.DeviceID,
		"device_ip": report.Address,
		"is_online": report.Online,
	}
	if report.LastSeen != nil {
		out["last_seen"] = report.LastSeen.UTC().Format(time.RFC3339)
	}
	if report.Info != nil {
		out["device_info"] = report.Info
	}
	if report.ConnectionError != "" {
		out["connection_error"] = report.ConnectionError
	}
	return true, out
}

// prepareAttendanceParams converts the server's Unix timestamps into
// absolute times and applies the default limit. Conversion happens here,
// at the routing boundary, so operations only ever see typed times.
func prepareAttendanceParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}

	for _, key := range []string{"start_time", "end_time"} {
		if epoch, ok := numberParam(out, key); ok {
			out[key] = time.Unix(epoch, 0).UTC()
		}
	}

	if _, ok := out["limit"]; !ok {
		out["limit"] = defaultAttendanceLimit
	}
	return out
}

// normalise shapes an operation value into the mapping the server
// expects: sequences get a command-specific key plus a count, mappings
// pass through, scalars are wrapped.
func normalise(command string, value any) map[string]any {
	switch v := value.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	case []map[string]any:
		return map[string]any{listKey(command): v, "count": len(v)}
	case []any:
		return map[string]any{listKey(command): v, "count": len(v)}
	default:
		return map[string]any{"value": v}
	}
}

// listKey names the sequence field in a normalised result.
func listKey(command string) string {
	switch command {
	case "get_users":
		return "users"
	case "get_attendance":
		return "logs"
	default:
		return "items"
	}
}

// failure builds the error mapping for a failed result.
func failure(message, kind string) map[string]any {
	out := map[string]any{"error": message}
	if kind != "" {
		out["error_kind"] = kind
	}
	return out
}

// stringParam returns the string value for key, or "".
func stringParam(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// intParam returns the integer value for key, or def.
// JSON numbers decode as float64, so both forms are accepted.
func intParam(params map[string]any, key string, def int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return def
}

// boolParam returns the boolean value for key, or def.
func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// numberParam returns the value for key as an int64 when it is numeric.
func numberParam(params map[string]any, key string) (int64, bool) {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return int64(n), true
		case int64:
			return n, true
		case float64:
			return int64(n), true
		}
	}
	return 0, false
}
