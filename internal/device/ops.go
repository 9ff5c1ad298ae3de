package device

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/terminal"
)

// defaultAttendanceLimit caps attendance reads when the caller gives no limit.
const defaultAttendanceLimit = 1000

// defaultUnlockSeconds is the door release duration when unspecified.
const defaultUnlockSeconds = 5

// Params carries operation parameters after routing keys are stripped.
// Values arrive from JSON, so numbers are float64 unless a caller built
// the map directly.
type Params map[string]any

// clone returns a copy with the routing keys removed. The keys identify
// the target, not the operation, and must never reach a driver.
func (p Params) clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	delete(out, "device_id")
	delete(out, "device_ip")
	delete(out, "agent_id")
	return out
}

// ParamError reports a missing or malformed operation parameter.
type ParamError struct {
	Key    string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Key, e.Reason)
}

// Operation executes one named action against a connected terminal.
// The returned value is JSON-friendly: a map, a []map, or a scalar.
type Operation func(ctx context.Context, cap terminal.Capability, p Params) (any, error)

// operations is the fixed command surface. Lookups happen by name at
// dispatch time; unmapped names fail before any device work starts.
var operations = map[string]Operation{
	"get_users":        opGetUsers,
	"create_user":      opCreateUser,
	"update_user":      opUpdateUser,
	"delete_user":      opDeleteUser,
	"get_attendance":   opGetAttendance,
	"get_device_info":  opGetDeviceInfo,
	"unlock_door":      opUnlockDoor,
	"clear_attendance": opClearAttendance,
	"restart_device":   opRestartDevice,
}

// OperationNames returns the supported operation names, sorted.
func OperationNames() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func opGetUsers(ctx context.Context, cap terminal.Capability, _ Params) (any, error) {
	users, err := cap.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, u.Fields())
	}
	return out, nil
}

func opCreateUser(ctx context.Context, cap terminal.Capability, p Params) (any, error) {
	name, err := p.requireString("name")
	if err != nil {
		return nil, err
	}

	u := terminal.User{
		Name:      name,
		UserID:    p.optionalString("user_id", ""),
		Privilege: p.optionalInt("privilege", 0),
		Password:  p.optionalString("password", ""),
		GroupID:   p.optionalString("group_id", ""),
		Card:      p.optionalString("card", ""),
	}

	created, err := cap.CreateUser(ctx, u)
	if err != nil {
		return nil, err
	}
	return created.Fields(), nil
}

func opUpdateUser(ctx context.Context, cap terminal.Capability, p Params) (any, error) {
	uid, err := p.requireInt("uid")
	if err != nil {
		return nil, err
	}

	u := terminal.User{
		UID:       uid,
		UserID:    p.optionalString("user_id", ""),
		Name:      p.optionalString("name", ""),
		Privilege: p.optionalInt("privilege", 0),
		Password:  p.optionalString("password", ""),
		GroupID:   p.optionalString("group_id", ""),
		Card:      p.optionalString("card", ""),
	}

	updated, err := cap.UpdateUser(ctx, u)
	if err != nil {
		return nil, err
	}
	return updated.Fields(), nil
}

func opDeleteUser(ctx context.Context, cap terminal.Capability, p Params) (any, error) {
	uid, err := p.requireInt("uid")
	if err != nil {
		return nil, err
	}
	if err := cap.DeleteUser(ctx, uid); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true, "uid": uid}, nil
}

func opGetAttendance(ctx context.Context, cap terminal.Capability, p Params) (any, error) {
	q := terminal.AttendanceQuery{
		UserID: p.optionalString("user_id", ""),
		Limit:  p.optionalInt("limit", defaultAttendanceLimit),
	}

	since, err := p.optionalTime("start_time")
	if err != nil {
		return nil, err
	}
	q.Since = since

	until, err := p.optionalTime("end_time")
	if err != nil {
		return nil, err
	}
	q.Until = until

	records, err := cap.Attendance(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, r.Fields())
	}
	return out, nil
}

func opGetDeviceInfo(ctx context.Context, cap terminal.Capability, _ Params) (any, error) {
	info, err := cap.DeviceInfo(ctx)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func opUnlockDoor(ctx context.Context, cap terminal.Capability, p Params) (any, error) {
	seconds := p.optionalInt("duration", defaultUnlockSeconds)
	if err := cap.Unlock(ctx, seconds); err != nil {
		return nil, err
	}
	return map[string]any{"unlocked": true, "duration": seconds}, nil
}

func opClearAttendance(ctx context.Context, cap terminal.Capability, _ Params) (any, error) {
	if err := cap.ClearAttendance(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"cleared": true}, nil
}

func opRestartDevice(ctx context.Context, cap terminal.Capability, _ Params) (any, error) {
	if err := cap.Restart(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"restarting": true}, nil
}

// requireString returns the string value for key or a ParamError.
func (p Params) requireString(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", &ParamError{Key: key, Reason: "required"}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &ParamError{Key: key, Reason: "must be a non-empty string"}
	}
	return s, nil
}

// optionalString returns the string value for key, or def when absent.
func (p Params) optionalString(key, def string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// requireInt returns the integer value for key or a ParamError.
// JSON numbers decode as float64, so both forms are accepted.
func (p Params) requireInt(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, &ParamError{Key: key, Reason: "required"}
	}
	n, ok := asInt(v)
	if !ok {
		return 0, &ParamError{Key: key, Reason: "must be an integer"}
	}
	return n, nil
}

// optionalInt returns the integer value for key, or def when absent or
// not a number.
func (p Params) optionalInt(key string, def int) int {
	if v, ok := p[key]; ok {
		if n, ok := asInt(v); ok {
			return n
		}
	}
	return def
}

// optionalTime returns the time value for key, or nil when absent.
// Accepts time.Time (set by the command router) and Unix epoch numbers.
func (p Params) optionalTime(key string) (*time.Time, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case time.Time:
		return &t, nil
	case float64:
		ts := time.Unix(int64(t), 0).UTC()
		return &ts, nil
	case int64:
		ts := time.Unix(t, 0).UTC()
		return &ts, nil
	case int:
		ts := time.Unix(int64(t), 0).UTC()
		return &ts, nil
	default:
		return nil, &ParamError{Key: key, Reason: "must be a Unix timestamp"}
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
