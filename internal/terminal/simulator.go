package terminal

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"
)

// liveBuffer is the capacity of the simulator's live punch channel.
// Emit drops punches once a slow consumer falls this far behind.
const liveBuffer = 64

// Simulator is an in-memory Capability used by the simulator driver mode
// and by tests. It behaves like a small terminal: enrolled users, an
// attendance log, and a live punch feed driven by Emit.
//
// The failure-injection fields are read at the start of each call and may
// be set from tests before or between operations.
type Simulator struct {
	cfg Config

	mu         sync.Mutex
	connected  bool
	users      map[int]User
	nextUID    int
	log        []AttendanceRecord
	live       chan *AttendanceRecord
	info       map[string]any
	clock      func() time.Time
	reachable  bool
	connectErr error

	// FailConnects makes the next N Connect calls fail. Used to exercise
	// reconnection paths.
	FailConnects int
}

// NewSimulator creates a disconnected simulator for the given configuration.
func NewSimulator(cfg Config) *Simulator {
	cfg = cfg.withDefaults()
	return &Simulator{
		cfg:       cfg,
		users:     make(map[int]User),
		nextUID:   1,
		reachable: true,
		clock:     time.Now,
		info: map[string]any{
			"device_name":      "SIM-100",
			"serial_number":    "SIM" + cfg.Address,
			"firmware_version": "6.60",
			"platform":         "simulator",
		},
	}
}

// SetFailConnects makes the next n Connect calls fail.
func (s *Simulator) SetFailConnects(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailConnects = n
}

// SetReachable controls the IsReachable result.
func (s *Simulator) SetReachable(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reachable = ok
}

// SetConnectError makes every Connect fail with err until cleared with nil.
func (s *Simulator) SetConnectError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

// Connect establishes the simulated session. Idempotent.
func (s *Simulator) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.FailConnects > 0 {
		s.FailConnects--
		return newDeviceError(s.cfg.Address, "connect", errors.New("simulated connect failure"))
	}
	if s.connectErr != nil {
		return newDeviceError(s.cfg.Address, "connect", s.connectErr)
	}
	s.connected = true
	return nil
}

// Disconnect tears down the session and closes any live feed.
// Safe to call when not connected.
func (s *Simulator) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	if s.live != nil {
		close(s.live)
		s.live = nil
	}
}

// IsReachable reports the injected reachability state.
func (s *Simulator) IsReachable(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable
}

// DeviceInfo returns static identity fields plus live counters.
func (s *Simulator) DeviceInfo(_ context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, newDeviceError(s.cfg.Address, "get_device_info", ErrNotConnected)
	}

	info := make(map[string]any, len(s.info)+2)
	for k, v := range s.info {
		info[k] = v
	}
	info["user_count"] = len(s.users)
	info["attendance_count"] = len(s.log)
	return info, nil
}

// ListUsers returns all enrolled users ordered by UID.
func (s *Simulator) ListUsers(_ context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, newDeviceError(s.cfg.Address, "get_users", ErrNotConnected)
	}

	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UID < users[j].UID })
	return users, nil
}

// CreateUser enrols a new user. The UID is assigned by the terminal; a
// duplicate user_id is rejected.
func (s *Simulator) CreateUser(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return User{}, newDeviceError(s.cfg.Address, "create_user", ErrNotConnected)
	}
	for _, existing := range s.users {
		if existing.UserID == u.UserID {
			return User{}, newDeviceError(s.cfg.Address, "create_user", ErrUserExists)
		}
	}

	u.UID = s.nextUID
	s.nextUID++
	if u.UserID == "" {
		u.UserID = strconv.Itoa(u.UID)
	}
	s.users[u.UID] = u
	return u, nil
}

// UpdateUser merges the supplied fields into the existing record.
// Empty strings and zero privilege leave the stored value untouched.
func (s *Simulator) UpdateUser(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return User{}, newDeviceError(s.cfg.Address, "update_user", ErrNotConnected)
	}
	existing, ok := s.users[u.UID]
	if !ok {
		return User{}, newDeviceError(s.cfg.Address, "update_user", ErrUserNotFound)
	}

	if u.Name != "" {
		existing.Name = u.Name
	}
	if u.Privilege != 0 {
		existing.Privilege = u.Privilege
	}
	if u.Password != "" {
		existing.Password = u.Password
	}
	if u.GroupID != "" {
		existing.GroupID = u.GroupID
	}
	if u.Card != "" {
		existing.Card = u.Card
	}
	if u.UserID != "" {
		existing.UserID = u.UserID
	}
	s.users[u.UID] = existing
	return existing, nil
}

// DeleteUser removes the user with the given UID.
func (s *Simulator) DeleteUser(_ context.Context, uid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return newDeviceError(s.cfg.Address, "delete_user", ErrNotConnected)
	}
	if _, ok := s.users[uid]; !ok {
		return newDeviceError(s.cfg.Address, "delete_user", ErrUserNotFound)
	}
	delete(s.users, uid)
	return nil
}

// Attendance returns the filtered log, newest first, capped at q.Limit.
func (s *Simulator) Attendance(_ context.Context, q AttendanceQuery) ([]AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, newDeviceError(s.cfg.Address, "get_attendance", ErrNotConnected)
	}

	var out []AttendanceRecord
	for _, r := range s.log {
		if q.Since != nil && r.Timestamp.Before(*q.Since) {
			continue
		}
		if q.Until != nil && r.Timestamp.After(*q.Until) {
			continue
		}
		if q.UserID != "" && r.UserID != q.UserID {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// LiveCapture opens the live punch feed. The channel closes on Disconnect.
func (s *Simulator) LiveCapture(_ context.Context) (<-chan *AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, newDeviceError(s.cfg.Address, "live_capture", ErrNotConnected)
	}
	if s.live == nil {
		s.live = make(chan *AttendanceRecord, liveBuffer)
	}
	return s.live, nil
}

// ClearAttendance wipes the attendance log.
func (s *Simulator) ClearAttendance(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return newDeviceError(s.cfg.Address, "clear_attendance", ErrNotConnected)
	}
	s.log = nil
	return nil
}

// Unlock validates the duration the way a real terminal would.
func (s *Simulator) Unlock(_ context.Context, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return newDeviceError(s.cfg.Address, "unlock_door", ErrNotConnected)
	}
	if seconds < 1 || seconds > 60 {
		return newDeviceError(s.cfg.Address, "unlock_door", ErrInvalidDuration)
	}
	return nil
}

// Restart drops the session, as a rebooting terminal does.
func (s *Simulator) Restart(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return newDeviceError(s.cfg.Address, "restart_device", ErrNotConnected)
	}
	s.connected = false
	if s.live != nil {
		close(s.live)
		s.live = nil
	}
	return nil
}

// Emit records a punch and pushes it to any open live feed.
// Punches are dropped from the feed, not the log, when the buffer is full.
func (s *Simulator) Emit(r AttendanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = s.clock()
	}
	s.log = append(s.log, r)

	if s.live != nil {
		rec := r
		select {
		case s.live <- &rec:
		default:
		}
	}
}

// EmitKeepalive pushes a nil entry to the live feed, mimicking the idle
// ticks a real capture session produces.
func (s *Simulator) EmitKeepalive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live != nil {
		select {
		case s.live <- nil:
		default:
		}
	}
}
