package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/terminal"
)

// captureServer records posted envelopes and can be switched to reject
// deliveries, for exercising the retry and overflow paths.
type captureServer struct {
	mu        sync.Mutex
	envelopes []Envelope
	failing   bool

	srv *httptest.Server
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		defer cs.mu.Unlock()

		if cs.failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		cs.envelopes = append(cs.envelopes, env)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *captureServer) setFailing(fail bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.failing = fail
}

func (cs *captureServer) received() []Envelope {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]Envelope, len(cs.envelopes))
	copy(out, cs.envelopes)
	return out
}

func (cs *captureServer) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.envelopes)
}

// testEngineConfig keeps every delay tiny so tests finish fast.
func testEngineConfig(serverURL string) Config {
	return Config{
		DeviceID:          "door-1",
		Address:           "192.168.1.10",
		ServerURL:         serverURL,
		SyncWindow:        time.Hour,
		RetryAttempts:     1,
		RetryDelay:        time.Millisecond,
		InterEventDelay:   time.Millisecond,
		ReconnectBackoff:  time.Millisecond,
		ReconnectAttempts: 2,
		ReconnectDelay:    time.Millisecond,
		QueueSize:         1,
		StopTimeout:       time.Second,
	}
}

// waitFor polls until cond holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func newTestEngine(t *testing.T, cfg Config, sim *terminal.Simulator) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineOptions{Config: cfg, Capability: sim})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func TestNewEngineValidation(t *testing.T) {
	sim := terminal.NewSimulator(terminal.Config{Address: "192.168.1.10"})

	tests := []struct {
		name string
		opts EngineOptions
	}{
		{name: "missing capability", opts: EngineOptions{Config: Config{DeviceID: "d", ServerURL: "http://x"}}},
		{name: "missing device id", opts: EngineOptions{Capability: sim, Config: Config{ServerURL: "http://x"}}},
		{name: "missing server url", opts: EngineOptions{Capability: sim, Config: Config{DeviceID: "d"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.opts); err == nil {
				t.Error("NewEngine() should reject incomplete options")
			}
		})
	}
}

func TestEngineHistoricalThenLive(t *testing.T) {
	cs := newCaptureServer(t)
	sim := terminal.NewSimulator(terminal.Config{Address: "192.168.1.10"})

	// Two punches inside the sync window, one outside it
	now := time.Now()
	sim.Emit(terminal.AttendanceRecord{UserID: "E1", Timestamp: now.Add(-30 * time.Minute)})
	sim.Emit(terminal.AttendanceRecord{UserID: "E2", Timestamp: now.Add(-10 * time.Minute)})
	sim.Emit(terminal.AttendanceRecord{UserID: "OLD", Timestamp: now.Add(-48 * time.Hour)})

	engine := newTestEngine(t, testEngineConfig(cs.srv.URL), sim)
	if err := engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := engine.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	waitFor(t, func() bool { return cs.count() == 2 }, "historical backfill")
	waitFor(t, func() bool { return engine.State() == StateLive }, "live state")

	for _, env := range cs.received() {
		if env.EventType != EventHistorical {
			t.Errorf("backfill event type = %q, want %q", env.EventType, EventHistorical)
		}
		if env.DeviceID != "door-1" {
			t.Errorf("DeviceID = %q, want door-1", env.DeviceID)
		}
		if env.EventData.UserID == "OLD" {
			t.Error("record outside the sync window was delivered")
		}
	}

	// Live punch
	sim.Emit(terminal.AttendanceRecord{UserID: "E3", Timestamp: now})
	waitFor(t, func() bool { return cs.count() == 3 }, "realtime delivery")

	last := cs.received()[2]
	if last.EventType != EventRealtime {
		t.Errorf("live event type = %q, want %q", last.EventType, EventRealtime)
	}
	if last.EventData.UserID != "E3" {
		t.Errorf("live event user = %q, want E3", last.EventData.UserID)
	}

	// All envelope times travel as epoch seconds
	if last.Timestamp < now.Unix()-60 || last.Timestamp > now.Unix()+60 {
		t.Errorf("envelope timestamp = %d, not near %d", last.Timestamp, now.Unix())
	}
	if last.EventData.CapturedAt < now.Unix()-60 || last.EventData.CapturedAt > now.Unix()+60 {
		t.Errorf("captured_at = %d, not near %d", last.EventData.CapturedAt, now.Unix())
	}
	if last.EventData.Timestamp != now.Unix() {
		t.Errorf("punch timestamp = %d, want %d", last.EventData.Timestamp, now.Unix())
	}

	st := engine.Status()
	if !st.Running {
		t.Error("Status().Running = false while live")
	}
	if st.Stats.HistoricalSent != 2 || st.Stats.RealtimeSent != 1 {
		t.Errorf("stats = %d historical / %d realtime, want 2/1",
			st.Stats.HistoricalSent, st.Stats.RealtimeSent)
	}

	if err := engine.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if engine.State() != StateStopped {
		t.Errorf("State() after Stop = %q, want %q", engine.State(), StateStopped)
	}
	if err := engine.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestEngineSkipsKeepalives(t *testing.T) {
	cs := newCaptureServer(t)
	sim := terminal.NewSimulator(terminal.Config{Address: "192.168.1.10"})

	engine := newTestEngine(t, testEngineConfig(cs.srv.URL), sim)
	if err := engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer engine.Stop() //nolint:errcheck

	waitFor(t, func() bool { return engine.State() == StateLive }, "live state")

	sim.EmitKeepalive()
	sim.EmitKeepalive()
	sim.Emit(terminal.AttendanceRecord{UserID: "E9", Timestamp: time.Now()})

	waitFor(t, func() bool { return cs.count() == 1 }, "punch delivery")
	if got := cs.received()[0].EventData.UserID; got != "E9" {
		t.Errorf("delivered user = %q, want E9", got)
	}
}

func TestEngineReconnectsAfterSessionDrop(t *testing.T) {
	cs := newCaptureServer(t)
	sim := terminal.NewSimulator(terminal.Config{Address: "192.168.1.10"})

	engine := newTestEngine(t, testEngineConfig(cs.srv.URL), sim)
	if err := engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer engine.Stop() //nolint:errcheck

	waitFor(t, func() bool { return engine.State() == StateLive }, "live state")

	// Drop the session: the capture channel closes and the engine must
	// reconnect and re-open capture on its own.
	sim.Disconnect()
	waitFor(t, func() bool { return engine.State() == StateLive }, "return to live after drop")

	sim.Emit(terminal.AttendanceRecord{UserID: "E4", Timestamp: time.Now()})
	waitFor(t, func() bool { return cs.count() == 1 }, "delivery after reconnect")
}

func TestEngineReconnectExhaustion(t *testing.T) {
	cs := newCaptureServer(t)
	sim := terminal.NewSimulator(terminal.Config{Address: "192.168.1.10"})
	sim.SetConnectError(errors.New("host unreachable"))

	engine := newTestEngine(t, testEngineConfig(cs.srv.URL), sim)
	if err := engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, func() bool { return engine.State() == StateError }, "error state")

	st := engine.Status()
	if st.Running {
		t.Error("Status().Running = true after reconnect exhaustion")
	}
	if len(st.Stats.Errors) == 0 {
		t.Error("error ring should record the failed attempts")
	}

	// An errored engine still stops cleanly
	if err := engine.Stop(); err != nil {
		t.Errorf("Stop() after error = %v", err)
	}
}

func TestEngineOverflowQueue(t *testing.T) {
	cs := newCaptureServer(t)
	cs.setFailing(true)
	sim := terminal.NewSimulator(terminal.Config{Address: "192.168.1.10"})

	engine := newTestEngine(t, testEngineConfig(cs.srv.URL), sim)
	if err := engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer engine.Stop() //nolint:errcheck

	waitFor(t, func() bool { return engine.State() == StateLive }, "live state")

	// Queue capacity is 1: the first failure queues, the second is dropped
	sim.Emit(terminal.AttendanceRecord{UserID: "E1", Timestamp: time.Now()})
	waitFor(t, func() bool { return engine.Status().QueueDepth == 1 }, "first failure queued")

	sim.Emit(terminal.AttendanceRecord{UserID: "E2", Timestamp: time.Now()})
	waitFor(t, func() bool { return engine.Status().Stats.EventsFailed == 2 }, "second failure recorded")
	if depth := engine.Status().QueueDepth; depth != 1 {
		t.Errorf("QueueDepth = %d, want 1 (overflow must drop, not grow)", depth)
	}

	// Recovery: the next success flushes the queue
	cs.setFailing(false)
	sim.Emit(terminal.AttendanceRecord{UserID: "E3", Timestamp: time.Now()})
	waitFor(t, func() bool { return cs.count() == 2 }, "flush after recovery")
	waitFor(t, func() bool { return engine.Status().QueueDepth == 0 }, "queue drained")

	var users []string
	for _, env := range cs.received() {
		users = append(users, env.EventData.UserID)
	}
	// E3 triggered the flush, so it lands first; E2 was dropped
	if len(users) != 2 || users[0] != "E3" || users[1] != "E1" {
		t.Errorf("delivered users = %v, want [E3 E1]", users)
	}
}

func TestEngineSinkReceivesEveryCapture(t *testing.T) {
	cs := newCaptureServer(t)
	sim := terminal.NewSimulator(terminal.Config{Address: "192.168.1.10"})

	var sinkMu sync.Mutex
	var seen []Envelope
	sink := sinkFunc(func(env Envelope) {
		sinkMu.Lock()
		seen = append(seen, env)
		sinkMu.Unlock()
	})

	engine, err := NewEngine(EngineOptions{
		Config:     testEngineConfig(cs.srv.URL),
		Capability: sim,
		Sink:       sink,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer engine.Stop() //nolint:errcheck

	waitFor(t, func() bool { return engine.State() == StateLive }, "live state")
	sim.Emit(terminal.AttendanceRecord{UserID: "E5", Timestamp: time.Now()})

	waitFor(t, func() bool {
		sinkMu.Lock()
		defer sinkMu.Unlock()
		return len(seen) == 1
	}, "sink publication")
}

// sinkFunc adapts a function to the EventSink interface.
type sinkFunc func(Envelope)

func (f sinkFunc) PublishEvent(env Envelope) { f(env) }
