package agent

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/device"
)

// commandQueue is a fake central server: it hands out queued commands and
// records every submitted result.
type commandQueue struct {
	mu       sync.Mutex
	pending  []Command
	results  []Result
	rejectGC bool

	srv *httptest.Server
}

func newCommandQueue(t *testing.T) *commandQueue {
	t.Helper()
	q := &commandQueue{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/get_command", func(w http.ResponseWriter, r *http.Request) {
		var req pollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		q.mu.Lock()
		defer q.mu.Unlock()

		if q.rejectGC {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if len(q.pending) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		cmd := q.pending[0]
		q.pending = q.pending[1:]

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pollResponse{Data: &cmd}) //nolint:errcheck
	})
	mux.HandleFunc("/api/v1/send_result", func(w http.ResponseWriter, r *http.Request) {
		var res Result
		if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		q.mu.Lock()
		q.results = append(q.results, res)
		q.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	q.srv = httptest.NewServer(mux)
	t.Cleanup(q.srv.Close)
	return q
}

func (q *commandQueue) push(cmd Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, cmd)
}

func (q *commandQueue) submitted() []Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Result, len(q.results))
	copy(out, q.results)
	return out
}

func (q *commandQueue) setReject(reject bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rejectGC = reject
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

func newTestPoller(t *testing.T, serverURL string) *Poller {
	t.Helper()
	sims := newCapturingFactory()
	registry := device.NewRegistry(newMemRepo(), sims.factory, time.Second)
	router := NewRouter(registry, testIdentity)

	poller, err := NewPoller(PollerConfig{
		ServerURL: serverURL,
		Identity:  testIdentity,
		Interval:  20 * time.Millisecond,
		Timeout:   time.Second,
	}, router)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	return poller
}

func TestNewPollerValidation(t *testing.T) {
	if _, err := NewPoller(PollerConfig{ServerURL: "http://x"}, nil); err == nil {
		t.Error("NewPoller() without a router should fail")
	}
	if _, err := NewPoller(PollerConfig{}, &Router{}); err == nil {
		t.Error("NewPoller() without a server URL should fail")
	}
}

func TestPollerLifecycle(t *testing.T) {
	q := newCommandQueue(t)
	poller := newTestPoller(t, q.srv.URL)

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := poller.Start(); !errors.Is(err, ErrPollerRunning) {
		t.Errorf("second Start() error = %v, want ErrPollerRunning", err)
	}

	if err := poller.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := poller.Stop(); !errors.Is(err, ErrPollerStopped) {
		t.Errorf("second Stop() error = %v, want ErrPollerStopped", err)
	}

	if poller.Status().Running {
		t.Error("Status().Running = true after Stop")
	}
}

func TestPollerExecutesCommand(t *testing.T) {
	q := newCommandQueue(t)
	q.push(Command{
		ID:      "cmd-1",
		Command: "register_device",
		Params:  map[string]any{"device_id": "door-1", "device_ip": "192.168.1.10"},
	})

	poller := newTestPoller(t, q.srv.URL)
	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer poller.Stop() //nolint:errcheck

	waitFor(t, func() bool { return len(q.submitted()) == 1 }, "result submission")

	res := q.submitted()[0]
	if res.ID != "cmd-1" {
		t.Errorf("result ID = %q, want cmd-1", res.ID)
	}
	if !res.Success {
		t.Errorf("result not successful: %v", res.Result)
	}
	if res.AgentID != testIdentity.AgentID {
		t.Errorf("AgentID = %q, want %q", res.AgentID, testIdentity.AgentID)
	}
	if res.MACAddress != testIdentity.MACAddress {
		t.Errorf("MACAddress = %q, want %q", res.MACAddress, testIdentity.MACAddress)
	}

	st := poller.Status()
	if st.CommandsReceived != 1 || st.CommandsSucceeded != 1 || st.CommandsFailed != 0 {
		t.Errorf("counters = %d/%d/%d, want 1/1/0",
			st.CommandsReceived, st.CommandsSucceeded, st.CommandsFailed)
	}
	if st.LastCommandAt == nil {
		t.Error("LastCommandAt should be stamped")
	}
}

func TestPollerRecordsFailedCommand(t *testing.T) {
	q := newCommandQueue(t)
	q.push(Command{ID: "cmd-1", Command: "get_users"}) // no device target

	poller := newTestPoller(t, q.srv.URL)
	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer poller.Stop() //nolint:errcheck

	waitFor(t, func() bool { return len(q.submitted()) == 1 }, "result submission")

	res := q.submitted()[0]
	if res.Success {
		t.Error("command without a device target should fail")
	}
	waitFor(t, func() bool { return poller.Status().CommandsFailed == 1 }, "failure counter")
}

func TestPollerSurvivesServerErrors(t *testing.T) {
	q := newCommandQueue(t)
	q.setReject(true)

	poller := newTestPoller(t, q.srv.URL)
	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer poller.Stop() //nolint:errcheck

	waitFor(t, func() bool {
		st := poller.Status()
		return st.TotalPolls >= 2 && len(st.Errors) > 0
	}, "polling through server errors")

	// Recovery: once the server behaves, commands flow again
	q.setReject(false)
	q.push(Command{ID: "cmd-1", Command: "list_devices"})
	waitFor(t, func() bool { return len(q.submitted()) == 1 }, "delivery after recovery")
}

func TestPollerIdlePolls(t *testing.T) {
	q := newCommandQueue(t)
	poller := newTestPoller(t, q.srv.URL)

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer poller.Stop() //nolint:errcheck

	waitFor(t, func() bool { return poller.Status().TotalPolls >= 3 }, "repeated idle polls")

	st := poller.Status()
	if st.CommandsReceived != 0 {
		t.Errorf("CommandsReceived = %d, want 0 on an empty queue", st.CommandsReceived)
	}
	if len(st.Errors) != 0 {
		t.Errorf("idle 204 polls should not record errors, got %v", st.Errors)
	}
	if st.LastPollAt == nil {
		t.Error("LastPollAt should be stamped")
	}
}
