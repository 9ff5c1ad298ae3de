package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/terminal"
)

// State is the lifecycle phase of a stream engine.
type State string

// Stream engine states.
const (
	// StateInitializing is the state between Start and the first sync.
	StateInitializing State = "initializing"

	// StateSyncing means the historical backfill is in progress.
	StateSyncing State = "syncing"

	// StateLive means punches are being captured in real time.
	StateLive State = "live"

	// StateReconnecting means the device connection dropped and is being
	// re-established.
	StateReconnecting State = "reconnecting"

	// StateStopped is the terminal state after Stop.
	StateStopped State = "stopped"

	// StateError means reconnection attempts were exhausted. The engine
	// goroutine has exited; a manual stop and start is required.
	StateError State = "error"
)

// Engine defaults. Config zero values fall back to these.
const (
	defaultEndpoint          = "/events/attendance"
	defaultSyncWindow        = 24 * time.Hour
	defaultRetryAttempts     = 3
	defaultRetryDelay        = 5 * time.Second
	defaultInterEventDelay   = 100 * time.Millisecond
	defaultReconnectBackoff  = 5 * time.Second
	defaultReconnectAttempts = 3
	defaultReconnectDelay    = 10 * time.Second
	defaultQueueSize         = 1000
	defaultStopTimeout       = 10 * time.Second
	defaultHTTPTimeout       = 10 * time.Second
)

// Config tunes one stream engine.
type Config struct {
	// DeviceID labels every envelope this engine emits.
	DeviceID string

	// Address identifies the terminal, for logs and status only.
	Address string

	// ServerURL is the central server base URL, without trailing slash.
	ServerURL string

	// Endpoint is the path events are posted to.
	Endpoint string

	// SyncWindow is the historical lookback on stream start.
	SyncWindow time.Duration

	// RetryAttempts / RetryDelay govern per-event delivery.
	RetryAttempts int
	RetryDelay    time.Duration

	// InterEventDelay paces historical posts so the backfill never
	// floods the server.
	InterEventDelay time.Duration

	// ReconnectBackoff is the pause before the first reconnect attempt,
	// ReconnectDelay the pause between attempts, ReconnectAttempts the
	// cap before the engine gives up.
	ReconnectBackoff  time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// QueueSize caps the overflow queue of undeliverable events.
	QueueSize int

	// StopTimeout bounds the wait for the goroutine on Stop.
	StopTimeout time.Duration
}

// withDefaults returns cfg with zero fields replaced by engine defaults.
func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = defaultEndpoint
	}
	if c.SyncWindow == 0 {
		c.SyncWindow = defaultSyncWindow
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.InterEventDelay == 0 {
		c.InterEventDelay = defaultInterEventDelay
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = defaultReconnectBackoff
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = defaultReconnectAttempts
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = defaultStopTimeout
	}
	return c
}

// Logger is the minimal logging interface the engine requires.
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

// Status is a point-in-time view of one stream.
type Status struct {
	DeviceID   string        `json:"device_id"`
	Address    string        `json:"device_ip"`
	State      State         `json:"mode"`
	Running    bool          `json:"is_running"`
	QueueDepth int           `json:"queue_depth"`
	Stats      StatsSnapshot `json:"stats"`
}

// EngineOptions configures a new Engine.
type EngineOptions struct {
	Config     Config
	Capability terminal.Capability

	// HTTPClient is optional; a client with a 10s timeout is used when nil.
	HTTPClient *http.Client

	// Logger is optional; logging is disabled when nil.
	Logger Logger

	// Sink is optional; every captured envelope is also published here.
	Sink EventSink
}

// Engine streams attendance events from one terminal to the central
// server. It owns a dedicated device session, separate from the
// registry's command session, so long-lived capture never blocks
// commands.
//
// Lifecycle: Initializing -> Syncing -> Live, bouncing through
// Reconnecting on connection loss. Stop moves to Stopped; exhausted
// reconnection ends in Error with the goroutine exited.
type Engine struct {
	cfg    Config
	cap    terminal.Capability
	client *http.Client
	logger Logger
	sink   EventSink

	mu      sync.Mutex
	state   State
	started bool
	stopped bool
	cancel  context.CancelFunc
	queue   []Envelope

	done  chan struct{}
	stats *Stats
}

// NewEngine creates a stream engine for one terminal.
//
// Returns an error if the configuration is incomplete.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Capability == nil {
		return nil, fmt.Errorf("stream: capability is required")
	}
	if opts.Config.DeviceID == "" {
		return nil, fmt.Errorf("stream: device_id is required")
	}
	if opts.Config.ServerURL == "" {
		return nil, fmt.Errorf("stream: server_url is required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Engine{
		cfg:    opts.Config.withDefaults(),
		cap:    opts.Capability,
		client: client,
		logger: logger,
		sink:   opts.Sink,
		state:  StateInitializing,
		done:   make(chan struct{}),
		stats:  newStats(),
	}, nil
}

// Start launches the stream goroutine.
//
// Returns ErrAlreadyRunning if Start was already called. A stopped or
// errored engine cannot be restarted; build a new one.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyRunning
	}
	e.started = true
	e.state = StateInitializing

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	go e.run(ctx)

	e.logger.Info("stream started", "device_id", e.cfg.DeviceID, "address", e.cfg.Address)
	return nil
}

// Stop halts the stream and disconnects the device session.
//
// The wait for the goroutine is bounded by StopTimeout; on timeout the
// engine is still marked stopped and ErrStopTimeout is returned.
// Returns ErrNotRunning if the engine never started or already stopped.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	cancel()

	var err error
	select {
	case <-e.done:
	case <-time.After(e.cfg.StopTimeout):
		e.logger.Warn("stream goroutine did not exit in time", "device_id", e.cfg.DeviceID)
		err = ErrStopTimeout
	}

	e.cap.Disconnect()
	e.setState(StateStopped)

	e.logger.Info("stream stopped", "device_id", e.cfg.DeviceID)
	return err
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns a point-in-time view of the stream.
func (e *Engine) Status() Status {
	e.mu.Lock()
	state := e.state
	running := e.started && !e.stopped && state != StateError
	depth := len(e.queue)
	e.mu.Unlock()

	return Status{
		DeviceID:   e.cfg.DeviceID,
		Address:    e.cfg.Address,
		State:      state,
		Running:    running,
		QueueDepth: depth,
		Stats:      e.stats.Snapshot(),
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// run is the stream goroutine: historical backfill first, then the live
// capture loop until cancellation or reconnect exhaustion.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	if !e.syncHistorical(ctx) {
		return
	}
	e.liveLoop(ctx)
}

// syncHistorical backfills the lookback window. The backfill itself is
// best-effort: a read failure is logged and live capture proceeds, since
// a missed backfill can be recovered later but live punches cannot.
// Returns false only when the engine should not continue to live capture.
func (e *Engine) syncHistorical(ctx context.Context) bool {
	e.setState(StateSyncing)

	if err := e.cap.Connect(ctx); err != nil {
		e.logger.Warn("initial connect failed", "device_id", e.cfg.DeviceID, "error", err)
		e.stats.RecordError(fmt.Sprintf("initial connect: %v", err))
		return e.reconnect(ctx)
	}

	since := time.Now().Add(-e.cfg.SyncWindow)
	records, err := e.cap.Attendance(ctx, terminal.AttendanceQuery{Since: &since})
	if err != nil {
		e.logger.Warn("historical sync failed, continuing to live capture",
			"device_id", e.cfg.DeviceID, "error", err)
		e.stats.RecordError(fmt.Sprintf("historical sync: %v", err))
		return true
	}

	e.logger.Info("historical sync", "device_id", e.cfg.DeviceID, "records", len(records))

	for _, rec := range records {
		if ctx.Err() != nil {
			return false
		}
		e.deliver(ctx, EventHistorical, rec)
		if !sleepCtx(ctx, e.cfg.InterEventDelay) {
			return false
		}
	}
	return true
}

// liveLoop captures punches until cancellation or reconnect exhaustion.
// A closed capture channel means the session dropped; the channel is
// never reused after reconnecting.
func (e *Engine) liveLoop(ctx context.Context) {
	for ctx.Err() == nil {
		e.setState(StateLive)

		ch, err := e.cap.LiveCapture(ctx)
		if err != nil {
			e.logger.Warn("live capture unavailable", "device_id", e.cfg.DeviceID, "error", err)
			e.stats.RecordError(fmt.Sprintf("live capture: %v", err))
			if !e.reconnect(ctx) {
				return
			}
			continue
		}

	capture:
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-ch:
				if !ok {
					e.logger.Warn("live capture channel closed", "device_id", e.cfg.DeviceID)
					if !e.reconnect(ctx) {
						return
					}
					break capture
				}
				if rec == nil {
					// Keepalive tick
					continue
				}
				e.deliver(ctx, EventRealtime, *rec)
			}
		}
	}
}

// reconnect re-establishes the device session after a drop.
//
// The sequence is fixed rather than exponential: disconnect, one backoff
// pause, then up to ReconnectAttempts connects spaced ReconnectDelay
// apart. Exhaustion moves the engine to Error and ends the goroutine.
// Returns true when a session was re-established.
func (e *Engine) reconnect(ctx context.Context) bool {
	e.setState(StateReconnecting)
	e.cap.Disconnect()

	if !sleepCtx(ctx, e.cfg.ReconnectBackoff) {
		return false
	}

	for attempt := 1; attempt <= e.cfg.ReconnectAttempts; attempt++ {
		err := e.cap.Connect(ctx)
		if err == nil {
			e.logger.Info("reconnected", "device_id", e.cfg.DeviceID, "attempt", attempt)
			return true
		}
		e.logger.Warn("reconnect attempt failed",
			"device_id", e.cfg.DeviceID, "attempt", attempt, "error", err)
		e.stats.RecordError(fmt.Sprintf("reconnect attempt %d: %v", attempt, err))

		if attempt < e.cfg.ReconnectAttempts {
			if !sleepCtx(ctx, e.cfg.ReconnectDelay) {
				return false
			}
		}
	}

	e.logger.Error("reconnect attempts exhausted", "device_id", e.cfg.DeviceID)
	e.stats.RecordError("reconnect attempts exhausted")
	e.setState(StateError)
	return false
}

// deliver posts one punch to the central server, retrying a fixed number
// of times. An event that exhausts its attempts joins the overflow queue;
// the queue is flushed after the next successful post.
func (e *Engine) deliver(ctx context.Context, kind EventType, rec terminal.AttendanceRecord) {
	env := newEnvelope(e.cfg.DeviceID, kind, rec)

	if e.sink != nil {
		e.sink.PublishEvent(env)
	}

	if e.post(ctx, env) {
		e.stats.RecordSent(kind)
		e.flushQueue(ctx)
		return
	}

	e.stats.RecordFailed()
	e.enqueue(env)
}

// post attempts delivery with the configured retry budget.
func (e *Engine) post(ctx context.Context, env Envelope) bool {
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		err := e.postOnce(ctx, env)
		if err == nil {
			return true
		}

		e.logger.Warn("event delivery failed",
			"device_id", e.cfg.DeviceID, "attempt", attempt, "error", err)
		e.stats.RecordError(fmt.Sprintf("delivery attempt %d: %v", attempt, err))

		if attempt < e.cfg.RetryAttempts {
			if !sleepCtx(ctx, e.cfg.RetryDelay) {
				return false
			}
		}
	}
	return false
}

// postOnce performs a single HTTP POST of the envelope.
func (e *Engine) postOnce(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	url := e.cfg.ServerURL + e.cfg.Endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body is drained by Close

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
}

// enqueue holds an undeliverable event for a later flush. When the queue
// is full the new event is dropped and logged; evicting older events
// would reorder the stream.
func (e *Engine) enqueue(env Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) >= e.cfg.QueueSize {
		e.logger.Error("event queue full, dropping event",
			"device_id", e.cfg.DeviceID, "queue_size", e.cfg.QueueSize)
		e.stats.RecordError("event queue full, event dropped")
		return
	}
	e.queue = append(e.queue, env)
}

// flushQueue retries queued events after a delivery success. Each gets a
// single attempt; the first failure stops the flush to preserve order.
func (e *Engine) flushQueue(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		env := e.queue[0]
		e.mu.Unlock()

		if err := e.postOnce(ctx, env); err != nil {
			return
		}

		e.mu.Lock()
		e.queue = e.queue[1:]
		e.mu.Unlock()
		e.stats.RecordSent(env.EventType)
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first.
// Returns false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
