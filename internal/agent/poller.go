package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Poller defaults.
const (
	defaultPollInterval = 10 * time.Second
	defaultPollTimeout  = 10 * time.Second

	// maxPollErrors caps the rolling error history.
	maxPollErrors = 50

	commandPath = "/api/v1/get_command"
	resultPath  = "/api/v1/send_result"
)

// Poller lifecycle errors.
var (
	// ErrPollerRunning indicates Start was called on a running poller.
	ErrPollerRunning = errors.New("agent: poller already running")

	// ErrPollerStopped indicates Stop was called on a stopped poller.
	ErrPollerStopped = errors.New("agent: poller not running")
)

// PollerConfig tunes the command polling loop.
type PollerConfig struct {
	// ServerURL is the central server base URL, without trailing slash.
	ServerURL string

	// Identity is presented with every poll.
	Identity Identity

	// Interval between polls. Zero means 10 seconds.
	Interval time.Duration

	// Timeout for each HTTP request. Zero means 10 seconds.
	Timeout time.Duration
}

// ErrorEntry is one recorded polling error.
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// PollStatus is a point-in-time view of the polling loop.
type PollStatus struct {
	Running           bool         `json:"is_running"`
	IntervalSeconds   float64      `json:"interval_seconds"`
	TotalPolls        uint64       `json:"total_polls"`
	CommandsReceived  uint64       `json:"commands_received"`
	CommandsSucceeded uint64       `json:"commands_succeeded"`
	CommandsFailed    uint64       `json:"commands_failed"`
	LastPollAt        *time.Time   `json:"last_poll_at,omitempty"`
	LastCommandAt     *time.Time   `json:"last_command_at,omitempty"`
	Errors            []ErrorEntry `json:"errors"`
}

// Poller pulls commands from the central server on a fixed interval and
// dispatches them through the Router.
//
// The loop is deliberately unkillable by transport trouble: fetch
// failures, bad payloads, and result submission errors are recorded in
// the rolling error history and the next tick proceeds as normal.
type Poller struct {
	cfg    PollerConfig
	router *Router
	client *http.Client
	logger Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	totalPolls        uint64
	commandsReceived  uint64
	commandsSucceeded uint64
	commandsFailed    uint64
	lastPollAt        time.Time
	lastCommandAt     time.Time
	errors            []ErrorEntry
}

// NewPoller creates a poller. The router is required.
func NewPoller(cfg PollerConfig, router *Router) (*Poller, error) {
	if router == nil {
		return nil, fmt.Errorf("agent: router is required")
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("agent: server_url is required")
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultPollTimeout
	}

	return &Poller{
		cfg:    cfg,
		router: router,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: noopLogger{},
	}, nil
}

// SetLogger attaches a logger. Call before Start.
func (p *Poller) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// SetHTTPClient replaces the HTTP client. Call before Start.
func (p *Poller) SetHTTPClient(c *http.Client) {
	if c != nil {
		p.client = c
	}
}

// Start launches the polling loop.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPollerRunning
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx)

	p.logger.Info("command polling started",
		"interval", p.cfg.Interval.String(), "agent_id", p.cfg.Identity.AgentID)
	return nil
}

// Stop halts the polling loop and waits for it to exit.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrPollerStopped
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.logger.Info("command polling stopped")
	return nil
}

// Status returns a point-in-time view of the loop.
func (p *Poller) Status() PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := PollStatus{
		Running:           p.running,
		IntervalSeconds:   p.cfg.Interval.Seconds(),
		TotalPolls:        p.totalPolls,
		CommandsReceived:  p.commandsReceived,
		CommandsSucceeded: p.commandsSucceeded,
		CommandsFailed:    p.commandsFailed,
		Errors:            make([]ErrorEntry, len(p.errors)),
	}
	copy(st.Errors, p.errors)
	if !p.lastPollAt.IsZero() {
		t := p.lastPollAt
		st.LastPollAt = &t
	}
	if !p.lastCommandAt.IsZero() {
		t := p.lastCommandAt
		st.LastCommandAt = &t
	}
	return st
}

// loop polls immediately, then on every tick until cancellation.
func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce fetches at most one command, dispatches it, and submits the
// result. Every failure path records an error and returns; the loop
// itself never aborts.
func (p *Poller) pollOnce(ctx context.Context) {
	p.mu.Lock()
	p.totalPolls++
	p.lastPollAt = time.Now().UTC()
	p.mu.Unlock()

	cmd, ok, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.recordError(fmt.Sprintf("fetch: %v", err))
			p.logger.Warn("command fetch failed", "error", err)
		}
		return
	}
	if !ok {
		return
	}

	p.mu.Lock()
	p.commandsReceived++
	p.lastCommandAt = time.Now().UTC()
	p.mu.Unlock()

	p.logger.Info("command received", "id", cmd.ID, "command", cmd.Command)

	result := p.router.Dispatch(ctx, cmd)

	p.mu.Lock()
	if result.Success {
		p.commandsSucceeded++
	} else {
		p.commandsFailed++
	}
	p.mu.Unlock()

	if err := p.submit(ctx, result); err != nil {
		if ctx.Err() == nil {
			p.recordError(fmt.Sprintf("submit: %v", err))
			p.logger.Warn("result submission failed", "id", result.ID, "error", err)
		}
	}
}

// fetch asks the server for the next command.
// A 204, 404, or null data body all mean no work is available.
func (p *Poller) fetch(ctx context.Context) (Command, bool, error) {
	body, err := json.Marshal(pollRequest{
		AgentID:    p.cfg.Identity.AgentID,
		MACAddress: p.cfg.Identity.MACAddress,
	})
	if err != nil {
		return Command{}, false, fmt.Errorf("encoding poll request: %w", err)
	}

	url := p.cfg.ServerURL + commandPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Command{}, false, fmt.Errorf("building poll request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Command{}, false, fmt.Errorf("polling server: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body is drained by Close

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		return Command{}, false, nil
	case http.StatusOK:
	default:
		return Command{}, false, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var pr pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Command{}, false, fmt.Errorf("decoding poll response: %w", err)
	}
	if pr.Data == nil {
		return Command{}, false, nil
	}
	return *pr.Data, true, nil
}

// submit posts a command result back to the server.
func (p *Poller) submit(ctx context.Context, result Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	url := p.cfg.ServerURL + resultPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building result request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting result: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body is drained by Close

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

// recordError appends to the rolling error history.
func (p *Poller) recordError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.errors = append(p.errors, ErrorEntry{Time: time.Now().UTC(), Message: msg})
	if len(p.errors) > maxPollErrors {
		p.errors = p.errors[len(p.errors)-maxPollErrors:]
	}
}
