package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/device"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/terminal"
)

// Outcome is the result of a start or stop request for one device.
type Outcome struct {
	DeviceID string `json:"device_id"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

// BulkOutcome aggregates per-device outcomes for start-all / stop-all.
// One device failing never prevents the others from being attempted.
type BulkOutcome struct {
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Details   []Outcome `json:"details"`
}

// CompositeOutcome reports a combined registry-and-stream operation.
// The registry change is applied regardless of the stream outcome.
type CompositeOutcome struct {
	DeviceID        string   `json:"device_id"`
	RegistryChanged bool     `json:"registry_changed"`
	Error           string   `json:"error,omitempty"`
	Stream          *Outcome `json:"stream,omitempty"`
}

// Aggregate is the fleet-wide streaming status.
type Aggregate struct {
	TotalStreaming  int               `json:"total_streaming"`
	TotalEventsSent uint64            `json:"total_events_sent"`
	ByState         map[State]int     `json:"by_state"`
	Devices         map[string]Status `json:"devices"`
}

// Summary is the condensed fleet view for dashboards.
type Summary struct {
	TotalDevices    int           `json:"total_devices"`
	Streaming       int           `json:"streaming_devices"`
	TotalEventsSent uint64        `json:"total_events_sent"`
	ByState         map[State]int `json:"by_state"`
}

// CoordinatorOptions configures a new Coordinator.
type CoordinatorOptions struct {
	Registry *device.Registry
	Factory  terminal.Factory

	// Template carries the engine settings shared by every device:
	// server URL, retry budgets, delays. Per-device fields are filled
	// in when a stream starts.
	Template Config

	// DeviceTimeout is the per-operation timeout for stream sessions.
	DeviceTimeout time.Duration

	HTTPClient *http.Client
	Logger     Logger
	Sink       EventSink
}

// Coordinator manages one stream engine per streaming device.
//
// Engines are keyed by device_id. An engine stays in the map until it is
// explicitly stopped, including after it halts in the Error state; this
// makes start-all idempotent and forces errored streams through a manual
// stop/start cycle rather than silently restarting.
//
// Thread Safety: all methods are safe for concurrent use.
type Coordinator struct {
	registry *device.Registry
	factory  terminal.Factory
	template Config
	timeout  time.Duration
	client   *http.Client
	logger   Logger
	sink     EventSink

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewCoordinator creates a coordinator with no active streams.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("stream: registry is required")
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("stream: factory is required")
	}
	if opts.Template.ServerURL == "" {
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
	timeout := opts.DeviceTimeout
	if timeout == 0 {
		timeout = terminal.DefaultTimeout
	}

	return &Coordinator{
		registry: opts.Registry,
		factory:  opts.Factory,
		template: opts.Template,
		timeout:  timeout,
		client:   client,
		logger:   logger,
		sink:     opts.Sink,
		engines:  make(map[string]*Engine),
	}, nil
}

// StartDevice begins streaming for a registered device.
//
// Failure outcomes: device already streaming, device not registered, or
// the engine refusing to start.
func (c *Coordinator) StartDevice(deviceID string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(deviceID)
}

// startLocked starts one engine. Caller must hold c.mu.
func (c *Coordinator) startLocked(deviceID string) Outcome {
	if _, exists := c.engines[deviceID]; exists {
		return Outcome{DeviceID: deviceID, Message: "already streaming"}
	}

	rec, ok := c.registry.Get(deviceID)
	if !ok {
		return Outcome{DeviceID: deviceID, Message: "device not registered"}
	}

	cfg := c.template
	cfg.DeviceID = rec.DeviceID
	cfg.Address = rec.Address

	engine, err := NewEngine(EngineOptions{
		Config:     cfg,
		Capability: c.factory(rec.TerminalConfig(c.timeout)),
		HTTPClient: c.client,
		Logger:     c.logger,
		Sink:       c.sink,
	})
	if err != nil {
		return Outcome{DeviceID: deviceID, Message: fmt.Sprintf("creating stream: %v", err)}
	}

	if err := engine.Start(); err != nil {
		return Outcome{DeviceID: deviceID, Message: fmt.Sprintf("starting stream: %v", err)}
	}

	c.engines[deviceID] = engine
	return Outcome{DeviceID: deviceID, Success: true, Message: "streaming started"}
}

// StopDevice halts streaming for a device and forgets its engine.
func (c *Coordinator) StopDevice(deviceID string) Outcome {
	c.mu.Lock()
	engine, exists := c.engines[deviceID]
	if exists {
		delete(c.engines, deviceID)
	}
	c.mu.Unlock()

	if !exists {
		return Outcome{DeviceID: deviceID, Message: "not streaming"}
	}

	if err := engine.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return Outcome{DeviceID: deviceID, Success: true, Message: fmt.Sprintf("streaming stopped (%v)", err)}
	}
	return Outcome{DeviceID: deviceID, Success: true, Message: "streaming stopped"}
}

// StartAll starts streaming for every device marked active.
// Devices already streaming count as failures in the aggregate, matching
// the per-device StartDevice semantics.
func (c *Coordinator) StartAll() BulkOutcome {
	records := c.registry.ListActive()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := BulkOutcome{Total: len(records)}
	for _, rec := range records {
		res := c.startLocked(rec.DeviceID)
		out.Details = append(out.Details, res)
		if res.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}

	c.logger.Info("start-all complete", "total", out.Total, "started", out.Succeeded, "failed", out.Failed)
	return out
}

// StopAll halts every active stream.
func (c *Coordinator) StopAll() BulkOutcome {
	c.mu.Lock()
	engines := make(map[string]*Engine, len(c.engines))
	for id, e := range c.engines {
		engines[id] = e
	}
	c.engines = make(map[string]*Engine)
	c.mu.Unlock()

	out := BulkOutcome{Total: len(engines)}
	for id, engine := range engines {
		res := Outcome{DeviceID: id, Success: true, Message: "streaming stopped"}
		if err := engine.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
			res.Message = fmt.Sprintf("streaming stopped (%v)", err)
		}
		out.Details = append(out.Details, res)
		out.Succeeded++
	}

	c.logger.Info("stop-all complete", "total", out.Total)
	return out
}

// AddDeviceAndStream registers a device and optionally starts its stream.
// Registration failure aborts; a stream failure after a successful
// registration leaves the device registered.
func (c *Coordinator) AddDeviceAndStream(ctx context.Context, rec *device.Record, autoStart bool) CompositeOutcome {
	out := CompositeOutcome{DeviceID: rec.DeviceID}

	if err := c.registry.Register(ctx, rec); err != nil {
		out.Error = err.Error()
		return out
	}
	out.RegistryChanged = true

	if autoStart {
		res := c.StartDevice(rec.DeviceID)
		out.Stream = &res
	}
	return out
}

// RemoveDeviceAndStop stops any stream for the device, then unregisters
// it. The stream stop is best-effort; the registry change happens
// regardless.
func (c *Coordinator) RemoveDeviceAndStop(ctx context.Context, deviceID string) CompositeOutcome {
	out := CompositeOutcome{DeviceID: deviceID}

	res := c.StopDevice(deviceID)
	out.Stream = &res

	if err := c.registry.Unregister(ctx, deviceID); err != nil {
		out.Error = err.Error()
		return out
	}
	out.RegistryChanged = true
	return out
}

// Status returns the stream status for one device.
func (c *Coordinator) Status(deviceID string) (Status, bool) {
	c.mu.Lock()
	engine, ok := c.engines[deviceID]
	c.mu.Unlock()

	if !ok {
		return Status{}, false
	}
	return engine.Status(), true
}

// StatusAll returns the status of every tracked stream plus totals.
func (c *Coordinator) StatusAll() Aggregate {
	c.mu.Lock()
	engines := make(map[string]*Engine, len(c.engines))
	for id, e := range c.engines {
		engines[id] = e
	}
	c.mu.Unlock()

	agg := Aggregate{
		TotalStreaming: len(engines),
		ByState:        make(map[State]int),
		Devices:        make(map[string]Status, len(engines)),
	}
	for id, engine := range engines {
		st := engine.Status()
		agg.Devices[id] = st
		agg.ByState[st.State]++
		agg.TotalEventsSent += st.Stats.EventsSent
	}
	return agg
}

// GetSummary returns the condensed fleet view.
func (c *Coordinator) GetSummary() Summary {
	agg := c.StatusAll()
	return Summary{
		TotalDevices:    c.registry.Count(),
		Streaming:       agg.TotalStreaming,
		TotalEventsSent: agg.TotalEventsSent,
		ByState:         agg.ByState,
	}
}
