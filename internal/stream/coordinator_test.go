package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/device"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/terminal"
)

// memRepo is a minimal in-memory device.Repository for coordinator tests.
type memRepo struct {
	mu      sync.Mutex
	records map[string]*device.Record
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]*device.Record)}
}

func (m *memRepo) Save(_ context.Context, rec *device.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.DeviceID] = rec.DeepCopy()
	return nil
}

func (m *memRepo) Get(_ context.Context, deviceID string) (*device.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[deviceID]
	if !ok {
		return nil, device.ErrNotFound
	}
	return rec.DeepCopy(), nil
}

func (m *memRepo) Delete(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[deviceID]; !ok {
		return device.ErrNotFound
	}
	delete(m.records, deviceID)
	return nil
}

func (m *memRepo) List(_ context.Context) ([]*device.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*device.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.DeepCopy())
	}
	return out, nil
}

func (m *memRepo) UpdateLastSeen(_ context.Context, deviceID string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[deviceID]; ok {
		rec.LastSeen = &t
	}
	return nil
}

func simFactory(cfg terminal.Config) terminal.Capability {
	return terminal.NewSimulator(cfg)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *device.Registry) {
	t.Helper()

	cs := newCaptureServer(t)
	registry := device.NewRegistry(newMemRepo(), simFactory, time.Second)

	coord, err := NewCoordinator(CoordinatorOptions{
		Registry: registry,
		Factory:  simFactory,
		Template: testEngineConfig(cs.srv.URL),
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	t.Cleanup(func() { coord.StopAll() })

	return coord, registry
}

func registerDevice(t *testing.T, registry *device.Registry, id, addr string) {
	t.Helper()
	err := registry.Register(context.Background(), &device.Record{
		DeviceID: id, Address: addr, Active: true,
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", id, err)
	}
}

func TestNewCoordinatorValidation(t *testing.T) {
	registry := device.NewRegistry(newMemRepo(), simFactory, time.Second)

	tests := []struct {
		name string
		opts CoordinatorOptions
	}{
		{name: "missing registry", opts: CoordinatorOptions{Factory: simFactory, Template: Config{ServerURL: "http://x"}}},
		{name: "missing factory", opts: CoordinatorOptions{Registry: registry, Template: Config{ServerURL: "http://x"}}},
		{name: "missing server url", opts: CoordinatorOptions{Registry: registry, Factory: simFactory}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCoordinator(tt.opts); err == nil {
				t.Error("NewCoordinator() should reject incomplete options")
			}
		})
	}
}

func TestCoordinatorStartStopDevice(t *testing.T) {
	coord, registry := newTestCoordinator(t)

	// Unregistered device cannot stream
	res := coord.StartDevice("ghost")
	if res.Success {
		t.Error("StartDevice(unregistered) should fail")
	}

	registerDevice(t, registry, "door-1", "192.168.1.10")

	res = coord.StartDevice("door-1")
	if !res.Success {
		t.Fatalf("StartDevice() failed: %s", res.Message)
	}
	if _, ok := coord.Status("door-1"); !ok {
		t.Error("Status() should track the started stream")
	}

	// Double start rejected
	res = coord.StartDevice("door-1")
	if res.Success {
		t.Error("second StartDevice() should fail while streaming")
	}

	res = coord.StopDevice("door-1")
	if !res.Success {
		t.Errorf("StopDevice() failed: %s", res.Message)
	}
	if _, ok := coord.Status("door-1"); ok {
		t.Error("Status() should forget a stopped stream")
	}

	// Stopping again reports not streaming
	res = coord.StopDevice("door-1")
	if res.Success {
		t.Error("StopDevice() on idle device should fail")
	}

	// Stream can be started again after a stop
	res = coord.StartDevice("door-1")
	if !res.Success {
		t.Errorf("restart after stop failed: %s", res.Message)
	}
}

func TestCoordinatorStartAllStopAll(t *testing.T) {
	coord, registry := newTestCoordinator(t)

	registerDevice(t, registry, "door-1", "192.168.1.10")
	registerDevice(t, registry, "door-2", "192.168.1.11")

	out := coord.StartAll()
	if out.Total != 2 || out.Succeeded != 2 || out.Failed != 0 {
		t.Fatalf("StartAll() = %d/%d/%d, want 2/2/0", out.Total, out.Succeeded, out.Failed)
	}

	// Second start-all finds everything already streaming
	out = coord.StartAll()
	if out.Succeeded != 0 || out.Failed != 2 {
		t.Errorf("repeat StartAll() = %d succeeded / %d failed, want 0/2", out.Succeeded, out.Failed)
	}

	agg := coord.StatusAll()
	if agg.TotalStreaming != 2 {
		t.Errorf("TotalStreaming = %d, want 2", agg.TotalStreaming)
	}
	if len(agg.Devices) != 2 {
		t.Errorf("Devices = %d entries, want 2", len(agg.Devices))
	}

	out = coord.StopAll()
	if out.Total != 2 || out.Succeeded != 2 {
		t.Errorf("StopAll() = %d/%d, want 2/2", out.Total, out.Succeeded)
	}
	if coord.StatusAll().TotalStreaming != 0 {
		t.Error("streams should be gone after StopAll")
	}
}

func TestCoordinatorAddDeviceAndStream(t *testing.T) {
	coord, registry := newTestCoordinator(t)
	ctx := context.Background()

	rec := &device.Record{DeviceID: "door-1", Address: "192.168.1.10", Active: true}
	out := coord.AddDeviceAndStream(ctx, rec, true)
	if !out.RegistryChanged {
		t.Fatalf("AddDeviceAndStream() did not register: %s", out.Error)
	}
	if out.Stream == nil || !out.Stream.Success {
		t.Fatal("AddDeviceAndStream() with autoStart should start the stream")
	}

	// Duplicate registration aborts before streaming
	dup := &device.Record{DeviceID: "door-1", Address: "192.168.1.99"}
	out = coord.AddDeviceAndStream(ctx, dup, true)
	if out.RegistryChanged {
		t.Error("duplicate registration should not change the registry")
	}
	if out.Error == "" {
		t.Error("duplicate registration should carry an error")
	}

	// Without autoStart no stream is touched
	rec2 := &device.Record{DeviceID: "door-2", Address: "192.168.1.11"}
	out = coord.AddDeviceAndStream(ctx, rec2, false)
	if !out.RegistryChanged {
		t.Fatalf("AddDeviceAndStream() failed: %s", out.Error)
	}
	if out.Stream != nil {
		t.Error("autoStart=false should not produce a stream outcome")
	}
	if _, ok := coord.Status("door-2"); ok {
		t.Error("door-2 should not be streaming")
	}

	if registry.Count() != 2 {
		t.Errorf("registry count = %d, want 2", registry.Count())
	}
}

func TestCoordinatorRemoveDeviceAndStop(t *testing.T) {
	coord, registry := newTestCoordinator(t)
	ctx := context.Background()

	registerDevice(t, registry, "door-1", "192.168.1.10")
	if res := coord.StartDevice("door-1"); !res.Success {
		t.Fatalf("StartDevice() failed: %s", res.Message)
	}

	out := coord.RemoveDeviceAndStop(ctx, "door-1")
	if !out.RegistryChanged {
		t.Fatalf("RemoveDeviceAndStop() did not unregister: %s", out.Error)
	}
	if out.Stream == nil || !out.Stream.Success {
		t.Error("RemoveDeviceAndStop() should stop the active stream")
	}
	if registry.Count() != 0 {
		t.Error("device should be gone from the registry")
	}
	if _, ok := coord.Status("door-1"); ok {
		t.Error("stream should be gone from the coordinator")
	}

	// Unknown device: stream stop is a no-op, unregister fails
	out = coord.RemoveDeviceAndStop(ctx, "ghost")
	if out.RegistryChanged {
		t.Error("removing an unknown device should not change the registry")
	}
	if out.Error == "" {
		t.Error("removing an unknown device should carry an error")
	}
}

func TestCoordinatorGetSummary(t *testing.T) {
	coord, registry := newTestCoordinator(t)

	registerDevice(t, registry, "door-1", "192.168.1.10")
	registerDevice(t, registry, "door-2", "192.168.1.11")

	if res := coord.StartDevice("door-1"); !res.Success {
		t.Fatalf("StartDevice() failed: %s", res.Message)
	}

	summary := coord.GetSummary()
	if summary.TotalDevices != 2 {
		t.Errorf("TotalDevices = %d, want 2", summary.TotalDevices)
	}
	if summary.Streaming != 1 {
		t.Errorf("Streaming = %d, want 1", summary.Streaming)
	}
	if len(summary.ByState) == 0 {
		t.Error("ByState should report the stream's state")
	}
}
