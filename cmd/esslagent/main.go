// Command esslagent runs the on-site ESSL attendance agent.
//
// The agent manages a fleet of biometric terminals: it streams attendance
// events to the central server, polls the server for commands, and exposes
// a local operator API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/agent"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/api"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/device"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/infrastructure/config"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/infrastructure/database"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/infrastructure/logging"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/infrastructure/mqtt"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/stream"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/terminal"

	// Registers the embedded schema migrations.
	_ "github.com/Shashankc-probeplus/essl-agent-backend/migrations"
)

// Build information, set via ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "esslagent: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	bootLogger := logging.Default()
	bootLogger.Info("starting esslagent", "version", version, "build_time", buildTime)

	cfgPath := os.Getenv("ESSLAGENT_CONFIG")
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("configuration loaded", "path", cfgPath, "agent_id", cfg.Agent.ID)

	// Database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("database close failed", "error", err)
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	// Device registry
	factory, ok := terminal.Driver(cfg.Devices.Driver)
	if !ok {
		return fmt.Errorf("terminal driver %q is not available in this build", cfg.Devices.Driver)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db), factory, cfg.GetDeviceTimeout())
	registry.SetLogger(logger.With("component", "registry"))
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}

	// Agent identity
	mac, err := agent.PhysicalMAC()
	if err != nil {
		logger.Warn("physical MAC discovery failed", "error", err)
		mac = "unknown"
	}
	identity := agent.Identity{AgentID: cfg.Agent.ID, MACAddress: mac}

	// Event sinks: operator WebSocket feed, plus the MQTT mirror when enabled
	hub := api.NewHub(logger.With("component", "ws"))
	defer hub.Close()

	sinks := stream.MultiSink{hub}
	if cfg.Mirror.Enabled {
		mirror, err := mqtt.Connect(cfg.Mirror)
		if err != nil {
			return fmt.Errorf("connecting event mirror: %w", err)
		}
		defer mirror.Close()
		sinks = append(sinks, &mirrorSink{
			client: mirror,
			topic:  cfg.Mirror.Topic,
			logger: logger.With("component", "mirror"),
		})
		logger.Info("event mirror enabled", "broker", cfg.Mirror.Broker.Host, "topic", cfg.Mirror.Topic)
	}

	// Stream coordinator
	coordinator, err := stream.NewCoordinator(stream.CoordinatorOptions{
		Registry: registry,
		Factory:  factory,
		Template: stream.Config{
			ServerURL:         cfg.Agent.ServerURL,
			SyncWindow:        time.Duration(cfg.Streaming.InitialSyncHours) * time.Hour,
			RetryAttempts:     cfg.Streaming.RetryAttempts,
			RetryDelay:        time.Duration(cfg.Streaming.RetryDelay) * time.Second,
			ReconnectAttempts: cfg.Streaming.ReconnectAttempts,
			ReconnectDelay:    time.Duration(cfg.Streaming.ReconnectDelay) * time.Second,
			QueueSize:         cfg.Streaming.QueueSize,
		},
		DeviceTimeout: cfg.GetDeviceTimeout(),
		Logger:        logger.With("component", "stream"),
		Sink:          sinks,
	})
	if err != nil {
		return fmt.Errorf("creating stream coordinator: %w", err)
	}
	defer coordinator.StopAll()

	// Auto-stream devices marked active
	for _, rec := range registry.ListActive() {
		res := coordinator.StartDevice(rec.DeviceID)
		if !res.Success {
			logger.Warn("auto-stream failed", "device_id", rec.DeviceID, "message", res.Message)
		}
	}

	// Command plane
	router := agent.NewRouter(registry, identity)
	router.SetLogger(logger.With("component", "router"))

	poller, err := agent.NewPoller(agent.PollerConfig{
		ServerURL: cfg.Agent.ServerURL,
		Identity:  identity,
		Interval:  cfg.GetPollInterval(),
		Timeout:   cfg.GetPollTimeout(),
	}, router)
	if err != nil {
		return fmt.Errorf("creating command poller: %w", err)
	}
	poller.SetLogger(logger.With("component", "poller"))

	if err := poller.Start(); err != nil {
		return fmt.Errorf("starting command poller: %w", err)
	}
	defer func() {
		if err := poller.Stop(); err != nil && !errors.Is(err, agent.ErrPollerStopped) {
			logger.Error("poller stop failed", "error", err)
		}
	}()

	// Operator API
	server, err := api.New(api.Deps{
		Config:      cfg,
		Logger:      logger.With("component", "api"),
		DB:          db,
		Registry:    registry,
		Coordinator: coordinator,
		Poller:      poller,
		Hub:         hub,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Error("API server close failed", "error", err)
		}
	}()

	logger.Info("esslagent running",
		"devices", registry.Count(), "server", cfg.Agent.ServerURL)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// mirrorSink publishes captured events to the site-local MQTT broker.
// Publishing is best-effort: a broker outage must never stall capture.
type mirrorSink struct {
	client *mqtt.Client
	topic  string
	logger *logging.Logger
}

func (m *mirrorSink) PublishEvent(env stream.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		m.logger.Error("event encode failed", "error", err)
		return
	}
	topic := m.topic + "/" + env.DeviceID
	if err := m.client.Publish(topic, payload); err != nil {
		m.logger.Warn("event mirror publish failed", "topic", topic, "error", err)
	}
}
