package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/agent"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/device"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/infrastructure/config"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/infrastructure/database"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/infrastructure/logging"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/stream"
)

// shutdownTimeout bounds graceful shutdown on Close.
const shutdownTimeout = 10 * time.Second

// Deps carries the dependencies the API server needs.
type Deps struct {
	Config      *config.Config
	Logger      *logging.Logger
	DB          *database.DB
	Registry    *device.Registry
	Coordinator *stream.Coordinator
	Poller      *agent.Poller

	// Hub is optional; the /ws route is omitted when nil.
	Hub *Hub
}

// Server is the operator-facing HTTP API.
type Server struct {
	deps       Deps
	httpServer *http.Server
}

// New validates dependencies and creates a server.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("api: config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("api: logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("api: registry is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("api: coordinator is required")
	}
	return &Server{deps: deps}, nil
}

// Start begins serving in the background. It returns once the listener
// is bound, so a port conflict surfaces here rather than in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.deps.Config

	addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:      s.buildRouter(),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  cfg.GetIdleTimeout(),
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Logger.Error("API server failed", "error", err)
		}
	}()

	s.deps.Logger.Info("API server listening", "addr", addr)
	return nil
}

// Close shuts the server down gracefully.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
