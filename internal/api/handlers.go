package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/agent"
	"github.com/Shashankc-probeplus/essl-agent-backend/internal/device"
)

// handleHealth reports agent liveness plus subsystem state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"devices": s.deps.Registry.Count(),
	}

	if s.deps.DB != nil {
		if err := s.deps.DB.HealthCheck(r.Context()); err != nil {
			health["status"] = "degraded"
			health["database"] = err.Error()
		} else {
			health["database"] = "ok"
		}
	}

	if s.deps.Poller != nil {
		health["polling"] = s.deps.Poller.Status().Running
	}

	summary := s.deps.Coordinator.GetSummary()
	health["streaming"] = summary

	writeJSON(w, http.StatusOK, health)
}

// handleListDevices returns every registered device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	records := s.deps.Registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": records,
		"count":   len(records),
	})
}

// handleListActiveDevices returns devices marked for automatic streaming.
func (s *Server) handleListActiveDevices(w http.ResponseWriter, _ *http.Request) {
	records := s.deps.Registry.ListActive()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": records,
		"count":   len(records),
	})
}

// addDeviceRequest is the POST /devices body.
type addDeviceRequest struct {
	DeviceID     string `json:"device_id"`
	DeviceIP     string `json:"device_ip"`
	Port         int    `json:"port"`
	SharedSecret int    `json:"password"`
	Name         string `json:"name"`
	Location     string `json:"location"`
	Active       *bool  `json:"is_active"`

	// AutoStart starts streaming immediately after registration.
	AutoStart bool `json:"auto_start"`
}

// handleAddDevice registers a device and optionally starts its stream.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.DeviceIP == "" {
		writeBadRequest(w, "device_id and device_ip are required")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	if _, exists := s.deps.Registry.Get(req.DeviceID); exists {
		writeError(w, http.StatusConflict, ErrCodeConflict, "device already registered")
		return
	}

	rec := &device.Record{
		DeviceID:     req.DeviceID,
		Address:      req.DeviceIP,
		Port:         req.Port,
		SharedSecret: req.SharedSecret,
		Name:         req.Name,
		Location:     req.Location,
		Active:       active,
	}

	out := s.deps.Coordinator.AddDeviceAndStream(r.Context(), rec, req.AutoStart)
	if !out.RegistryChanged {
		writeBadRequest(w, out.Error)
		return
	}

	writeJSON(w, http.StatusCreated, out)
}

// handleRemoveDevice stops any stream and unregisters the device.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	out := s.deps.Coordinator.RemoveDeviceAndStop(r.Context(), deviceID)
	if !out.RegistryChanged {
		writeNotFound(w, out.Error)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeviceHealth probes one device.
func (s *Server) handleDeviceHealth(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	report := s.deps.Registry.Health(r.Context(), deviceID)
	writeJSON(w, http.StatusOK, report)
}

// handleStreamingStatus returns the status of every stream.
func (s *Server) handleStreamingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Coordinator.StatusAll())
}

// handleStreamingStatusOne returns the status of one stream.
func (s *Server) handleStreamingStatusOne(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	status, ok := s.deps.Coordinator.Status(deviceID)
	if !ok {
		writeNotFound(w, "device is not streaming")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStreamingSummary returns the condensed fleet view.
func (s *Server) handleStreamingSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Coordinator.GetSummary())
}

// handleStreamingStart starts one stream.
func (s *Server) handleStreamingStart(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	out := s.deps.Coordinator.StartDevice(deviceID)
	status := http.StatusOK
	if !out.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, out)
}

// handleStreamingStop stops one stream.
func (s *Server) handleStreamingStop(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	out := s.deps.Coordinator.StopDevice(deviceID)
	status := http.StatusOK
	if !out.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, out)
}

// handleStreamingStartAll starts streams for all registered devices.
func (s *Server) handleStreamingStartAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Coordinator.StartAll())
}

// handleStreamingStopAll stops every active stream.
func (s *Server) handleStreamingStopAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Coordinator.StopAll())
}

// handlePollingStatus returns the command polling statistics.
func (s *Server) handlePollingStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Poller == nil {
		writeNotFound(w, "polling is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Poller.Status())
}

// handlePollingStop halts the command polling loop.
func (s *Server) handlePollingStop(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Poller == nil {
		writeNotFound(w, "polling is not configured")
		return
	}
	if err := s.deps.Poller.Stop(); err != nil {
		if errors.Is(err, agent.ErrPollerStopped) {
			writeJSON(w, http.StatusOK, map[string]any{"stopped": false, "message": "polling already stopped"})
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
}
