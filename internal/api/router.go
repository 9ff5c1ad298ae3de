package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter assembles the route tree and middleware chain.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.deps.Logger))
	r.Use(recoveryMiddleware(s.deps.Logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleAddDevice)
			r.Get("/active", s.handleListActiveDevices)
			r.Get("/{deviceID}/health", s.handleDeviceHealth)
			r.Delete("/{deviceID}", s.handleRemoveDevice)
		})

		r.Route("/streaming", func(r chi.Router) {
			r.Get("/status", s.handleStreamingStatus)
			r.Get("/status/{deviceID}", s.handleStreamingStatusOne)
			r.Get("/summary", s.handleStreamingSummary)
			r.Post("/start/{deviceID}", s.handleStreamingStart)
			r.Post("/stop/{deviceID}", s.handleStreamingStop)
			r.Post("/start-all", s.handleStreamingStartAll)
			r.Post("/stop-all", s.handleStreamingStopAll)
		})

		r.Route("/polling", func(r chi.Router) {
			r.Get("/status", s.handlePollingStatus)
			r.Post("/stop", s.handlePollingStop)
		})

		if s.deps.Hub != nil {
			r.Get("/ws", s.deps.Hub.ServeHTTP)
		}
	})

	return r
}
