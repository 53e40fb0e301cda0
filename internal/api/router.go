package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unitlink/unitlink-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	if s.metricsCfg.Enabled {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystemMetrics)

		// Device reports authenticate with the shared device key.
		r.With(s.deviceKeyMiddleware).Post("/devices/{id}/status", s.handleIngestStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListDevices)
				r.With(s.requirePermission(auth.PermDeviceManage)).Post("/", s.handleCreateDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(s.requirePermission(auth.PermDeviceManage)).Put("/", s.handleUpdateDevice)
					r.With(s.requirePermission(auth.PermDeviceManage)).Delete("/", s.handleDeleteDevice)
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/history", s.handleDeviceHistory)
				})
			})

			r.With(s.requirePermission(auth.PermLogRead)).Get("/logs", s.handleListLogs)

			r.Route("/alerts", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermLogRead)).Get("/", s.handleListAlerts)
				r.With(s.requirePermission(auth.PermLogRead)).Get("/unacknowledged", s.handleListAlerts)
				r.With(s.requirePermission(auth.PermAlertAcknowledge)).Post("/{id}/acknowledge", s.handleAcknowledgeAlert)
			})

			r.With(s.requirePermission(auth.PermDeviceRead)).Get(s.wsPath(), s.handleWebSocket)
		})
	})

	return r
}

// wsPath is the websocket route under /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}
