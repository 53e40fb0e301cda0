package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 2 * time.Second

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	WSClients int               `json:"websocket_clients"`
}

// handleHealth reports dependency state. Only the database is required;
// a disconnected MQTT broker degrades but does not fail the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Version:   s.version,
		Checks:    map[string]string{},
		WSClients: s.hub.ClientCount(),
	}
	status := http.StatusOK

	if err := s.db.HealthCheck(ctx); err != nil {
		s.logger.Warn("database health check failed", "error", err)
		resp.Status = "unavailable"
		resp.Checks["database"] = "error"
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["database"] = "ok"
	}

	switch {
	case s.mqtt == nil:
		resp.Checks["mqtt"] = "disabled"
	case s.mqtt.IsConnected():
		resp.Checks["mqtt"] = "ok"
	default:
		resp.Checks["mqtt"] = "disconnected"
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, status, resp)
}
