package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unitlink/unitlink-core/internal/eventlog"
	"github.com/unitlink/unitlink-core/internal/failure"
)

// handleListLogs returns one page of the event log, newest first.
//
// Query parameters:
//   - page, per_page: pagination (defaults 1 and 20, per_page max 100)
//   - device_id: only events for this device
//   - event_type: only events of this type
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	perPage, err := queryInt(r, "per_page")
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	query := eventlog.Query{
		Page:     page,
		PerPage:  perPage,
		DeviceID: r.URL.Query().Get("device_id"),
	}
	if raw := r.URL.Query().Get("event_type"); raw != "" {
		eventType, err := eventlog.ParseEventType(raw)
		if err != nil {
			s.writeFailure(w, r, failure.Validation("event_type", "unknown event type %q", raw))
			return
		}
		query.EventType = eventType
	}

	result, err := s.events.List(r.Context(), query)
	if err != nil {
		s.writeFailure(w, r, failure.Internal("listing log events", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListAlerts returns unacknowledged alerts, newest first.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.alerts.ListUnacknowledged(r.Context())
	if err != nil {
		s.writeFailure(w, r, failure.Internal("listing alerts", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// handleAcknowledgeAlert acknowledges an alert on behalf of the caller.
// Acknowledging twice returns the stored state.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var userID string
	if claims := claimsFromContext(r.Context()); claims != nil {
		userID = claims.Subject
	}

	a, err := s.alerts.Acknowledge(r.Context(), id, userID)
	if err != nil {
		s.writeFailure(w, r, internalUnlessClassified("acknowledging alert", alertError(err, id)), "alert_id", id)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
