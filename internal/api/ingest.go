package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/telemetry"
)

// ingestResponse is returned by a successful status report.
type ingestResponse struct {
	Message string         `json:"message"`
	Device  *device.Device `json:"device"`
}

// handleIngestStatus accepts a status and telemetry report from a device.
// Validation failures are rejected before anything is written.
func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var report telemetry.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.ingestor.Ingest(r.Context(), id, report)
	if err != nil {
		s.writeFailure(w, r, internalUnlessClassified("ingesting report", err), "device_id", id)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Message: "Device status updated successfully.",
		Device:  res.Device,
	})
}
