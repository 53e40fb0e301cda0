package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/eventlog"
	"github.com/unitlink/unitlink-core/internal/failure"
	"github.com/unitlink/unitlink-core/internal/infrastructure/database"
)

// createDeviceRequest is the body of POST /devices.
type createDeviceRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Position    *device.Position `json:"position"`
	UnitType    string           `json:"unit_type"`
}

// updateDeviceRequest is the body of PUT /devices/{id}. Absent fields are
// left unchanged; "position": null removes the position.
type updateDeviceRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Position    optionalPosition `json:"position"`
	UnitType    *string          `json:"unit_type"`
}

// optionalPosition tells an absent position apart from an explicit null.
type optionalPosition struct {
	set bool
	pos *device.Position
}

func (o *optionalPosition) UnmarshalJSON(data []byte) error {
	o.set = true
	if string(data) == "null" {
		o.pos = nil
		return nil
	}
	var p device.Position
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	o.pos = &p
	return nil
}

// handleListDevices returns all devices ordered by name.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		s.writeFailure(w, r, failure.Internal("listing devices", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, internalUnlessClassified("getting device", deviceError(err, id)), "device_id", id)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice registers a device and records a CONFIG_UPDATE event
// in the same transaction.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{
		Name:        req.Name,
		Description: req.Description,
		Position:    req.Position,
	}
	if req.UnitType != "" {
		unitType, err := device.ParseUnitType(req.UnitType)
		if err != nil {
			s.writeFailure(w, r, deviceError(err, ""))
			return
		}
		dev.UnitType = unitType
	}

	var userID *string
	if claims := claimsFromContext(r.Context()); claims != nil {
		userID = &claims.Subject
		dev.CreatedBy = userID
	}

	ctx := r.Context()
	err := database.InTx(ctx, s.db, func(q database.Querier) error {
		if err := device.NewSQLiteRepository(q).Create(ctx, dev); err != nil {
			return err
		}
		return eventlog.NewSQLiteRepository(q).Append(ctx, &eventlog.Event{
			EventType: eventlog.EventConfigUpdate,
			Message:   fmt.Sprintf("Device %s registered.", dev.Name),
			DeviceID:  &dev.ID,
			UserID:    userID,
			Details: map[string]any{
				"unit_type": string(dev.UnitType),
			},
		})
	})
	if err != nil {
		s.writeFailure(w, r, internalUnlessClassified("creating device", deviceError(err, dev.ID)))
		return
	}

	s.logger.Info("device registered", "device_id", dev.ID, "name", dev.Name)
	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice edits name, description, position and unit type.
// A real change is stored together with a CONFIG_UPDATE event; a request
// that changes nothing writes nothing and still answers 200.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	changes := device.Changes{Name: req.Name, Description: req.Description}
	if req.Position.set {
		changes.Position = req.Position.pos
		changes.ClearPosition = req.Position.pos == nil
	}
	if req.UnitType != nil {
		unitType, err := device.ParseUnitType(*req.UnitType)
		if err != nil {
			s.writeFailure(w, r, deviceError(err, id))
			return
		}
		changes.UnitType = &unitType
	}

	var userID *string
	if claims := claimsFromContext(r.Context()); claims != nil {
		userID = &claims.Subject
	}

	ctx := r.Context()
	var (
		dev     *device.Device
		changed []string
	)
	err := database.InTx(ctx, s.db, func(q database.Querier) error {
		devices := device.NewSQLiteRepository(q)
		d, err := devices.GetByID(ctx, id)
		if err != nil {
			return err
		}
		dev = d
		if changed = changes.Apply(d); len(changed) == 0 {
			return nil
		}
		if err := devices.Update(ctx, d); err != nil {
			return err
		}
		return eventlog.NewSQLiteRepository(q).Append(ctx, &eventlog.Event{
			EventType: eventlog.EventConfigUpdate,
			Message:   fmt.Sprintf("Device %s updated.", d.Name),
			DeviceID:  &d.ID,
			UserID:    userID,
			Details:   map[string]any{"changed": changed},
		})
	})
	if err != nil {
		s.writeFailure(w, r, internalUnlessClassified("updating device", deviceError(err, id)), "device_id", id)
		return
	}

	message := "Device updated."
	if len(changed) == 0 {
		message = "No changes detected."
		changed = []string{}
	} else {
		s.logger.Info("device updated", "device_id", id, "changed", changed)
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": message, "device": dev, "changed": changed})
}

// handleDeleteDevice removes a device. Telemetry and alerts cascade; the
// USER_ACTION event is written without a device reference so it survives.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var userID *string
	if claims := claimsFromContext(r.Context()); claims != nil {
		userID = &claims.Subject
	}

	ctx := r.Context()
	err := database.InTx(ctx, s.db, func(q database.Querier) error {
		devices := device.NewSQLiteRepository(q)
		dev, err := devices.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := devices.Delete(ctx, id); err != nil {
			return err
		}
		return eventlog.NewSQLiteRepository(q).Append(ctx, &eventlog.Event{
			EventType: eventlog.EventUserAction,
			Message:   fmt.Sprintf("Device %s deleted.", dev.Name),
			UserID:    userID,
			Details: map[string]any{
				"device_id":   dev.ID,
				"device_name": dev.Name,
			},
		})
	})
	if err != nil {
		s.writeFailure(w, r, internalUnlessClassified("deleting device", deviceError(err, id)), "device_id", id)
		return
	}

	s.broker.Forget(id)
	s.logger.Info("device deleted", "device_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceHistory returns telemetry records for a device, newest first.
//
// Query parameters:
//   - limit: number of records (default 50, max 500)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	ctx := r.Context()
	if _, err := s.devices.GetByID(ctx, id); err != nil {
		s.writeFailure(w, r, internalUnlessClassified("getting device", deviceError(err, id)), "device_id", id)
		return
	}

	records, err := s.history.ListByDevice(ctx, id, limit)
	if err != nil {
		s.writeFailure(w, r, failure.Internal("listing telemetry", err), "device_id", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "history": records})
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, failure.Validation(name, "%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

// internalUnlessClassified wraps errors outside the failure taxonomy as
// Internal so their cause is logged and hidden.
func internalUnlessClassified(op string, err error) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	return failure.Internal(op, err)
}
