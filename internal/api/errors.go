package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/unitlink/unitlink-core/internal/alert"
	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/failure"
)

// Error codes returned in the error envelope.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeValidation   = "validation_error"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
)

// ErrorBody is the content of the error envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse is the error envelope: {"error": {...}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetails(w, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeFailure maps an error from the domain layer to an HTTP response.
// Internal causes are logged with attrs and replaced by a generic message.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error, attrs ...any) {
	switch failure.KindOf(err) {
	case failure.KindValidation:
		var details map[string]any
		var fe *failure.Error
		if errors.As(err, &fe) && fe.Field != "" {
			details = map[string]any{"field": fe.Field}
		}
		writeErrorDetails(w, http.StatusBadRequest, ErrCodeValidation, failure.PublicMessage(err), details)
	case failure.KindNotFound:
		writeError(w, http.StatusNotFound, ErrCodeNotFound, failure.PublicMessage(err))
	case failure.KindConflict:
		writeError(w, http.StatusConflict, ErrCodeConflict, failure.PublicMessage(err))
	default:
		args := append([]any{
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestIDFromContext(r.Context()),
		}, attrs...)
		s.logger.Error("request failed", args...)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, failure.PublicMessage(err))
	}
}

// deviceError translates device repository sentinels into the failure
// taxonomy. Errors already classified pass through.
func deviceError(err error, id string) error {
	var fe *failure.Error
	switch {
	case errors.As(err, &fe):
		return err
	case errors.Is(err, device.ErrDeviceNotFound):
		return failure.NotFound("device", id)
	case errors.Is(err, device.ErrDeviceNameTaken):
		return &failure.Error{Kind: failure.KindConflict, Field: "name", Message: err.Error(), Err: err}
	case errors.Is(err, device.ErrInvalidName):
		return validationFrom("name", err)
	case errors.Is(err, device.ErrInvalidUnitType):
		return validationFrom("unit_type", err)
	case errors.Is(err, device.ErrInvalidPosition):
		return validationFrom("position", err)
	case errors.Is(err, device.ErrInvalidStatus):
		return validationFrom("status", err)
	}
	return err
}

// alertError translates alert repository sentinels into the failure taxonomy.
func alertError(err error, id string) error {
	if errors.Is(err, alert.ErrAlertNotFound) {
		return failure.NotFound("alert", id)
	}
	return err
}

func validationFrom(field string, err error) error {
	return &failure.Error{Kind: failure.KindValidation, Field: field, Message: err.Error(), Err: err}
}
