// Package alert stores actionable notifications that need a human to
// acknowledge them.
//
// An alert moves from unacknowledged to acknowledged exactly once. Repeated
// acknowledgments return the stored state and change nothing.
package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Domain errors.
var (
	// ErrAlertNotFound is returned when an alert ID does not exist.
	ErrAlertNotFound = errors.New("alert: not found")

	// ErrInvalidSeverity is returned for an unrecognised severity.
	ErrInvalidSeverity = errors.New("alert: invalid severity")

	// ErrInvalidAlert is returned when required fields are missing.
	ErrInvalidAlert = errors.New("alert: invalid alert")
)

// Severity ranks an alert.
type Severity string

// Severity constants.
const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// ParseSeverity matches a severity name case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(s))
	if !sev.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
	}
	return sev, nil
}

// Alert is an actionable notification, optionally tied to a device.
type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`

	IsAcknowledged bool       `json:"is_acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	AcknowledgedBy *string    `json:"acknowledged_by_user_id"`

	// DeviceID is nil for system-wide alerts.
	DeviceID *string `json:"device_id"`

	// DeviceName is filled on reads only.
	DeviceName string `json:"device_name"`
}

// GenerateID creates a new alert ID.
func GenerateID() string {
	return uuid.New().String()
}
