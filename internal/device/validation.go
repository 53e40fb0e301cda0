package device

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength        = 100
	maxDescriptionLength = 1000
)

// Pre-computed validation set for O(1) lookups.
var validUnitTypes map[UnitType]struct{}

func init() {
	validUnitTypes = make(map[UnitType]struct{}, len(AllUnitTypes()))
	for _, ut := range AllUnitTypes() {
		validUnitTypes[ut] = struct{}{}
	}
}

// ValidateDevice checks a device before it is stored.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidName)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if len(d.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidName, maxDescriptionLength)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, d.Status)
	}
	if _, ok := validUnitTypes[d.UnitType]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidUnitType, d.UnitType)
	}
	if d.Position != nil {
		if err := ValidatePosition(*d.Position); err != nil {
			return err
		}
	}
	return nil
}

// ValidateName checks that a device name is present and not too long.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(trimmed) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidatePosition checks latitude and longitude ranges.
func ValidatePosition(p Position) error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidPosition, p.Lat)
	}
	if math.IsNaN(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidPosition, p.Lon)
	}
	return nil
}

// ValidateTelemetry enforces the stored ranges of a telemetry record.
func ValidateTelemetry(r *TelemetryRecord) error {
	if r.LatencyMS != nil && *r.LatencyMS < 0 {
		return fmt.Errorf("%w: latency_ms cannot be negative", ErrInvalidTelemetry)
	}
	if r.PacketLossPercent != nil {
		v := *r.PacketLossPercent
		if math.IsNaN(v) || v < 0 || v > 100 {
			return fmt.Errorf("%w: packet_loss_percent must be between 0 and 100", ErrInvalidTelemetry)
		}
	}
	return nil
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}
