package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Device is a tracked field unit whose connectivity is monitored.
// This matches the devices table in migrations/20261001_090000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Position is nil for units without a fixed location.
	Position *Position `json:"position"`
	UnitType UnitType  `json:"unit_type"`

	// Connectivity
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen"`

	// Revision increases by one with every accepted report. Notifications
	// carry it so observers never see an older snapshot after a newer one.
	Revision int64 `json:"-"`

	// Metadata
	CreatedAt time.Time `json:"created_at"`
	CreatedBy *string   `json:"added_by_user_id"`
}

// Clone returns an independent copy of the device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	if d.Position != nil {
		p := *d.Position
		c.Position = &p
	}
	if d.LastSeen != nil {
		t := *d.LastSeen
		c.LastSeen = &t
	}
	if d.CreatedBy != nil {
		s := *d.CreatedBy
		c.CreatedBy = &s
	}
	return &c
}

// Position is a WGS84 coordinate pair. It serialises as [lat, lon].
type Position struct {
	Lat float64
	Lon float64
}

// MarshalJSON renders the position as a two-element array.
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lon})
}

// UnmarshalJSON accepts a two-element [lat, lon] array.
func (p *Position) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: expected [lat, lon]", ErrInvalidPosition)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: expected [lat, lon], got %d values", ErrInvalidPosition, len(pair))
	}
	p.Lat, p.Lon = pair[0], pair[1]
	return nil
}

// Status is the connectivity classification of a device.
type Status string

// Status constants.
const (
	StatusOnline   Status = "ONLINE"
	StatusOffline  Status = "OFFLINE"
	StatusUnstable Status = "UNSTABLE"
	StatusUnknown  Status = "UNKNOWN"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusOnline, StatusOffline, StatusUnstable, StatusUnknown}
}

// IsValid reports whether s is one of the four known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusUnstable, StatusUnknown:
		return true
	}
	return false
}

// ParseStatus matches a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(s))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

// UnitType classifies what a field unit is.
type UnitType string

// UnitType constants.
const (
	UnitTypeCommandPost      UnitType = "COMMAND_POST"
	UnitTypeObservationPost  UnitType = "OBSERVATION_POST"
	UnitTypeCommunicationHub UnitType = "COMMUNICATION_HUB"
	UnitTypeFieldUnit        UnitType = "FIELD_UNIT"
	UnitTypeLogistics        UnitType = "LOGISTICS"
	UnitTypeCheckpoint       UnitType = "CHECKPOINT"
	UnitTypeMedical          UnitType = "MEDICAL"
	UnitTypeTechnical        UnitType = "TECHNICAL"
	UnitTypeOther            UnitType = "OTHER"
)

// AllUnitTypes returns all valid unit types.
func AllUnitTypes() []UnitType {
	return []UnitType{
		UnitTypeCommandPost, UnitTypeObservationPost, UnitTypeCommunicationHub,
		UnitTypeFieldUnit, UnitTypeLogistics, UnitTypeCheckpoint,
		UnitTypeMedical, UnitTypeTechnical, UnitTypeOther,
	}
}

// ParseUnitType matches a unit type name case-insensitively.
func ParseUnitType(s string) (UnitType, error) {
	ut := UnitType(strings.ToUpper(s))
	if _, ok := validUnitTypes[ut]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidUnitType, s)
	}
	return ut, nil
}

// TelemetryRecord is one timestamped measurement reported by a device.
// Absent measurements stay nil; they are never coerced to zero.
type TelemetryRecord struct {
	ID                int64     `json:"id"`
	DeviceID          string    `json:"device_id"`
	Timestamp         time.Time `json:"timestamp"`
	SignalRSSI        *int      `json:"signal_rssi"`
	LatencyMS         *int      `json:"latency_ms"`
	PacketLossPercent *float64  `json:"packet_loss_percent"`
}

// HasMeasurements reports whether at least one measurement is present.
func (r *TelemetryRecord) HasMeasurements() bool {
	return r.SignalRSSI != nil || r.LatencyMS != nil || r.PacketLossPercent != nil
}
