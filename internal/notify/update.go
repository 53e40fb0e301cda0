package notify

import (
	"time"

	"github.com/unitlink/unitlink-core/internal/device"
)

// EventStatusUpdate is the event name observers receive.
const EventStatusUpdate = "unit_status_update"

// TelemetrySnapshot holds the values of the report that produced an update.
// Absent values stay nil.
type TelemetrySnapshot struct {
	SignalRSSI        *int      `json:"signal_rssi"`
	LatencyMS         *int      `json:"latency_ms"`
	PacketLossPercent *float64  `json:"packet_loss_percent"`
	Timestamp         time.Time `json:"timestamp"`
}

// StatusUpdate is the device state after a committed report plus the
// telemetry that came with it.
type StatusUpdate struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	Position        *device.Position  `json:"position"`
	Status          device.Status     `json:"status"`
	UnitType        device.UnitType   `json:"unit_type"`
	LastSeen        *time.Time        `json:"last_seen"`
	CreatedAt       time.Time         `json:"created_at"`
	LatestTelemetry TelemetrySnapshot `json:"latest_telemetry"`

	revision int64
}

// NewStatusUpdate builds an update from a committed device row.
func NewStatusUpdate(d *device.Device, telemetry TelemetrySnapshot) StatusUpdate {
	c := d.Clone()
	return StatusUpdate{
		ID:              c.ID,
		Name:            c.Name,
		Description:     c.Description,
		Position:        c.Position,
		Status:          c.Status,
		UnitType:        c.UnitType,
		LastSeen:        c.LastSeen,
		CreatedAt:       c.CreatedAt,
		LatestTelemetry: telemetry,
		revision:        c.Revision,
	}
}

// Revision is the device revision the update was built from.
func (u StatusUpdate) Revision() int64 {
	return u.revision
}

// Envelope is the framed form sent to websocket and Redis observers.
type Envelope struct {
	Type      string       `json:"type"`
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   StatusUpdate `json:"payload"`
}

// NewEnvelope frames an update as a unit_status_update event.
func NewEnvelope(u StatusUpdate) Envelope {
	return Envelope{
		Type:      "event",
		Event:     EventStatusUpdate,
		Timestamp: time.Now().UTC(),
		Payload:   u,
	}
}
