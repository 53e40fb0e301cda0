package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// telemetryMeasurement is the measurement name for device telemetry points.
const telemetryMeasurement = "telemetry"

// TelemetryPoint is one device report mirrored to InfluxDB.
// Nil measurements are left out of the point.
type TelemetryPoint struct {
	DeviceID          string
	UnitType          string
	Status            string
	SignalRSSI        *int
	LatencyMS         *int
	PacketLossPercent *float64
	Timestamp         time.Time
}

// WriteTelemetry writes a device report. The write is non-blocking; data is
// batched and sent asynchronously.
//
// Tags are device_id and unit_type. The status is always written as a
// field so that status-only reports still produce a point.
func (c *Client) WriteTelemetry(p TelemetryPoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newTelemetryPoint(p))
}

func newTelemetryPoint(p TelemetryPoint) *write.Point {
	fields := map[string]interface{}{
		"status": p.Status,
	}
	if p.SignalRSSI != nil {
		fields["signal_rssi"] = int64(*p.SignalRSSI)
	}
	if p.LatencyMS != nil {
		fields["latency_ms"] = int64(*p.LatencyMS)
	}
	if p.PacketLossPercent != nil {
		fields["packet_loss_percent"] = *p.PacketLossPercent
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		telemetryMeasurement,
		map[string]string{
			"device_id": p.DeviceID,
			"unit_type": p.UnitType,
		},
		fields,
		ts,
	)
}
