package notify

import (
	"context"

	"github.com/unitlink/unitlink-core/internal/infrastructure/influxdb"
)

// TelemetryWriter is the part of *influxdb.Client used by InfluxSink.
type TelemetryWriter interface {
	WriteTelemetry(p influxdb.TelemetryPoint)
}

// InfluxSink mirrors each update into InfluxDB as a telemetry point.
// Writes are batched by the client and never block delivery.
type InfluxSink struct {
	writer TelemetryWriter
}

// NewInfluxSink creates a sink writing through w.
func NewInfluxSink(w TelemetryWriter) *InfluxSink {
	return &InfluxSink{writer: w}
}

// Name implements Sink.
func (s *InfluxSink) Name() string {
	return "influxdb"
}

// Deliver implements Sink.
func (s *InfluxSink) Deliver(_ context.Context, u StatusUpdate) error {
	ts := u.LatestTelemetry.Timestamp
	if ts.IsZero() && u.LastSeen != nil {
		ts = *u.LastSeen
	}
	s.writer.WriteTelemetry(influxdb.TelemetryPoint{
		DeviceID:          u.ID,
		UnitType:          string(u.UnitType),
		Status:            string(u.Status),
		SignalRSSI:        u.LatestTelemetry.SignalRSSI,
		LatencyMS:         u.LatestTelemetry.LatencyMS,
		PacketLossPercent: u.LatestTelemetry.PacketLossPercent,
		Timestamp:         ts,
	})
	return nil
}
