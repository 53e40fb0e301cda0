package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/unitlink/unitlink-core/internal/alert"
	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/eventlog"
	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
)

// Thresholds are optional limits on reported measurements. A nil limit
// disables that rule. A breach records a PARAMETER_THRESHOLD event and a
// WARNING alert for the device in the ingest transaction.
type Thresholds struct {
	MinSignalRSSI        *int
	MaxLatencyMS         *int
	MaxPacketLossPercent *float64
}

// ThresholdsFromConfig copies the configured limits.
func ThresholdsFromConfig(cfg config.ThresholdsConfig) Thresholds {
	return Thresholds{
		MinSignalRSSI:        cfg.MinSignalRSSI,
		MaxLatencyMS:         cfg.MaxLatencyMS,
		MaxPacketLossPercent: cfg.MaxPacketLossPercent,
	}
}

// Breach is one measurement outside its limit.
type Breach struct {
	Parameter string
	Value     string
	Limit     string
	Message   string
}

// Check returns the breaches in s for the named device.
func (t Thresholds) Check(deviceName string, s Sample) []Breach {
	var out []Breach

	if t.MinSignalRSSI != nil && s.SignalRSSI != nil && *s.SignalRSSI < *t.MinSignalRSSI {
		out = append(out, newBreach(deviceName, "signal_rssi", "below the minimum",
			strconv.Itoa(*s.SignalRSSI), strconv.Itoa(*t.MinSignalRSSI)))
	}
	if t.MaxLatencyMS != nil && s.LatencyMS != nil && *s.LatencyMS > *t.MaxLatencyMS {
		out = append(out, newBreach(deviceName, "latency_ms", "above the maximum",
			strconv.Itoa(*s.LatencyMS), strconv.Itoa(*t.MaxLatencyMS)))
	}
	if t.MaxPacketLossPercent != nil && s.PacketLossPercent != nil && *s.PacketLossPercent > *t.MaxPacketLossPercent {
		out = append(out, newBreach(deviceName, "packet_loss_percent", "above the maximum",
			formatFloat(*s.PacketLossPercent), formatFloat(*t.MaxPacketLossPercent)))
	}

	return out
}

func newBreach(deviceName, parameter, relation, value, limit string) Breach {
	return Breach{
		Parameter: parameter,
		Value:     value,
		Limit:     limit,
		Message:   fmt.Sprintf("%s %s %s is %s of %s.", deviceName, parameter, value, relation, limit),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// record writes the event and alert for every breach.
func (t Thresholds) record(ctx context.Context, tx Tx, d *device.Device, s Sample, at time.Time) ([]eventlog.Event, []alert.Alert, error) {
	breaches := t.Check(d.Name, s)
	if len(breaches) == 0 {
		return nil, nil, nil
	}

	events := make([]eventlog.Event, 0, len(breaches))
	alerts := make([]alert.Alert, 0, len(breaches))
	for _, b := range breaches {
		deviceID := d.ID

		ev := eventlog.Event{
			Timestamp:  at,
			EventType:  eventlog.EventParameterThreshold,
			Message:    b.Message,
			DeviceID:   &deviceID,
			DeviceName: d.Name,
			Details: map[string]any{
				"parameter": b.Parameter,
				"value":     b.Value,
				"threshold": b.Limit,
			},
		}
		if err := tx.AppendEvent(ctx, &ev); err != nil {
			return nil, nil, fmt.Errorf("appending threshold event: %w", err)
		}

		a := alert.Alert{
			Timestamp:  at,
			Severity:   alert.SeverityWarning,
			Message:    b.Message,
			DeviceID:   &deviceID,
			DeviceName: d.Name,
		}
		if err := tx.CreateAlert(ctx, &a); err != nil {
			return nil, nil, fmt.Errorf("creating threshold alert: %w", err)
		}

		events = append(events, ev)
		alerts = append(alerts, a)
	}
	return events, alerts, nil
}
