package telemetry

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/failure"
)

// Number is an optional numeric report field. It accepts a JSON number or
// a numeric string; null or a missing key leaves it unset. Parsing is
// deferred to Normalize so errors can name the field.
type Number struct {
	raw string
	set bool
}

// Int returns a set Number holding v.
func Int(v int) Number {
	return Number{raw: strconv.Itoa(v), set: true}
}

// Float returns a set Number holding v.
func Float(v float64) Number {
	return Number{raw: strconv.FormatFloat(v, 'f', -1, 64), set: true}
}

// IsSet reports whether the field was present and not null.
func (n Number) IsSet() bool {
	return n.set
}

// String returns the raw text of the value.
func (n Number) String() string {
	return n.raw
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = Number{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number{raw: strings.TrimSpace(s), set: true}
		return nil
	}
	*n = Number{raw: string(data), set: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.set {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(n.raw, 64); err == nil {
		return []byte(n.raw), nil
	}
	return json.Marshal(n.raw)
}

// Report is a raw device report as received on the wire.
type Report struct {
	// Status is matched case-insensitively. Empty means not reported.
	Status            string `json:"status,omitempty"`
	SignalRSSI        Number `json:"signal_rssi"`
	LatencyMS         Number `json:"latency_ms"`
	PacketLossPercent Number `json:"packet_loss_percent"`
}

// Sample is a validated report. Nil fields were not reported.
type Sample struct {
	Status            *device.Status
	SignalRSSI        *int
	LatencyMS         *int
	PacketLossPercent *float64
}

// HasTelemetry reports whether any measurement is present.
func (s Sample) HasTelemetry() bool {
	return s.SignalRSSI != nil || s.LatencyMS != nil || s.PacketLossPercent != nil
}

// Normalize validates r. The returned error is a failure.Validation error
// naming the first offending field.
func Normalize(r Report) (Sample, error) {
	var s Sample

	if raw := strings.TrimSpace(r.Status); raw != "" {
		status, err := device.ParseStatus(raw)
		if err != nil {
			return Sample{}, failure.Validation("status",
				"invalid status %q: must be one of ONLINE, OFFLINE, UNSTABLE, UNKNOWN", r.Status)
		}
		s.Status = &status
	}

	var err error
	if s.SignalRSSI, err = parseInt("signal_rssi", r.SignalRSSI); err != nil {
		return Sample{}, err
	}
	if s.LatencyMS, err = parseInt("latency_ms", r.LatencyMS); err != nil {
		return Sample{}, err
	}
	if s.LatencyMS != nil && *s.LatencyMS < 0 {
		return Sample{}, failure.Validation("latency_ms",
			"latency_ms must not be negative, got %d", *s.LatencyMS)
	}
	if s.PacketLossPercent, err = parsePercent("packet_loss_percent", r.PacketLossPercent); err != nil {
		return Sample{}, err
	}

	return s, nil
}

// isDecimal reports whether raw is a JSON number. It keeps strconv's
// extensions (hex floats, "Inf", "NaN", underscores) out of reports.
func isDecimal(raw string) bool {
	if raw == "" || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return false
	}
	return json.Valid([]byte(raw))
}

// parseInt accepts integer text, or a float with no fractional part.
func parseInt(field string, n Number) (*int, error) {
	if !n.set {
		return nil, nil
	}
	if !isDecimal(n.raw) {
		return nil, failure.Validation(field, "%s must be an integer, got %q", field, n.raw)
	}
	if v, err := strconv.ParseInt(n.raw, 10, 32); err == nil {
		i := int(v)
		return &i, nil
	}
	f, err := strconv.ParseFloat(n.raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) ||
		f < math.MinInt32 || f > math.MaxInt32 {
		return nil, failure.Validation(field, "%s must be an integer, got %q", field, n.raw)
	}
	i := int(f)
	return &i, nil
}

func parsePercent(field string, n Number) (*float64, error) {
	if !n.set {
		return nil, nil
	}
	if !isDecimal(n.raw) {
		return nil, failure.Validation(field, "%s must be a number, got %q", field, n.raw)
	}
	f, err := strconv.ParseFloat(n.raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, failure.Validation(field, "%s must be a number, got %q", field, n.raw)
	}
	if f < 0 || f > 100 {
		return nil, failure.Validation(field, "%s must be between 0 and 100, got %s", field, n.raw)
	}
	return &f, nil
}
