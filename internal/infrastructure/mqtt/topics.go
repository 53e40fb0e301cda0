package mqtt

import (
	"fmt"
	"strings"

	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
)

// Topic prefixes used when configuration leaves them empty.
const (
	// DefaultTelemetryPrefix is the base for device telemetry reports.
	DefaultTelemetryPrefix = "unitlink/telemetry"

	// DefaultStatusPrefix is the base for relayed device status updates.
	DefaultStatusPrefix = "unitlink/status"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "unitlink/system"
)

// Topics provides builders for UnitLink MQTT topics.
// Using these helpers keeps topic naming consistent between the service,
// the emulator and the relay sinks.
//
//	topics := mqtt.NewTopics(cfg.MQTT.Topics)
//	topics.Telemetry("6f1c...")   // "unitlink/telemetry/6f1c..."
//	topics.Status("6f1c...")      // "unitlink/status/6f1c..."
type Topics struct {
	TelemetryPrefix string
	StatusPrefix    string
}

// NewTopics builds topic helpers from configuration, filling empty prefixes
// with the defaults.
func NewTopics(cfg config.MQTTTopicsConfig) Topics {
	t := Topics{
		TelemetryPrefix: strings.TrimSuffix(cfg.TelemetryPrefix, "/"),
		StatusPrefix:    strings.TrimSuffix(cfg.StatusPrefix, "/"),
	}
	if t.TelemetryPrefix == "" {
		t.TelemetryPrefix = DefaultTelemetryPrefix
	}
	if t.StatusPrefix == "" {
		t.StatusPrefix = DefaultStatusPrefix
	}
	return t
}

// Telemetry returns the topic a device publishes its reports to.
//
// Example: unitlink/telemetry/<device_id>
func (t Topics) Telemetry(deviceID string) string {
	return fmt.Sprintf("%s/%s", t.TelemetryPrefix, deviceID)
}

// AllTelemetry returns a pattern matching every device's telemetry topic.
//
// Pattern: unitlink/telemetry/+
func (t Topics) AllTelemetry() string {
	return t.TelemetryPrefix + "/+"
}

// Status returns the topic status updates for a device are relayed on.
//
// Example: unitlink/status/<device_id>
func (t Topics) Status(deviceID string) string {
	return fmt.Sprintf("%s/%s", t.StatusPrefix, deviceID)
}

// AllStatus returns a pattern matching every relayed status topic.
//
// Pattern: unitlink/status/+
func (t Topics) AllStatus() string {
	return t.StatusPrefix + "/+"
}

// SystemStatus returns the service liveness topic used for the LWT.
//
// Example: unitlink/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// TelemetryDeviceID extracts the device ID from a telemetry topic. It
// returns false for topics outside the telemetry prefix or with extra levels.
func (t Topics) TelemetryDeviceID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.TelemetryPrefix+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
