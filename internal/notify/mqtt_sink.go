package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unitlink/unitlink-core/internal/infrastructure/mqtt"
)

// MQTTPublisher is the part of *mqtt.Client used by MQTTSink.
type MQTTPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink publishes each update as JSON to <status_prefix>/<device_id>.
//
// Messages use QoS 0 and are not retained: an observer that connects
// later must not receive an old snapshot.
type MQTTSink struct {
	client MQTTPublisher
	topics mqtt.Topics
}

// NewMQTTSink creates a sink publishing through client.
func NewMQTTSink(client MQTTPublisher, topics mqtt.Topics) *MQTTSink {
	return &MQTTSink{client: client, topics: topics}
}

// Name implements Sink.
func (s *MQTTSink) Name() string {
	return "mqtt"
}

// Deliver implements Sink.
func (s *MQTTSink) Deliver(_ context.Context, u StatusUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshalling status update: %w", err)
	}
	return s.client.Publish(s.topics.Status(u.ID), payload, 0, false)
}
