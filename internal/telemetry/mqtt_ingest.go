package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unitlink/unitlink-core/internal/failure"
	"github.com/unitlink/unitlink-core/internal/infrastructure/mqtt"
)

// MQTTSubscriber is the part of *mqtt.Client used by MQTTIngest.
type MQTTSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MQTTIngest feeds reports published on <telemetry_prefix>/<device_id>
// into an Ingestor.
type MQTTIngest struct {
	client   MQTTSubscriber
	topics   mqtt.Topics
	qos      byte
	ingestor *Ingestor
	logger   Logger

	// ctx bounds ingests started from message callbacks.
	ctx context.Context
}

// NewMQTTIngest creates an MQTT ingest adapter.
func NewMQTTIngest(client MQTTSubscriber, topics mqtt.Topics, qos byte, ingestor *Ingestor, logger Logger) *MQTTIngest {
	if logger == nil {
		logger = nopLogger{}
	}
	return &MQTTIngest{
		client:   client,
		topics:   topics,
		qos:      qos,
		ingestor: ingestor,
		logger:   logger,
		ctx:      context.Background(),
	}
}

// Start subscribes to every device telemetry topic. Ingests started by
// incoming messages use ctx.
func (m *MQTTIngest) Start(ctx context.Context) error {
	m.ctx = ctx
	topic := m.topics.AllTelemetry()
	if err := m.client.Subscribe(topic, m.qos, m.handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	m.logger.Info("listening for device telemetry", "topic", topic)
	return nil
}

// Stop unsubscribes from the telemetry topics.
func (m *MQTTIngest) Stop() error {
	return m.client.Unsubscribe(m.topics.AllTelemetry())
}

// handle processes one message. Rejected reports are logged here and not
// returned, so only store failures reach the client's error log.
func (m *MQTTIngest) handle(topic string, payload []byte) error {
	deviceID, ok := m.topics.TelemetryDeviceID(topic)
	if !ok {
		m.logger.Warn("ignoring message on unexpected topic", "topic", topic)
		return nil
	}

	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		m.logger.Warn("invalid telemetry payload",
			"device_id", deviceID,
			"error", err,
		)
		return nil
	}

	res, err := m.ingestor.Ingest(m.ctx, deviceID, report)
	if err != nil {
		if failure.KindOf(err) == failure.KindInternal {
			return err
		}
		m.logger.Warn("telemetry report rejected",
			"device_id", deviceID,
			"error", err,
		)
		return nil
	}

	m.logger.Debug("telemetry report accepted",
		"device_id", deviceID,
		"status", res.Device.Status,
	)
	return nil
}
