package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound messages at 1 MiB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to acknowledge
// it (QoS 1 and 2) or for paho to flush it (QoS 0).
//
// Status relays publish with QoS 0 and retained=false: a retained message
// would replay an old status to every late subscriber.
//
//	err := client.Publish(client.Topics().Status(deviceID), payload, 0, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}

	return wait(c.pc.Publish(topic, qos, retained, payload), ErrPublishFailed)
}
