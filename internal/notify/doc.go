// Package notify fans committed device status updates out to observers.
//
// The ingest path hands each update to Broker.Publish, which only enqueues
// and never blocks. A single dispatcher goroutine (Broker.Run) copies each
// update to every subscriber's buffered channel. Delivery is at-most-once:
// a full subscriber buffer drops the update, and a subscriber that joins
// later never sees earlier updates.
//
// For each device the dispatcher forwards snapshots in increasing revision
// order and discards older ones that arrive late, so every subscriber sees
// a device's states in commit order.
//
// Sinks relay updates to the outside world. Each runs as its own subscriber
// via RunSink: MQTTSink, RedisSink and InfluxSink here, and the websocket
// hub in package api.
package notify
