// Package mqtt is the broker connection shared by telemetry ingest and the
// status relay.
//
// Units (and the emulator) publish reports to unitlink/telemetry/<device_id>.
// Committed status updates are relayed to unitlink/status/<device_id> at
// QoS 0 without the retain flag, so late subscribers never see a stale
// update. The service's own presence is retained on unitlink/system/status
// and flips to offline through the will message if the process dies.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllTelemetry(), 1, handle)
//
// Subscriptions are replayed after every reconnect.
package mqtt
