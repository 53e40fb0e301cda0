// Package telemetry turns device reports into committed state changes.
//
// Ingestor.Ingest is the single write path for device connectivity:
//
//  1. Normalize validates the raw report. A malformed field rejects the
//     whole report before anything is written.
//  2. One store transaction loads the device, records the status
//     transition event (see Evaluate), stores status and last_seen, appends
//     a telemetry row when at least one measurement is present, and applies
//     the optional threshold rules.
//  3. After commit the post-update state is handed to the notification
//     publisher. Publishing never fails or rolls back an ingest.
//
// Reports arrive over HTTP (package api) or MQTT (MQTTIngest).
package telemetry
