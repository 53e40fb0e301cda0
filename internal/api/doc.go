// Package api implements the HTTP REST API and WebSocket server for UnitLink Core.
//
// This package provides:
//   - the device report endpoint, guarded by the shared device API key
//   - device registry, telemetry history, event log and alert endpoints,
//     guarded by JWT bearer tokens and role permissions
//   - a WebSocket hub that relays unit_status_update events from the
//     notification broker
//   - health, system snapshot and Prometheus endpoints
//
// # Errors
//
// Handlers return the envelope {"error": {"code", "message", "details"}}.
// Failures are classified with the failure package; internal causes are
// logged and the caller sees a generic message.
//
// # Real-time delivery
//
// The hub is one broker subscriber. Each client has its own buffered send
// channel; a client that cannot keep up is disconnected so the broadcast
// never waits on a slow socket.
package api
