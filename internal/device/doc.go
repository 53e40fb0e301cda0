// Package device holds the tracked field units and their telemetry history.
//
// A Device carries its identity, classification, optional position and the
// connectivity state maintained by the ingest pipeline: Status, LastSeen and
// a Revision counter bumped on every accepted report.
//
// Persistence is split in two repositories that both run on a
// database.Querier, so they can join the caller's transaction:
//
//   - SQLiteRepository: devices table (create, read, delete, connectivity update)
//   - SQLiteTelemetryRepository: telemetry_records, append-only
//
// Deleting a device cascades to its telemetry and alerts. Log events keep
// their rows with device_id set to NULL.
//
// # Usage
//
//	devices := device.NewSQLiteRepository(db)
//	d := &device.Device{Name: "Alpha-1", UnitType: device.UnitTypeCommandPost}
//	if err := devices.Create(ctx, d); err != nil {
//	    return err
//	}
package device
