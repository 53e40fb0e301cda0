// Package influxdb mirrors device telemetry into InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. SQLite stays the
// system of record; InfluxDB receives a copy of every committed report for
// dashboards and long-range queries.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetry(influxdb.TelemetryPoint{
//	    DeviceID:  id,
//	    Status:    "ONLINE",
//	    LatencyMS: &latency,
//	})
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch errors arrive through the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
