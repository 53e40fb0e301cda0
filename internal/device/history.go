package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unitlink/unitlink-core/internal/infrastructure/database"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// TelemetryRepository stores the append-only telemetry history of devices.
type TelemetryRepository interface {
	// Append inserts a record and sets its ID.
	Append(ctx context.Context, record *TelemetryRecord) error

	// ListByDevice returns the newest records for a device, newest first.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]TelemetryRecord, error)

	// PruneOlderThan deletes records with a timestamp before cutoff.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteTelemetryRepository implements TelemetryRepository using SQLite.
type SQLiteTelemetryRepository struct {
	db database.Querier
}

// NewSQLiteTelemetryRepository creates a new SQLite telemetry repository.
func NewSQLiteTelemetryRepository(db database.Querier) *SQLiteTelemetryRepository {
	return &SQLiteTelemetryRepository{db: db}
}

// Append inserts a telemetry record. Records without any measurement are
// rejected: a status-only report leaves no history row.
func (r *SQLiteTelemetryRepository) Append(ctx context.Context, record *TelemetryRecord) error {
	if record.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if !record.HasMeasurements() {
		return fmt.Errorf("%w: record has no measurements", ErrInvalidTelemetry)
	}
	if err := ValidateTelemetry(record); err != nil {
		return err
	}

	var loss sql.NullFloat64
	if record.PacketLossPercent != nil {
		loss = sql.NullFloat64{Float64: *record.PacketLossPercent, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO telemetry_records (device_id, timestamp, signal_rssi, latency_ms, packet_loss_percent)
		VALUES (?, ?, ?, ?, ?)`,
		record.DeviceID,
		database.FormatTime(record.Timestamp),
		nullableInt(record.SignalRSSI),
		nullableInt(record.LatencyMS),
		loss,
	)
	if err != nil {
		return fmt.Errorf("inserting telemetry record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading telemetry record id: %w", err)
	}
	record.ID = id
	return nil
}

// ListByDevice returns recent records for a device, newest first.
// limit defaults to 50 and is capped at 500.
func (r *SQLiteTelemetryRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]TelemetryRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, timestamp, signal_rssi, latency_ms, packet_loss_percent
		FROM telemetry_records
		WHERE device_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry history: %w", err)
	}
	defer rows.Close()

	records := make([]TelemetryRecord, 0, limit)
	for rows.Next() {
		var (
			rec       TelemetryRecord
			timestamp string
			signal    sql.NullInt64
			latency   sql.NullInt64
			loss      sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &timestamp, &signal, &latency, &loss); err != nil {
			return nil, fmt.Errorf("scanning telemetry record: %w", err)
		}
		if rec.Timestamp, err = database.ParseTime(timestamp); err != nil {
			return nil, err
		}
		if signal.Valid {
			v := int(signal.Int64)
			rec.SignalRSSI = &v
		}
		if latency.Valid {
			v := int(latency.Int64)
			rec.LatencyMS = &v
		}
		if loss.Valid {
			v := loss.Float64
			rec.PacketLossPercent = &v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry history: %w", err)
	}
	return records, nil
}

// PruneOlderThan deletes records older than cutoff and returns the count.
func (r *SQLiteTelemetryRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM telemetry_records WHERE timestamp < ?",
		database.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning telemetry history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
