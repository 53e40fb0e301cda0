package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unitlink/unitlink-core/internal/infrastructure/database"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceNameTaken if the name is already used.
	Create(ctx context.Context, device *Device) error

	// Update stores the registry fields of an existing device: name,
	// description, position and unit type. Connectivity is untouched.
	// Returns ErrDeviceNotFound or ErrDeviceNameTaken.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID. Telemetry and alerts go with it;
	// log events keep their rows with device_id cleared.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateConnectivity stores status and last_seen, bumps the revision,
	// and returns the new revision.
	// Returns ErrDeviceNotFound if the device does not exist.
	UpdateConnectivity(ctx context.Context, id string, status Status, lastSeen time.Time) (int64, error)

	// CountByStatus returns the number of devices per status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// SQLiteRepository implements Repository using SQLite.
//
// It runs against a database.Querier, so the same repository type serves
// plain reads on *sql.DB and the ingest transaction on *sql.Tx.
type SQLiteRepository struct {
	db  database.Querier
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db database.Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const deviceColumns = `id, name, description, location_lat, location_lon, unit_type,
	status, last_seen, revision, created_by, created_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := make([]Device, 0)
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device. Missing id, status, unit type and created_at
// are filled in before validation.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Status == "" {
		d.Status = StatusUnknown
	}
	if d.UnitType == "" {
		d.UnitType = UnitTypeOther
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now().UTC()
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}

	var lat, lon sql.NullFloat64
	if d.Position != nil {
		lat = sql.NullFloat64{Float64: d.Position.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: d.Position.Lon, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, description, location_lat, location_lon, unit_type,
			status, last_seen, revision, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.Name,
		database.NullString(d.Description),
		lat,
		lon,
		string(d.UnitType),
		string(d.Status),
		database.NullTime(d.LastSeen),
		d.Revision,
		nullableString(d.CreatedBy),
		database.FormatTime(d.CreatedAt),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrDeviceNameTaken, d.Name)
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update writes the registry fields of d after validating it.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	d.Name = strings.TrimSpace(d.Name)
	if err := ValidateDevice(d); err != nil {
		return err
	}

	var lat, lon sql.NullFloat64
	if d.Position != nil {
		lat = sql.NullFloat64{Float64: d.Position.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: d.Position.Lon, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET name = ?, description = ?, location_lat = ?, location_lon = ?, unit_type = ?
		WHERE id = ?`,
		d.Name,
		database.NullString(d.Description),
		lat,
		lon,
		string(d.UnitType),
		d.ID,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrDeviceNameTaken, d.Name)
		}
		return fmt.Errorf("updating device: %w", err)
	}
	return requireOneRow(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireOneRow(result)
}

// UpdateConnectivity stores status and last_seen and bumps the revision.
func (r *SQLiteRepository) UpdateConnectivity(ctx context.Context, id string, status Status, lastSeen time.Time) (int64, error) {
	if !status.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var revision int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE devices
		SET status = ?, last_seen = ?, revision = revision + 1
		WHERE id = ?
		RETURNING revision`,
		string(status),
		database.FormatTime(lastSeen),
		id,
	).Scan(&revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrDeviceNotFound
		}
		return 0, fmt.Errorf("updating device connectivity: %w", err)
	}
	return revision, nil
}

// CountByStatus returns the number of devices per status. Statuses with no
// devices are reported as zero.
func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	counts := make(map[Status]int, len(AllStatuses()))
	for _, s := range AllStatuses() {
		counts[s] = 0
	}

	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM devices GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting devices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning device count: %w", err)
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device counts: %w", err)
	}
	return counts, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var (
		d           Device
		description sql.NullString
		lat, lon    sql.NullFloat64
		unitType    string
		status      string
		lastSeen    sql.NullString
		createdBy   sql.NullString
		createdAt   string
	)

	if err := scanner.Scan(
		&d.ID, &d.Name, &description, &lat, &lon, &unitType,
		&status, &lastSeen, &d.Revision, &createdBy, &createdAt,
	); err != nil {
		return nil, err
	}

	d.Description = description.String
	if lat.Valid && lon.Valid {
		d.Position = &Position{Lat: lat.Float64, Lon: lon.Float64}
	}
	d.UnitType = UnitType(unitType)
	d.Status = Status(status)
	if createdBy.Valid {
		d.CreatedBy = &createdBy.String
	}

	var err error
	if d.LastSeen, err = database.ParseNullTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	if d.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &d, nil
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
