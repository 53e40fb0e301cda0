package telemetry

import (
	"context"
	"database/sql"
	"time"

	"github.com/unitlink/unitlink-core/internal/alert"
	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/eventlog"
	"github.com/unitlink/unitlink-core/internal/infrastructure/database"
)

// Store runs ingest work in a single transaction.
type Store interface {
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of writes an ingest performs. Everything done through one
// Tx commits or rolls back together.
type Tx interface {
	Device(ctx context.Context, id string) (*device.Device, error)
	UpdateConnectivity(ctx context.Context, id string, status device.Status, lastSeen time.Time) (int64, error)
	AppendTelemetry(ctx context.Context, record *device.TelemetryRecord) error
	AppendEvent(ctx context.Context, event *eventlog.Event) error
	CreateAlert(ctx context.Context, a *alert.Alert) error
}

// SQLiteStore implements Store on the SQLite database. The single writer
// connection serialises concurrent ingests for the same device.
type SQLiteStore struct {
	db *database.DB

	// beforeCommit runs after fn succeeds and before commit. An error
	// rolls the transaction back. Tests use it to force a failed commit.
	beforeCommit func() error
}

// NewSQLiteStore creates a store on db.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// WithinTx implements Store.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := fn(newSQLiteTx(tx)); err != nil {
			return err
		}
		if s.beforeCommit != nil {
			return s.beforeCommit()
		}
		return nil
	})
}

type sqliteTx struct {
	devices   *device.SQLiteRepository
	telemetry *device.SQLiteTelemetryRepository
	events    *eventlog.SQLiteRepository
	alerts    *alert.SQLiteRepository
}

func newSQLiteTx(tx *sql.Tx) *sqliteTx {
	return &sqliteTx{
		devices:   device.NewSQLiteRepository(tx),
		telemetry: device.NewSQLiteTelemetryRepository(tx),
		events:    eventlog.NewSQLiteRepository(tx),
		alerts:    alert.NewSQLiteRepository(tx),
	}
}

func (t *sqliteTx) Device(ctx context.Context, id string) (*device.Device, error) {
	return t.devices.GetByID(ctx, id)
}

func (t *sqliteTx) UpdateConnectivity(ctx context.Context, id string, status device.Status, lastSeen time.Time) (int64, error) {
	return t.devices.UpdateConnectivity(ctx, id, status, lastSeen)
}

func (t *sqliteTx) AppendTelemetry(ctx context.Context, record *device.TelemetryRecord) error {
	return t.telemetry.Append(ctx, record)
}

func (t *sqliteTx) AppendEvent(ctx context.Context, event *eventlog.Event) error {
	return t.events.Append(ctx, event)
}

func (t *sqliteTx) CreateAlert(ctx context.Context, a *alert.Alert) error {
	return t.alerts.Create(ctx, a)
}
