package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unitlink/unitlink-core/internal/eventlog"
	"github.com/unitlink/unitlink-core/internal/infrastructure/database"
)

// Repository defines the alert sink operations.
type Repository interface {
	// Create inserts a new alert. ID, timestamp and severity are defaulted.
	Create(ctx context.Context, alert *Alert) error

	// GetByID returns ErrAlertNotFound if the alert does not exist.
	GetByID(ctx context.Context, id string) (*Alert, error)

	// ListUnacknowledged returns open alerts, newest first.
	ListUnacknowledged(ctx context.Context) ([]Alert, error)

	// Acknowledge marks an alert acknowledged by userID. It is idempotent:
	// an acknowledged alert is returned unchanged.
	Acknowledge(ctx context.Context, id, userID string) (*Alert, error)
}

// SQLiteRepository stores alerts in the alerts table.
type SQLiteRepository struct {
	db  database.Querier
	now func() time.Time
}

// NewSQLiteRepository creates a new alert repository.
func NewSQLiteRepository(db database.Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const selectAlert = `
	SELECT a.id, a.timestamp, a.severity, a.message, a.is_acknowledged,
		a.acknowledged_at, a.acknowledged_by, a.device_id, d.name
	FROM alerts a
	LEFT JOIN devices d ON d.id = a.device_id`

// Create inserts a new alert.
func (r *SQLiteRepository) Create(ctx context.Context, a *Alert) error {
	if strings.TrimSpace(a.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidAlert)
	}
	if a.ID == "" {
		a.ID = GenerateID()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = r.now().UTC()
	}
	if a.Severity == "" {
		a.Severity = SeverityWarning
	}
	if !a.Severity.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, a.Severity)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (id, timestamp, severity, message, is_acknowledged,
			acknowledged_at, acknowledged_by, device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		database.FormatTime(a.Timestamp),
		string(a.Severity),
		a.Message,
		boolToInt(a.IsAcknowledged),
		database.NullTime(a.AcknowledgedAt),
		nullableString(a.AcknowledgedBy),
		nullableString(a.DeviceID),
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// GetByID retrieves an alert.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Alert, error) {
	return getByID(ctx, r.db, id)
}

func getByID(ctx context.Context, q database.Querier, id string) (*Alert, error) {
	a, err := scanAlert(q.QueryRowContext(ctx, selectAlert+" WHERE a.id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("querying alert: %w", err)
	}
	return a, nil
}

// ListUnacknowledged returns open alerts ordered by timestamp descending.
func (r *SQLiteRepository) ListUnacknowledged(ctx context.Context) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		selectAlert+" WHERE a.is_acknowledged = 0 ORDER BY a.timestamp DESC, a.id")
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}
	return alerts, nil
}

// Acknowledge marks the alert acknowledged on the first call and records a
// USER_ACTION event in the same transaction. Later calls return the stored
// state without touching acknowledged_at or acknowledged_by.
func (r *SQLiteRepository) Acknowledge(ctx context.Context, id, userID string) (*Alert, error) {
	var result *Alert
	err := database.InTx(ctx, r.db, func(q database.Querier) error {
		a, err := getByID(ctx, q, id)
		if err != nil {
			return err
		}
		if a.IsAcknowledged {
			result = a
			return nil
		}

		now := r.now().UTC()
		if _, err := q.ExecContext(ctx, `
			UPDATE alerts
			SET is_acknowledged = 1, acknowledged_at = ?, acknowledged_by = ?
			WHERE id = ? AND is_acknowledged = 0`,
			database.FormatTime(now),
			database.NullString(userID),
			id,
		); err != nil {
			return fmt.Errorf("acknowledging alert: %w", err)
		}

		a.IsAcknowledged = true
		a.AcknowledgedAt = &now
		if userID != "" {
			a.AcknowledgedBy = &userID
		}

		event := &eventlog.Event{
			Timestamp: now,
			EventType: eventlog.EventUserAction,
			Message:   fmt.Sprintf("Alert %q acknowledged.", a.Message),
			DeviceID:  a.DeviceID,
			Details:   map[string]any{"alert_id": a.ID},
		}
		if userID != "" {
			event.UserID = &userID
		}
		if err := eventlog.NewSQLiteRepository(q).Append(ctx, event); err != nil {
			return fmt.Errorf("logging acknowledgment: %w", err)
		}

		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(scanner rowScanner) (*Alert, error) {
	var (
		a              Alert
		timestamp      string
		severity       string
		acknowledged   int
		acknowledgedAt sql.NullString
		acknowledgedBy sql.NullString
		deviceID       sql.NullString
		deviceName     sql.NullString
	)
	if err := scanner.Scan(&a.ID, &timestamp, &severity, &a.Message, &acknowledged,
		&acknowledgedAt, &acknowledgedBy, &deviceID, &deviceName); err != nil {
		return nil, err
	}

	var err error
	if a.Timestamp, err = database.ParseTime(timestamp); err != nil {
		return nil, err
	}
	if a.AcknowledgedAt, err = database.ParseNullTime(acknowledgedAt); err != nil {
		return nil, err
	}
	a.Severity = Severity(severity)
	a.IsAcknowledged = acknowledged == 1
	if acknowledgedBy.Valid {
		a.AcknowledgedBy = &acknowledgedBy.String
	}
	if deviceID.Valid {
		a.DeviceID = &deviceID.String
	}
	a.DeviceName = deviceName.String
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
