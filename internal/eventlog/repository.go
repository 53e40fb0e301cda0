package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/unitlink/unitlink-core/internal/infrastructure/database"
)

// Repository defines the event log operations.
type Repository interface {
	Append(ctx context.Context, event *Event) error
	List(ctx context.Context, query Query) (*Page, error)
}

// SQLiteRepository stores events in the log_events table.
type SQLiteRepository struct {
	db  database.Querier
	now func() time.Time
}

// NewSQLiteRepository creates a new event log repository.
func NewSQLiteRepository(db database.Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Append inserts an event and sets its ID. Timestamp defaults to now.
func (r *SQLiteRepository) Append(ctx context.Context, event *Event) error {
	if !event.EventType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, event.EventType)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}

	var detailsJSON sql.NullString
	if event.Details != nil {
		b, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshalling event details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(b), Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO log_events (timestamp, event_type, message, device_id, user_id, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		database.FormatTime(event.Timestamp),
		string(event.EventType),
		event.Message,
		nullableString(event.DeviceID),
		nullableString(event.UserID),
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting log event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading log event id: %w", err)
	}
	event.ID = id
	return nil
}

// List returns one page of events, newest first. Events sharing a
// timestamp are ordered by descending id.
func (r *SQLiteRepository) List(ctx context.Context, query Query) (*Page, error) {
	query.normalize()

	var conditions []string
	var args []any

	if query.DeviceID != "" {
		conditions = append(conditions, "e.device_id = ?")
		args = append(args, query.DeviceID)
	}
	if query.EventType != "" {
		conditions = append(conditions, "e.event_type = ?")
		args = append(args, string(query.EventType))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM log_events e %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting log events: %w", err)
	}

	offset := (query.Page - 1) * query.PerPage
	if offset >= total {
		return &Page{
			Events:     []Event{},
			Pagination: NewPagination(query.Page, query.PerPage, total),
		}, nil
	}

	listQuery := fmt.Sprintf(`
		SELECT e.id, e.timestamp, e.event_type, e.message, e.device_id, d.name, e.user_id, e.details
		FROM log_events e
		LEFT JOIN devices d ON d.id = e.device_id
		%s
		ORDER BY e.timestamp DESC, e.id DESC
		LIMIT ? OFFSET ?`, where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	args = append(args, query.PerPage, offset)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying log events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, query.PerPage)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log events: %w", err)
	}

	return &Page{
		Events:     events,
		Pagination: NewPagination(query.Page, query.PerPage, total),
	}, nil
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var (
		e           Event
		timestamp   string
		eventType   string
		deviceID    sql.NullString
		deviceName  sql.NullString
		userID      sql.NullString
		detailsJSON sql.NullString
	)
	if err := rows.Scan(&e.ID, &timestamp, &eventType, &e.Message,
		&deviceID, &deviceName, &userID, &detailsJSON); err != nil {
		return nil, fmt.Errorf("scanning log event: %w", err)
	}

	t, err := database.ParseTime(timestamp)
	if err != nil {
		return nil, err
	}
	e.Timestamp = t
	e.EventType = EventType(eventType)

	if deviceID.Valid {
		e.DeviceID = &deviceID.String
	}
	e.DeviceName = unknownDeviceName
	if deviceName.Valid {
		e.DeviceName = deviceName.String
	}
	if userID.Valid {
		e.UserID = &userID.String
	}
	if detailsJSON.Valid && detailsJSON.String != "" {
		var details map[string]any
		if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
			e.Details = details
		}
	}
	return &e, nil
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
