// Package eventlog stores the append-only log of significant occurrences:
// connectivity transitions, threshold breaches, configuration changes and
// user actions.
//
// Events are never updated. When their device is deleted they stay behind
// with a NULL device reference.
package eventlog

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// EventType classifies a log event.
type EventType string

// EventType constants.
const (
	EventConnected          EventType = "CONNECTED"
	EventDisconnected       EventType = "DISCONNECTED"
	EventStatusChange       EventType = "STATUS_CHANGE"
	EventParameterThreshold EventType = "PARAMETER_THRESHOLD"
	EventConfigUpdate       EventType = "CONFIG_UPDATE"
	EventUserAction         EventType = "USER_ACTION"
)

// ErrInvalidEventType is returned for an unrecognised event type.
var ErrInvalidEventType = errors.New("eventlog: invalid event type")

// AllEventTypes returns every event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventConnected, EventDisconnected, EventStatusChange,
		EventParameterThreshold, EventConfigUpdate, EventUserAction,
	}
}

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	for _, known := range AllEventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEventType matches an event type name case-insensitively.
func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, s)
	}
	return t, nil
}

// unknownDeviceName is shown for events without a device.
const unknownDeviceName = "N/A"

// Event is one log entry.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Message   string    `json:"message"`

	// DeviceID is nil for system events and for events whose device was deleted.
	DeviceID *string `json:"device_id"`

	// DeviceName is filled on reads only.
	DeviceName string `json:"device_name"`

	UserID  *string        `json:"user_id"`
	Details map[string]any `json:"details"`
}

// Query selects a page of events.
type Query struct {
	Page      int
	PerPage   int
	DeviceID  string    // optional
	EventType EventType // optional
}

// Paging defaults.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100

	// MaxPage keeps (Page-1)*PerPage well inside int64.
	MaxPage = math.MaxInt32
)

// normalize applies paging defaults and limits.
func (q *Query) normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > MaxPerPage {
		q.PerPage = MaxPerPage
	}
	if q.Page > MaxPage {
		q.Page = MaxPage
	}
}

// Pagination describes where a page sits in the full result.
type Pagination struct {
	CurrentPage int  `json:"current_page"`
	PerPage     int  `json:"per_page"`
	TotalPages  int  `json:"total_pages"`
	TotalItems  int  `json:"total_items"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`
}

// NewPagination computes the metadata for page of perPage items out of total.
func NewPagination(page, perPage, total int) Pagination {
	totalPages := 0
	if perPage > 0 {
		totalPages = (total + perPage - 1) / perPage
	}
	return Pagination{
		CurrentPage: page,
		PerPage:     perPage,
		TotalPages:  totalPages,
		TotalItems:  total,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}

// Page is one page of events, newest first.
type Page struct {
	Events     []Event    `json:"logs"`
	Pagination Pagination `json:"pagination"`
}
