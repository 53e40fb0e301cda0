package telemetry

import (
	"fmt"

	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/eventlog"
)

// Transition describes the log event produced by a status change.
type Transition struct {
	EventType eventlog.EventType
	Message   string
	Details   map[string]any
}

// Evaluate returns the event for a status change of the named device, or
// nil when the status is unchanged. First match wins:
//
//	ONLINE  -> OFFLINE  DISCONNECTED   "<name> lost connection."
//	OFFLINE -> ONLINE   CONNECTED      "<name> connection restored."
//	any other change    STATUS_CHANGE  "<name> status changed to <new>."
func Evaluate(deviceName string, from, to device.Status) *Transition {
	var t Transition

	switch {
	case from == to:
		return nil
	case from == device.StatusOnline && to == device.StatusOffline:
		t.EventType = eventlog.EventDisconnected
		t.Message = fmt.Sprintf("%s lost connection.", deviceName)
	case from == device.StatusOffline && to == device.StatusOnline:
		t.EventType = eventlog.EventConnected
		t.Message = fmt.Sprintf("%s connection restored.", deviceName)
	default:
		t.EventType = eventlog.EventStatusChange
		t.Message = fmt.Sprintf("%s status changed to %s.", deviceName, to)
	}

	t.Details = map[string]any{
		"from_status": string(from),
		"to_status":   string(to),
	}
	return &t
}
