package keeper

import "time"

// Status describes what an entity is currently doing.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusWatching  Status = "watching"
	StatusBackingUp Status = "backing-up"
	StatusRestoring Status = "restoring"
	StatusError     Status = "error"
)

// Event is an outbound, entity-scoped status report. Events are read-only to
// consumers; errors never cross entity boundaries.
type Event struct {
	EntityID   string
	Status     Status
	LastBackup time.Time
	// SafetyStamp carries the stamp of the safety snapshot created by a
	// restore, so the UI can surface it to the user.
	SafetyStamp string
	Err         error
}

// EventSink receives status events. A nil sink is allowed everywhere an
// EventSink is accepted.
type EventSink func(Event)

// Emit invokes the sink if one is set.
func (f EventSink) Emit(e Event) {
	if f != nil {
		f(e)
	}
}
