package domain

// EventKind tags a change event.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"

	// EventResync carries no row. It marks a window in which events may
	// have been dropped (transport reconnect).
	EventResync EventKind = "RESYNC"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventInsert, EventUpdate, EventDelete, EventResync:
		return true
	default:
		return false
	}
}

// ChangeEvent is one row-level change delivered by the realtime feed.
// Wire shape: {"type": "INSERT", "new": {...}, "old": {...}}.
type ChangeEvent struct {
	Kind EventKind `json:"type"`
	New  *Bookmark `json:"new,omitempty"`
	Old  *Bookmark `json:"old,omitempty"`
}

// Row returns the row the event applies to: New for inserts and updates,
// Old for deletes. Returns nil for resync markers or malformed events.
func (e ChangeEvent) Row() *Bookmark {
	switch e.Kind {
	case EventInsert, EventUpdate:
		return e.New
	case EventDelete:
		if e.Old != nil {
			return e.Old
		}
		return e.New
	default:
		return nil
	}
}

// OwnerID returns the owner of the affected row, or "" when unknown.
func (e ChangeEvent) OwnerID() string {
	if row := e.Row(); row != nil {
		return row.OwnerID
	}
	return ""
}
