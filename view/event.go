// Package view materializes query projections and diffs them into the
// ordered event stream delivered to listeners. One View exists per
// distinct query spec being listened to; the sync layer feeds it fresh
// local-view values and it emits child added/removed/changed/moved,
// whole-value, and error events.
package view

import (
	"fmt"

	"github.com/teranos/treedb/errors"
	"github.com/teranos/treedb/types"
)

// EventType identifies the kind of change an Event carries.
type EventType int

const (
	EventTypeChildRemoved EventType = iota
	EventTypeChildAdded
	EventTypeChildMoved
	EventTypeChildChanged
	EventTypeValue
	EventTypeError
)

// String implements fmt.Stringer for logging.
func (t EventType) String() string {
	switch t {
	case EventTypeChildRemoved:
		return "ChildRemoved"
	case EventTypeChildAdded:
		return "ChildAdded"
	case EventTypeChildMoved:
		return "ChildMoved"
	case EventTypeChildChanged:
		return "ChildChanged"
	case EventTypeValue:
		return "Value"
	case EventTypeError:
		return "Error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Snapshot is the data payload of a non-error event: the key of the
// child it concerns ("" for whole-value events) and its value.
type Snapshot struct {
	Key   string
	Value types.Variant
}

// Event is one notification bound for a listener.
//
// Snapshot is non-nil for every type except Error, enforced by the
// constructors. PrevKey names the sibling immediately preceding the
// child in the projection's order for the three ordered child events;
// "" means the child is at the front (child keys are never empty).
//
// Under normal delivery the event borrows its registration, which stays
// owned by the View's registration set. An Error event produced during
// cancellation instead carries the sole remaining reference to a
// registration already detached from its View: OwnsRegistration marks
// that hand-off, and the registration is unreachable once the event has
// been delivered.
type Event struct {
	Type             EventType
	Registration     EventRegistration
	Snapshot         *Snapshot
	PrevKey          string
	Error            errors.Code
	Path             types.Path
	OwnsRegistration bool
}

// NewEvent builds a data event for a registration.
func NewEvent(t EventType, reg EventRegistration, snap Snapshot, prevKey string, path types.Path) Event {
	return Event{
		Type:         t,
		Registration: reg,
		Snapshot:     &snap,
		PrevKey:      prevKey,
		Path:         path,
	}
}

// NewCancelEvent builds an Error event that takes ownership of a
// registration being torn down.
func NewCancelEvent(reg EventRegistration, code errors.Code, path types.Path) Event {
	return Event{
		Type:             EventTypeError,
		Registration:     reg,
		Error:            code,
		Path:             path,
		OwnsRegistration: true,
	}
}

// String renders a compact debug representation.
func (e Event) String() string {
	if e.Type == EventTypeError {
		return fmt.Sprintf("Event{%s, path=%s, error=%s}", e.Type, e.Path, e.Error)
	}
	return fmt.Sprintf("Event{%s, path=%s, key=%q, prev=%q}", e.Type, e.Path, e.Snapshot.Key, e.PrevKey)
}
