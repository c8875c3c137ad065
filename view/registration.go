package view

import (
	"github.com/google/uuid"
)

// EventRegistration is a listener attached to one View. The two kinds,
// whole-value and child-keyed, share this interface so the View can
// dispatch without knowing which it has.
type EventRegistration interface {
	// ID is the registration's stable identity, used for detachment.
	ID() string

	// RespondsTo reports whether this listener wants events of the
	// given type. Every listener responds to Error.
	RespondsTo(t EventType) bool

	// Notify delivers one event. Called synchronously from the
	// serialized sync context; implementations must not re-enter the
	// sync layer from inside the callback.
	Notify(e Event)
}

// ValueRegistration is a whole-value listener: it receives a single
// Value event carrying the entire projection whenever anything under the
// query changes.
type ValueRegistration struct {
	id string
	fn func(Event)
}

// NewValueRegistration wraps a callback as a whole-value listener.
func NewValueRegistration(fn func(Event)) *ValueRegistration {
	return &ValueRegistration{id: uuid.NewString(), fn: fn}
}

func (r *ValueRegistration) ID() string { return r.id }

func (r *ValueRegistration) RespondsTo(t EventType) bool {
	return t == EventTypeValue || t == EventTypeError
}

func (r *ValueRegistration) Notify(e Event) { r.fn(e) }

// ChildRegistration is a child-keyed listener: it receives discrete
// ChildAdded/ChildRemoved/ChildChanged/ChildMoved events.
type ChildRegistration struct {
	id string
	fn func(Event)
}

// NewChildRegistration wraps a callback as a child-keyed listener.
func NewChildRegistration(fn func(Event)) *ChildRegistration {
	return &ChildRegistration{id: uuid.NewString(), fn: fn}
}

func (r *ChildRegistration) ID() string { return r.id }

func (r *ChildRegistration) RespondsTo(t EventType) bool {
	switch t {
	case EventTypeChildAdded, EventTypeChildRemoved, EventTypeChildMoved, EventTypeChildChanged, EventTypeError:
		return true
	}
	return false
}

func (r *ChildRegistration) Notify(e Event) { r.fn(e) }
