package view

import (
	"github.com/teranos/treedb/errors"
	"github.com/teranos/treedb/query"
	"github.com/teranos/treedb/types"
)

// View tracks one listened-to query: the last materialized projection of
// the local view under the query's spec, and the registrations to notify
// when it changes. Views are owned by the sync layer and only ever
// touched from its serialized context.
type View struct {
	spec          query.Spec
	index         query.Index
	projection    []query.Entry
	value         types.Variant
	loaded        bool
	registrations []EventRegistration
}

// NewView creates an empty, not-yet-loaded view for spec.
func NewView(spec query.Spec) *View {
	return &View{
		spec:  spec,
		index: spec.Index(),
	}
}

// Spec returns the query this view serves.
func (v *View) Spec() query.Spec {
	return v.spec
}

// Projection returns a copy of the current ordered projection.
func (v *View) Projection() []query.Entry {
	out := make([]query.Entry, len(v.projection))
	copy(out, v.projection)
	return out
}

// IsEmpty reports whether no registrations remain attached.
func (v *View) IsEmpty() bool {
	return len(v.registrations) == 0
}

// AddRegistration attaches a listener. The listener sees the next
// recomputation's diff; use SeedRegistration for its initial state.
func (v *View) AddRegistration(reg EventRegistration) {
	v.registrations = append(v.registrations, reg)
}

// RemoveRegistration detaches the listener with the given id, returning
// it. The second return is false when no such registration is attached.
func (v *View) RemoveRegistration(id string) (EventRegistration, bool) {
	for i, reg := range v.registrations {
		if reg.ID() == id {
			v.registrations = append(v.registrations[:i], v.registrations[i+1:]...)
			return reg, true
		}
	}
	return nil, false
}

// SeedRegistration produces the initial events for a freshly attached
// listener from the already-loaded projection: one synthetic ChildAdded
// per present child for child listeners, or a single Value event for
// whole-value listeners.
func (v *View) SeedRegistration(reg EventRegistration) []Event {
	if !v.loaded {
		return nil
	}
	var events []Event
	if reg.RespondsTo(EventTypeChildAdded) {
		prevKey := ""
		for _, e := range v.projection {
			events = append(events, NewEvent(EventTypeChildAdded, reg,
				Snapshot{Key: e.Key, Value: e.Value}, prevKey, v.spec.Path))
			prevKey = e.Key
		}
	}
	if reg.RespondsTo(EventTypeValue) {
		events = append(events, NewEvent(EventTypeValue, reg,
			Snapshot{Key: v.spec.Path.BackSegment(), Value: v.value}, "", v.spec.Path))
	}
	return events
}

// CancelRegistrations detaches every listener and returns one owning
// Error event per listener. After this the view is empty and should be
// evicted by the caller; the events are the sole references keeping the
// registrations alive until delivery.
func (v *View) CancelRegistrations(code errors.Code) []Event {
	events := make([]Event, 0, len(v.registrations))
	for _, reg := range v.registrations {
		events = append(events, NewCancelEvent(reg, code, v.spec.Path))
	}
	v.registrations = nil
	return events
}

// change is one projection-level difference, before fan-out to
// registrations.
type change struct {
	eventType EventType
	entry     query.Entry
	prevKey   string
}

// ApplyChange recomputes the projection from a fresh local-view value and
// diffs it against the previous one, producing the ordered event list for
// the currently attached registrations.
//
// Ordering guarantee: ChildRemoved events come first, then
// ChildAdded/ChildChanged/ChildMoved in ascending new-projection order
// (Changed before Moved for the same key), then Value events.
func (v *View) ApplyChange(localView types.Variant) []Event {
	newProjection := v.index.Apply(localView)
	changes := v.diff(v.projection, newProjection)

	// Unfiltered queries snapshot the raw value, which keeps scalar leaves
	// visible to value listeners. Filtered queries snapshot the projection.
	newValue := localView
	if !v.spec.Params.LoadsAllData() || v.spec.Params.HasLimit() {
		newValue = projectionVariant(newProjection)
	}

	firstLoad := !v.loaded
	valueChanged := firstLoad || len(changes) > 0 || !v.value.Equals(newValue)
	v.projection = newProjection
	v.value = newValue
	v.loaded = true

	if !valueChanged {
		return nil
	}

	var events []Event
	for _, c := range changes {
		for _, reg := range v.registrations {
			if reg.RespondsTo(c.eventType) {
				events = append(events, NewEvent(c.eventType, reg,
					Snapshot{Key: c.entry.Key, Value: c.entry.Value}, c.prevKey, v.spec.Path))
			}
		}
	}
	for _, reg := range v.registrations {
		if reg.RespondsTo(EventTypeValue) {
			events = append(events, NewEvent(EventTypeValue, reg,
				Snapshot{Key: v.spec.Path.BackSegment(), Value: newValue}, "", v.spec.Path))
		}
	}
	return events
}

// diff computes the ordered change list between two projections.
func (v *View) diff(oldProj, newProj []query.Entry) []change {
	oldByKey := make(map[string]query.Entry, len(oldProj))
	for _, e := range oldProj {
		oldByKey[e.Key] = e
	}
	newByKey := make(map[string]query.Entry, len(newProj))
	for _, e := range newProj {
		newByKey[e.Key] = e
	}

	var changes []change

	// Removals first, in old order.
	for _, e := range oldProj {
		if _, ok := newByKey[e.Key]; !ok {
			changes = append(changes, change{eventType: EventTypeChildRemoved, entry: e})
		}
	}

	moved := movedSurvivors(oldProj, newProj, oldByKey, newByKey)

	prevKey := ""
	for _, e := range newProj {
		oldEntry, existed := oldByKey[e.Key]
		switch {
		case !existed:
			changes = append(changes, change{eventType: EventTypeChildAdded, entry: e, prevKey: prevKey})
		case !oldEntry.Value.Equals(e.Value):
			changes = append(changes, change{eventType: EventTypeChildChanged, entry: e, prevKey: prevKey})
			if moved[e.Key] {
				changes = append(changes, change{eventType: EventTypeChildMoved, entry: e, prevKey: prevKey})
			}
		}
		prevKey = e.Key
	}
	return changes
}

// movedSurvivors picks the changed survivors that must be repositioned so
// that replaying the emitted events against the old order reproduces the
// new order exactly: removals, then insert-after-prev-key for every Added
// and Moved change, taken in new-projection order.
//
// The ordering criterion derives from a child's own value, so unchanged
// survivors keep their relative order and form a fixed spine. A changed
// survivor stays in place only when its old position is consistent with
// that spine and with the survivors already kept before it; everything
// else moves.
func movedSurvivors(oldProj, newProj []query.Entry, oldByKey, newByKey map[string]query.Entry) map[string]bool {
	oldPos := make(map[string]int, len(oldProj))
	n := 0
	for _, e := range oldProj {
		if _, ok := newByKey[e.Key]; ok {
			oldPos[e.Key] = n
			n++
		}
	}
	survivors := make([]query.Entry, 0, n)
	for _, e := range newProj {
		if _, ok := oldByKey[e.Key]; ok {
			survivors = append(survivors, e)
		}
	}

	// nextSpine[i] is the old position of the first unchanged survivor at
	// or after position i in the new order; n past the last one.
	nextSpine := make([]int, len(survivors)+1)
	nextSpine[len(survivors)] = n
	for i := len(survivors) - 1; i >= 0; i-- {
		if oldByKey[survivors[i].Key].Value.Equals(survivors[i].Value) {
			nextSpine[i] = oldPos[survivors[i].Key]
		} else {
			nextSpine[i] = nextSpine[i+1]
		}
	}

	moved := make(map[string]bool)
	last := -1
	for i, e := range survivors {
		p := oldPos[e.Key]
		if oldByKey[e.Key].Value.Equals(e.Value) {
			last = p
			continue
		}
		if p > last && p < nextSpine[i+1] {
			last = p
			continue
		}
		moved[e.Key] = true
	}
	return moved
}

// projectionVariant folds an ordered projection back into one Variant
// for whole-value snapshots of filtered queries.
func projectionVariant(projection []query.Entry) types.Variant {
	if len(projection) == 0 {
		return types.Null()
	}
	m := make(map[string]types.Variant, len(projection))
	for _, e := range projection {
		m[e.Key] = e.Value
	}
	return types.Map(m)
}
