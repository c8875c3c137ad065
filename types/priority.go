package types

// priorityKey is the reserved child under which a node's priority rides
// along with its value.
const priorityKey = ".priority"

// Priority returns the priority attached to v, or Null when v has none.
func Priority(v Variant) Variant {
	if v.Type() != TypeMap {
		return Null()
	}
	return v.Child(priorityKey)
}

// WithPriority returns v with the given priority attached. A Null
// priority strips any existing one.
func WithPriority(v Variant, priority Variant) Variant {
	if v.Type() != TypeMap {
		if priority.IsNull() {
			return v
		}
		return Map(map[string]Variant{
			".value":    v,
			priorityKey: priority,
		})
	}
	return v.WithChild(NewPath(priorityKey), priority)
}
