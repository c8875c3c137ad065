// Package store holds the pending-write overlay: CompoundWrite, the
// immutable merged patch over a subtree, and WriteTree, the ordered log
// of unacknowledged local writes it is computed from. Together they give
// the sync layer its "local view": server data with the overlay applied.
package store

import (
	"github.com/teranos/treedb/types"
)

// CompoundWrite is an immutable overlay: a mapping from relative paths to
// complete subtree replacements. No stored path is ever a strict prefix
// of another; a write at a shallower path subsumes and flattens any
// deeper write. All operations return new CompoundWrites.
type CompoundWrite struct {
	// value, when set, is a complete write at this node and there are no
	// deeper entries beneath it.
	value    *types.Variant
	children map[string]CompoundWrite
}

// EmptyCompoundWrite returns the overlay with no writes.
func EmptyCompoundWrite() CompoundWrite {
	return CompoundWrite{}
}

// IsEmpty reports whether the overlay carries no writes at all.
func (cw CompoundWrite) IsEmpty() bool {
	return cw.value == nil && len(cw.children) == 0
}

// Write returns a new overlay with a complete write of value at path.
// A write at the root replaces the whole overlay.
func (cw CompoundWrite) Write(path types.Path, value types.Variant) CompoundWrite {
	if path.IsEmpty() {
		v := value
		return CompoundWrite{value: &v}
	}
	if cw.value != nil {
		// Path is beneath an existing complete write: fold into it.
		v := cw.value.WithChild(path, value)
		return CompoundWrite{value: &v}
	}
	key := path.FrontSegment()
	children := make(map[string]CompoundWrite, len(cw.children)+1)
	for k, c := range cw.children {
		children[k] = c
	}
	children[key] = children[key].Write(path.PopFront(), value)
	return CompoundWrite{children: children}
}

// Merge returns a new overlay with one complete write per child under
// path. Used for sparse multi-location updates.
func (cw CompoundWrite) Merge(path types.Path, children map[string]types.Variant) CompoundWrite {
	out := cw
	for key, v := range children {
		out = out.Write(path.Child(key), v)
	}
	return out
}

// RemoveWrite returns the overlay with the entry at exactly path removed,
// along with any deeper entries beneath it. A write shadowed by a
// shallower complete write cannot be removed this way; the overlay is
// returned unchanged.
func (cw CompoundWrite) RemoveWrite(path types.Path) CompoundWrite {
	if path.IsEmpty() {
		return CompoundWrite{}
	}
	if cw.value != nil {
		return cw
	}
	key := path.FrontSegment()
	child, ok := cw.children[key]
	if !ok {
		return cw
	}
	newChild := child.RemoveWrite(path.PopFront())
	children := make(map[string]CompoundWrite, len(cw.children))
	for k, c := range cw.children {
		children[k] = c
	}
	if newChild.IsEmpty() {
		delete(children, key)
	} else {
		children[key] = newChild
	}
	return CompoundWrite{children: children}
}

// HasCompleteWrite reports whether path is covered by a complete write,
// i.e. the overlay alone determines the value there.
func (cw CompoundWrite) HasCompleteWrite(path types.Path) bool {
	_, ok := cw.CompleteVariant(path)
	return ok
}

// CompleteVariant returns the overlay's value at path when the overlay
// fully determines it, i.e. a complete write exists at path or above.
func (cw CompoundWrite) CompleteVariant(path types.Path) (types.Variant, bool) {
	if cw.value != nil {
		return cw.value.GetChild(path), true
	}
	if path.IsEmpty() {
		return types.Null(), false
	}
	child, ok := cw.children[path.FrontSegment()]
	if !ok {
		return types.Null(), false
	}
	return child.CompleteVariant(path.PopFront())
}

// ChildCompoundWrite returns the overlay restricted to the subtree at
// path, re-rooted there.
func (cw CompoundWrite) ChildCompoundWrite(path types.Path) CompoundWrite {
	if path.IsEmpty() {
		return cw
	}
	if cw.value != nil {
		v := cw.value.GetChild(path)
		return CompoundWrite{value: &v}
	}
	child, ok := cw.children[path.FrontSegment()]
	if !ok {
		return CompoundWrite{}
	}
	return child.ChildCompoundWrite(path.PopFront())
}

// Apply layers the overlay onto a server-confirmed value, producing the
// local view. The server value is never mutated.
func (cw CompoundWrite) Apply(server types.Variant) types.Variant {
	if cw.value != nil {
		return *cw.value
	}
	result := server
	for key, child := range cw.children {
		result = result.WithChild(types.NewPath(key), child.Apply(server.Child(key)))
	}
	return result
}
