package query

import (
	"sort"
	"strings"

	"github.com/teranos/treedb/types"
)

// Entry is one (key, value) pair in a query projection.
type Entry struct {
	Key   string
	Value types.Variant
}

// Index is the total-order comparator derived from a query's ordering
// criterion. The primary key is the criterion value; ties break on the
// child key in lexicographic order, so the order is deterministic even
// when the criterion is equal or absent across siblings.
type Index struct {
	params Params
}

// NewIndex builds the comparator for the given params.
func NewIndex(params Params) Index {
	return Index{params: params}
}

// Criterion extracts the ordering value for an entry.
func (idx Index) Criterion(e Entry) types.Variant {
	switch idx.params.OrderBy {
	case OrderByPriority:
		return types.Priority(e.Value)
	case OrderByChild:
		return e.Value.GetChild(types.NewPath(idx.params.ChildKey))
	case OrderByValue:
		return e.Value
	case OrderByKey:
		return types.String(e.Key)
	}
	return types.Null()
}

// Compare orders two entries by (criterion, key).
func (idx Index) Compare(a, b Entry) int {
	if idx.params.OrderBy == OrderByKey {
		return strings.Compare(a.Key, b.Key)
	}
	if c := idx.Criterion(a).Compare(idx.Criterion(b)); c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}

// boundKey positions a range boundary against entry keys. An empty
// boundary key is a virtual minimum at the start bound and a virtual
// maximum at the end bound.
type boundKeyKind int

const (
	boundKeyExact boundKeyKind = iota
	boundKeyMin
	boundKeyMax
)

// compareToBound orders an entry against a boundary (value, key) pair.
func (idx Index) compareToBound(e Entry, value types.Variant, key string, kind boundKeyKind) int {
	if idx.params.OrderBy == OrderByKey {
		// For key ordering the boundary value is the key itself.
		return strings.Compare(e.Key, value.AsString())
	}
	if c := idx.Criterion(e).Compare(value); c != 0 {
		return c
	}
	switch kind {
	case boundKeyMin:
		return 1
	case boundKeyMax:
		return -1
	}
	return strings.Compare(e.Key, key)
}

// InRange reports whether an entry falls inside the query's range
// boundaries, both inclusive.
func (idx Index) InRange(e Entry) bool {
	if v, k, ok := idx.params.StartBound(); ok {
		kind := boundKeyExact
		if k == "" {
			kind = boundKeyMin
		}
		if idx.compareToBound(e, v, k, kind) < 0 {
			return false
		}
	}
	if v, k, ok := idx.params.EndBound(); ok {
		kind := boundKeyExact
		if k == "" {
			kind = boundKeyMax
		}
		if idx.compareToBound(e, v, k, kind) > 0 {
			return false
		}
	}
	return true
}

// Apply materializes the query's projection of a local view value:
// children sorted by the index, range-filtered, then limited. The input
// Variant is the full value at the query path; non-map values project to
// an empty result.
func (idx Index) Apply(value types.Variant) []Entry {
	keys := value.ChildKeys()
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, ".") {
			continue // .priority and friends are metadata, not children
		}
		e := Entry{Key: k, Value: value.Child(k)}
		if idx.InRange(e) {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return idx.Compare(entries[i], entries[j]) < 0
	})

	if n := idx.params.LimitFirst; n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	if n := idx.params.LimitLast; n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries
}
