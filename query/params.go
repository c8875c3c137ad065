// Package query describes listener queries: the ordering criterion, range
// filters, and result limits applied to a location's children, plus the
// total-order comparator (Index) they share. A normalized Spec is the
// identity under which the sync layer deduplicates views.
package query

import (
	"github.com/teranos/treedb/errors"
	"github.com/teranos/treedb/types"
)

// OrderBy selects the primary sort criterion for a query.
type OrderBy int

const (
	// OrderByPriority orders children by their attached priority.
	OrderByPriority OrderBy = iota
	// OrderByChild orders children by the value of a named child field.
	OrderByChild
	// OrderByKey orders children by their key.
	OrderByKey
	// OrderByValue orders children by their own value.
	OrderByValue
)

// Params captures the ordering, range, and limit settings of one query.
// The zero value is the default query: order by priority, no range, no
// limit. Params are value types; the With* builders return modified
// copies.
//
// Range boundaries are (value, key) pairs. A missing boundary key means
// "before every key" at the start and "after every key" at the end, so a
// plain StartAt(v) admits every child whose criterion equals v.
type Params struct {
	OrderBy  OrderBy
	ChildKey string // field name when OrderBy == OrderByChild

	StartValue types.Variant
	StartKey   string
	hasStart   bool

	EndValue types.Variant
	EndKey   string
	hasEnd   bool

	EqualValue types.Variant
	EqualKey   string
	hasEqual   bool

	LimitFirst int
	LimitLast  int
}

// WithOrderByChild returns params ordering by the named child field.
func (p Params) WithOrderByChild(childKey string) Params {
	p.OrderBy = OrderByChild
	p.ChildKey = childKey
	return p
}

// WithOrderByKey returns params ordering by key.
func (p Params) WithOrderByKey() Params {
	p.OrderBy = OrderByKey
	p.ChildKey = ""
	return p
}

// WithOrderByValue returns params ordering by each child's own value.
func (p Params) WithOrderByValue() Params {
	p.OrderBy = OrderByValue
	p.ChildKey = ""
	return p
}

// WithStartAt returns params starting at the given criterion value.
// An empty key means the boundary admits every key with that value.
func (p Params) WithStartAt(value types.Variant, key string) Params {
	p.StartValue = value
	p.StartKey = key
	p.hasStart = true
	return p
}

// WithEndAt returns params ending at the given criterion value.
func (p Params) WithEndAt(value types.Variant, key string) Params {
	p.EndValue = value
	p.EndKey = key
	p.hasEnd = true
	return p
}

// WithEqualTo returns params admitting only children whose criterion
// equals value (and key, when given).
func (p Params) WithEqualTo(value types.Variant, key string) Params {
	p.EqualValue = value
	p.EqualKey = key
	p.hasEqual = true
	return p
}

// WithLimitFirst returns params keeping only the first n results.
func (p Params) WithLimitFirst(n int) Params {
	p.LimitFirst = n
	p.LimitLast = 0
	return p
}

// WithLimitLast returns params keeping only the last n results.
func (p Params) WithLimitLast(n int) Params {
	p.LimitLast = n
	p.LimitFirst = 0
	return p
}

// HasStart reports whether a start boundary is set (directly or via
// EqualTo).
func (p Params) HasStart() bool { return p.hasStart || p.hasEqual }

// HasEnd reports whether an end boundary is set (directly or via
// EqualTo).
func (p Params) HasEnd() bool { return p.hasEnd || p.hasEqual }

// HasLimit reports whether either limit is set.
func (p Params) HasLimit() bool { return p.LimitFirst > 0 || p.LimitLast > 0 }

// LoadsAllData reports whether the query covers the complete set of
// children, i.e. it has no range boundaries. Limited queries still load
// all data conceptually; the limit is applied to the loaded set.
func (p Params) LoadsAllData() bool { return !p.HasStart() && !p.HasEnd() }

// IsDefault reports whether the params are the unfiltered default query.
func (p Params) IsDefault() bool {
	return p.LoadsAllData() && !p.HasLimit() && p.OrderBy == OrderByPriority
}

// StartBound returns the effective start boundary, folding EqualTo into
// start. Second return is false when unbounded.
func (p Params) StartBound() (types.Variant, string, bool) {
	if p.hasEqual {
		return p.EqualValue, p.EqualKey, true
	}
	if p.hasStart {
		return p.StartValue, p.StartKey, true
	}
	return types.Null(), "", false
}

// EndBound returns the effective end boundary, folding EqualTo into end.
func (p Params) EndBound() (types.Variant, string, bool) {
	if p.hasEqual {
		return p.EqualValue, p.EqualKey, true
	}
	if p.hasEnd {
		return p.EndValue, p.EndKey, true
	}
	return types.Null(), "", false
}

// Validate checks the structural invariants: at most one limit, and
// EqualTo exclusive with StartAt/EndAt. Violations are synchronous
// input-validation errors and never enter the event stream.
func (p Params) Validate() error {
	if p.LimitFirst > 0 && p.LimitLast > 0 {
		return errors.New("cannot set both limit_first and limit_last")
	}
	if p.hasEqual && (p.hasStart || p.hasEnd) {
		return errors.New("equal_to cannot be combined with start_at or end_at")
	}
	if p.OrderBy == OrderByChild && p.ChildKey == "" {
		return errors.New("order_by child requires a child key")
	}
	return nil
}
