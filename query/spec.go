package query

import (
	"fmt"
	"strings"

	"github.com/teranos/treedb/types"
)

// Spec identifies one query: a path plus its params. Specs with the same
// normalized path and params are the same query; the sync layer keys its
// views by Spec.Hash().
type Spec struct {
	Path   types.Path
	Params Params
}

// NewSpec builds the default (unfiltered) query at path.
func NewSpec(path types.Path) Spec {
	return Spec{Path: path}
}

// Index returns the comparator for this spec's params.
func (s Spec) Index() Index {
	return NewIndex(s.Params)
}

// Equals reports whether two specs identify the same query.
func (s Spec) Equals(other Spec) bool {
	return s.Hash() == other.Hash()
}

// Hash renders a canonical string identity for the spec. EqualTo
// normalizes to identical start and end boundaries, so a query phrased
// either way hashes the same.
func (s Spec) Hash() string {
	var sb strings.Builder
	sb.WriteString(s.Path.String())
	sb.WriteString("|ob=")
	switch s.Params.OrderBy {
	case OrderByPriority:
		sb.WriteString("priority")
	case OrderByChild:
		sb.WriteString("child:")
		sb.WriteString(s.Params.ChildKey)
	case OrderByKey:
		sb.WriteString("key")
	case OrderByValue:
		sb.WriteString("value")
	}
	if v, k, ok := s.Params.StartBound(); ok {
		fmt.Fprintf(&sb, "|s=%s@%q", v.String(), k)
	}
	if v, k, ok := s.Params.EndBound(); ok {
		fmt.Fprintf(&sb, "|e=%s@%q", v.String(), k)
	}
	if s.Params.LimitFirst > 0 {
		fmt.Fprintf(&sb, "|lf=%d", s.Params.LimitFirst)
	}
	if s.Params.LimitLast > 0 {
		fmt.Fprintf(&sb, "|ll=%d", s.Params.LimitLast)
	}
	return sb.String()
}

// String implements fmt.Stringer for logging.
func (s Spec) String() string {
	return "Spec{" + s.Hash() + "}"
}
