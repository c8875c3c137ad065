// Package types holds the leaf data model shared by every layer of the
// sync core: slash-delimited Paths addressing subtrees, and the immutable
// Variant value type stored at them.
package types

import "strings"

// Path is an immutable, ordered sequence of string segments addressing a
// subtree of the database. The zero value is the root path.
type Path struct {
	segments []string
}

// NewPath parses a slash-delimited string into a Path. Leading, trailing,
// and repeated slashes are ignored, so "/a//b/" equals "a/b".
func NewPath(s string) Path {
	parts := strings.Split(s, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return Path{segments: segments}
}

// RootPath returns the empty path addressing the whole tree.
func RootPath() Path {
	return Path{}
}

// IsEmpty reports whether the path addresses the root.
func (p Path) IsEmpty() bool {
	return len(p.segments) == 0
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.segments)
}

// FrontSegment returns the first segment, or "" for the root path.
func (p Path) FrontSegment() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[0]
}

// BackSegment returns the last segment, or "" for the root path.
func (p Path) BackSegment() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// PopFront returns the path with its first segment removed. The root path
// pops to itself.
func (p Path) PopFront() Path {
	if len(p.segments) == 0 {
		return p
	}
	return Path{segments: p.segments[1:]}
}

// GetParent returns the path with its last segment removed. The root path
// is its own parent.
func (p Path) GetParent() Path {
	if len(p.segments) == 0 {
		return p
	}
	return Path{segments: p.segments[:len(p.segments)-1]}
}

// Child returns the path extended by one segment.
func (p Path) Child(segment string) Path {
	segments := make([]string, len(p.segments), len(p.segments)+1)
	copy(segments, p.segments)
	return Path{segments: append(segments, segment)}
}

// ChildPath returns the path extended by every segment of other.
func (p Path) ChildPath(other Path) Path {
	if other.IsEmpty() {
		return p
	}
	segments := make([]string, 0, len(p.segments)+len(other.segments))
	segments = append(segments, p.segments...)
	segments = append(segments, other.segments...)
	return Path{segments: segments}
}

// IsPrefixOf reports whether p is an ancestor of or equal to other.
func (p Path) IsPrefixOf(other Path) bool {
	if len(p.segments) > len(other.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// Overlaps reports whether one path is an ancestor of or equal to the
// other. Disjoint subtrees never overlap.
func (p Path) Overlaps(other Path) bool {
	return p.IsPrefixOf(other) || other.IsPrefixOf(p)
}

// RelativeTo returns the remainder of p below ancestor. The second return
// is false when ancestor is not a prefix of p.
func (p Path) RelativeTo(ancestor Path) (Path, bool) {
	if !ancestor.IsPrefixOf(p) {
		return Path{}, false
	}
	return Path{segments: p.segments[len(ancestor.segments):]}, true
}

// Equals reports segment-wise equality.
func (p Path) Equals(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// String renders the path as "a/b/c". The root path renders as "".
func (p Path) String() string {
	return strings.Join(p.segments, "/")
}
