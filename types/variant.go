package types

import (
	"sort"
	"strconv"
	"strings"
)

// VariantType discriminates the kinds of value a Variant can hold.
type VariantType int

const (
	TypeNull VariantType = iota
	TypeBool
	TypeInt64
	TypeDouble
	TypeString
	TypeMap
)

// Variant is the immutable structured value stored in the database tree.
// Scalars are leaves; TypeMap holds named children. All operations return
// new Variants; nothing mutates in place, so Variants can be shared freely
// between the server cache, overlays, and snapshots handed to listeners.
//
// A Variant with no children and no scalar payload is Null. Maps never
// contain Null children: setting a child to Null removes it, and a map
// whose last child is removed collapses to Null. That keeps equality and
// ordering checks structural.
type Variant struct {
	t VariantType
	b bool
	i int64
	f float64
	s string
	m map[string]Variant
}

// Null returns the null Variant. The zero value of Variant is also Null.
func Null() Variant {
	return Variant{}
}

// Bool returns a boolean Variant.
func Bool(b bool) Variant {
	return Variant{t: TypeBool, b: b}
}

// Int64 returns an integer Variant.
func Int64(i int64) Variant {
	return Variant{t: TypeInt64, i: i}
}

// Double returns a floating-point Variant.
func Double(f float64) Variant {
	return Variant{t: TypeDouble, f: f}
}

// String returns a string Variant.
func String(s string) Variant {
	return Variant{t: TypeString, s: s}
}

// Map returns a map Variant built from children. Null children are
// dropped; an empty result is Null. The input map is copied.
func Map(children map[string]Variant) Variant {
	m := make(map[string]Variant, len(children))
	for k, v := range children {
		if !v.IsNull() {
			m[k] = v
		}
	}
	if len(m) == 0 {
		return Null()
	}
	return Variant{t: TypeMap, m: m}
}

// Type returns the Variant's type tag.
func (v Variant) Type() VariantType {
	return v.t
}

// IsNull reports whether the Variant is null (absent).
func (v Variant) IsNull() bool {
	return v.t == TypeNull
}

// AsBool returns the boolean payload; false for non-bool Variants.
func (v Variant) AsBool() bool { return v.t == TypeBool && v.b }

// AsInt64 returns the integer payload, converting doubles by truncation.
func (v Variant) AsInt64() int64 {
	switch v.t {
	case TypeInt64:
		return v.i
	case TypeDouble:
		return int64(v.f)
	}
	return 0
}

// AsDouble returns the numeric payload as a float64.
func (v Variant) AsDouble() float64 {
	switch v.t {
	case TypeInt64:
		return float64(v.i)
	case TypeDouble:
		return v.f
	}
	return 0
}

// AsString returns the string payload; "" for non-string Variants.
func (v Variant) AsString() string {
	if v.t == TypeString {
		return v.s
	}
	return ""
}

// IsNumeric reports whether the Variant is an int or double.
func (v Variant) IsNumeric() bool {
	return v.t == TypeInt64 || v.t == TypeDouble
}

// NumChildren returns the number of immediate children.
func (v Variant) NumChildren() int {
	return len(v.m)
}

// HasChild reports whether a named immediate child exists.
func (v Variant) HasChild(key string) bool {
	_, ok := v.m[key]
	return ok
}

// ChildKeys returns the immediate child keys in lexicographic order.
func (v Variant) ChildKeys() []string {
	if len(v.m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Child returns the named immediate child, or Null.
func (v Variant) Child(key string) Variant {
	return v.m[key]
}

// GetChild descends the given path, returning Null if any step is absent.
func (v Variant) GetChild(path Path) Variant {
	current := v
	for p := path; !p.IsEmpty(); p = p.PopFront() {
		if current.t != TypeMap {
			return Null()
		}
		current = current.m[p.FrontSegment()]
	}
	return current
}

// WithChild returns a copy of v with the subtree at path replaced by
// value. Setting Null prunes the child; intermediate maps are created as
// needed and collapse to Null when emptied.
func (v Variant) WithChild(path Path, value Variant) Variant {
	if path.IsEmpty() {
		return value
	}
	key := path.FrontSegment()
	newChild := v.Child(key).WithChild(path.PopFront(), value)

	m := make(map[string]Variant, len(v.m)+1)
	if v.t == TypeMap {
		for k, c := range v.m {
			m[k] = c
		}
	}
	if newChild.IsNull() {
		delete(m, key)
	} else {
		m[key] = newChild
	}
	if len(m) == 0 {
		return Null()
	}
	return Variant{t: TypeMap, m: m}
}

// Equals reports deep structural equality. Int and double payloads with
// the same numeric value compare equal, matching index ordering.
func (v Variant) Equals(other Variant) bool {
	if v.IsNumeric() && other.IsNumeric() {
		return v.AsDouble() == other.AsDouble()
	}
	if v.t != other.t {
		return false
	}
	switch v.t {
	case TypeNull:
		return true
	case TypeBool:
		return v.b == other.b
	case TypeString:
		return v.s == other.s
	case TypeMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, c := range v.m {
			oc, ok := other.m[k]
			if !ok || !c.Equals(oc) {
				return false
			}
		}
		return true
	}
	return false
}

// typeRank orders Variant kinds for index comparison:
// null < bool < number < string < map.
func (v Variant) typeRank() int {
	switch v.t {
	case TypeNull:
		return 0
	case TypeBool:
		return 1
	case TypeInt64, TypeDouble:
		return 2
	case TypeString:
		return 3
	case TypeMap:
		return 4
	}
	return 5
}

// Compare defines the total order used for query indexes:
// null < false < true < numbers < strings < maps. Numbers compare
// numerically across int/double; maps compare equal to each other, so
// sibling maps are ordered purely by their key tie-break.
func (v Variant) Compare(other Variant) int {
	if r, or := v.typeRank(), other.typeRank(); r != or {
		if r < or {
			return -1
		}
		return 1
	}
	switch v.t {
	case TypeNull, TypeMap:
		return 0
	case TypeBool:
		if v.b == other.b {
			return 0
		}
		if !v.b {
			return -1
		}
		return 1
	case TypeInt64, TypeDouble:
		a, b := v.AsDouble(), other.AsDouble()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	case TypeString:
		return strings.Compare(v.s, other.s)
	}
	return 0
}

// FromInterface converts decoded JSON (nil, bool, float64, int64, string,
// map[string]interface{}) into a Variant. Unsupported types map to Null.
// Whole-valued float64s stay doubles; JSON carries no int/double
// distinction, so the wire layer round-trips numbers as doubles.
func FromInterface(raw interface{}) Variant {
	switch x := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int:
		return Int64(int64(x))
	case int64:
		return Int64(x)
	case float64:
		return Double(x)
	case string:
		return String(x)
	case map[string]interface{}:
		m := make(map[string]Variant, len(x))
		for k, c := range x {
			m[k] = FromInterface(c)
		}
		return Map(m)
	}
	return Null()
}

// ToInterface converts a Variant into the shape encoding/json marshals
// naturally. Null becomes nil.
func (v Variant) ToInterface() interface{} {
	switch v.t {
	case TypeNull:
		return nil
	case TypeBool:
		return v.b
	case TypeInt64:
		return v.i
	case TypeDouble:
		return v.f
	case TypeString:
		return v.s
	case TypeMap:
		m := make(map[string]interface{}, len(v.m))
		for k, c := range v.m {
			m[k] = c.ToInterface()
		}
		return m
	}
	return nil
}

// String renders a compact debug representation.
func (v Variant) String() string {
	switch v.t {
	case TypeNull:
		return "null"
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeInt64:
		return strconv.FormatInt(v.i, 10)
	case TypeDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.s)
	case TypeMap:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range v.ChildKeys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(k)
			sb.WriteByte(':')
			sb.WriteString(v.m[k].String())
		}
		sb.WriteByte('}')
		return sb.String()
	}
	return "?"
}
