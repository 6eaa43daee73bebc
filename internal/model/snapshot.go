package model

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ValueKind identifies what a snapshot Value holds.
type ValueKind int

const (
	KindAbsent ValueKind = iota
	KindNumber
	KindString
	KindBool
	KindGroup
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindGroup:
		return "group"
	case KindList:
		return "list"
	default:
		return "absent"
	}
}

// Value is a single metric value in a FinancialSnapshot. The zero Value is
// absent. NaN and infinite numbers are stored as absent, so downstream code
// never sees them.
type Value struct {
	kind  ValueKind
	num   float64
	str   string
	b     bool
	group Snapshot
	list  []Value
}

// Absent returns the missing value.
func Absent() Value { return Value{} }

// Number wraps f, collapsing NaN and ±Inf to absent.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{kind: KindNumber, num: f}
}

// String wraps s.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool wraps b.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Group wraps a nested named group. A nil group is absent.
func Group(g Snapshot) Value {
	if g == nil {
		return Value{}
	}
	return Value{kind: KindGroup, group: g}
}

// List wraps a series of values. A nil list is absent.
func List(vs ...Value) Value {
	if vs == nil {
		return Value{}
	}
	return Value{kind: KindList, list: vs}
}

// Kind reports what the value holds.
func (v Value) Kind() ValueKind { return v.kind }

// IsAbsent reports whether v is missing.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Group returns the nested group, or nil when v is not a group.
func (v Value) Group() Snapshot {
	if v.kind != KindGroup {
		return nil
	}
	return v.group
}

// List returns the series, or nil when v is not a list.
func (v Value) List() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Str returns the string form of a scalar value.
func (v Value) Str() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Float returns v as a finite number. Numeric strings are parsed; provider
// placeholders such as "None" or "-" are not numbers.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		return ParseNumber(v.str)
	default:
		return 0, false
	}
}

// ParseNumber parses a provider-formatted number, accepting a trailing percent
// sign. It reports false for empty, placeholder or non-finite input.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	switch strings.ToLower(s) {
	case "", "none", "-", "null", "n/a", "nan":
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Available reports whether v counts toward completeness. Scalars are
// available when present. Groups and lists are available when non-empty and
// holding at least one present leaf.
func (v Value) Available() bool {
	switch v.kind {
	case KindAbsent:
		return false
	case KindGroup:
		for _, inner := range v.group {
			if inner.Available() {
				return true
			}
		}
		return false
	case KindList:
		for _, inner := range v.list {
			if inner.Available() {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindGroup:
		return Group(v.group.Clone())
	case KindList:
		out := make([]Value, len(v.list))
		for i, inner := range v.list {
			out[i] = inner.Clone()
		}
		return List(out...)
	default:
		return v
	}
}

// MarshalJSON encodes absent values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.b)
	case KindGroup:
		return json.Marshal(v.group)
	case KindList:
		return json.Marshal(v.list)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON value. null becomes absent.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '{':
		var g Snapshot
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		*v = Group(g)
	case '[':
		var l []Value
		if err := json.Unmarshal(data, &l); err != nil {
			return err
		}
		if l == nil {
			l = []Value{}
		}
		*v = List(l...)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return eris.Wrapf(err, "model: decode value %q", string(data))
		}
		*v = Number(f)
	}
	return nil
}

// Snapshot is a FinancialSnapshot: named metrics mapped to values. A metric
// that is not in the map is absent.
type Snapshot map[string]Value

// Get returns the named metric, absent when missing.
func (s Snapshot) Get(name string) Value {
	if s == nil {
		return Value{}
	}
	return s[name]
}

// Lookup resolves a dotted path such as "overview.PERatio" through nested
// groups. Keys may themselves contain dots ("quote.05. price"): at each level
// an exact key match on the remaining path wins before descending.
func (s Snapshot) Lookup(path string) Value {
	if v, ok := s[path]; ok {
		return v
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return Value{}
	}
	g := s.Get(head).Group()
	if g == nil {
		return Value{}
	}
	return g.Lookup(rest)
}

// Has reports whether the named metric is available.
func (s Snapshot) Has(name string) bool {
	return s.Get(name).Available()
}

// Set stores v under name. Absent values delete the key so a snapshot has
// one representation of "missing".
func (s Snapshot) Set(name string, v Value) {
	if v.IsAbsent() {
		delete(s, name)
		return
	}
	s[name] = v
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Keys returns the metric names in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Normalize returns a copy with absent entries removed at every level.
func (s Snapshot) Normalize() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		if v.IsAbsent() {
			continue
		}
		if v.kind == KindGroup {
			v = Group(v.group.Normalize())
		}
		out[k] = v
	}
	return out
}

// ParseSnapshot decodes a JSON object into a normalized snapshot.
func ParseSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "model: parse snapshot")
	}
	return s.Normalize(), nil
}
