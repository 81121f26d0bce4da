package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSequence
	KindMapping
)

// String returns the kind name used in diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	}
	return "unknown"
}

// Member is a single key/value pair of a Mapping. Member order is the
// insertion order and is preserved through every re-encode.
type Member struct {
	Key   string
	Value Value
}

// Value is the canonical pivot between all format codecs: a dynamically
// typed JSON-shaped tree. Integers stay distinct from floats so that 30
// never re-encodes as 30.0, and mappings remember member order so output
// is deterministic. Values are built bottom-up by the codecs and treated
// as immutable once a decode returns.
type Value struct {
	Kind    Kind
	Bool    bool
	Int     int64
	Float   float64
	Str     string
	Seq     []Value
	Members []Member
}

// Null returns the null value.
func Null() Value {
	return Value{Kind: KindNull}
}

// BoolValue returns a boolean value.
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// IntValue returns an integer value.
func IntValue(n int64) Value {
	return Value{Kind: KindInt, Int: n}
}

// FloatValue returns a fractional value.
func FloatValue(f float64) Value {
	return Value{Kind: KindFloat, Float: f}
}

// StringValue returns a string value.
func StringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// SequenceValue returns a sequence of the given elements.
func SequenceValue(items ...Value) Value {
	return Value{Kind: KindSequence, Seq: items}
}

// MappingValue returns a mapping with the given members, keeping their order.
func MappingValue(members ...Member) Value {
	return Value{Kind: KindMapping, Members: members}
}

// IsContainer reports whether the value is a sequence or a mapping.
func (v Value) IsContainer() bool {
	return v.Kind == KindSequence || v.Kind == KindMapping
}

// Get looks up a mapping member by key.
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.Members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Set assigns key on a mapping value. An existing key is replaced in
// place, keeping its original position; a new key is appended.
func (v *Value) Set(key string, val Value) {
	for i := range v.Members {
		if v.Members[i].Key == key {
			v.Members[i].Value = val
			return
		}
	}
	v.Members = append(v.Members, Member{Key: key, Value: val})
}

// Keys returns the mapping keys in member order.
func (v Value) Keys() []string {
	keys := make([]string, len(v.Members))
	for i, m := range v.Members {
		keys[i] = m.Key
	}
	return keys
}

// Equal reports structural equality. Sequences compare element by element
// in order; mappings compare by key set regardless of member order, since
// order matters for output determinism but not for equivalence. Integer
// and float values of the same magnitude are not equal to each other, and
// NaN compares equal to NaN so round-trip tests stay usable.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		if math.IsNaN(v.Float) && math.IsNaN(o.Float) {
			return true
		}
		return v.Float == o.Float
	case KindString:
		return v.Str == o.Str
	case KindSequence:
		if len(v.Seq) != len(o.Seq) {
			return false
		}
		for i := range v.Seq {
			if !v.Seq[i].Equal(o.Seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.Members) != len(o.Members) {
			return false
		}
		for _, m := range v.Members {
			ov, ok := o.Get(m.Key)
			if !ok || !m.Value.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// NumberText renders an Int or Float value in its canonical textual form.
// Other kinds render as the empty string.
func (v Value) NumberText() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return FloatText(v.Float)
	}
	return ""
}

// CompactText renders the value as single-line JSON-shaped text. Codecs
// use it when a container has to occupy a single field, such as a CSV
// cell or a TOON tabular cell.
func (v Value) CompactText() string {
	var b strings.Builder
	v.writeCompact(&b)
	return b.String()
}

func (v Value) writeCompact(b *strings.Builder) {
	switch v.Kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		if v.Bool {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindInt, KindFloat:
		b.WriteString(v.NumberText())
	case KindString:
		WriteQuoted(b, v.Str)
	case KindSequence:
		b.WriteByte('[')
		for i, item := range v.Seq {
			if i > 0 {
				b.WriteByte(',')
			}
			item.writeCompact(b)
		}
		b.WriteByte(']')
	case KindMapping:
		b.WriteByte('{')
		for i, m := range v.Members {
			if i > 0 {
				b.WriteByte(',')
			}
			WriteQuoted(b, m.Key)
			b.WriteByte(':')
			m.Value.writeCompact(b)
		}
		b.WriteByte('}')
	}
}

// WriteQuoted writes s as a JSON string literal. Non-ASCII runes stay
// unescaped; only quotes, backslashes, and control characters are escaped.
func WriteQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

// FloatText renders f the way the codecs reparse it: plain decimal with a
// trailing .0 for whole values, scientific notation only for very large or
// very small magnitudes. The .0 suffix is what keeps a fractional 30.0
// from collapsing into the integer 30 on the next decode.
func FloatText(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
