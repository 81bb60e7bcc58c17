package bytecode

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value: the single runtime representation shared by all variable tiers
// ---------------------------------------------------------------------------

// Type identifies the runtime type of a Value. Temp and save variables are
// statically typed against these; extern values carry whatever type the host
// supplies.
type Type uint8

const (
	TypeBool Type = iota
	TypeInt
	TypeFloat
	TypeString
	TypeTable
)

var typeNames = map[Type]string{
	TypeBool:   "bool",
	TypeInt:    "int",
	TypeFloat:  "float",
	TypeString: "string",
	TypeTable:  "table",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Value is a tagged union over the runtime types. The zero Value is the
// boolean false.
type Value struct {
	typ Type
	b   bool
	i   int64
	f   float64
	s   string
	t   map[string]Value
}

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{typ: TypeBool, b: b} }

// IntValue returns an integer Value.
func IntValue(i int64) Value { return Value{typ: TypeInt, i: i} }

// FloatValue returns a floating-point Value.
func FloatValue(f float64) Value { return Value{typ: TypeFloat, f: f} }

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{typ: TypeString, s: s} }

// TableValue returns a table Value. The map is not copied.
func TableValue(m map[string]Value) Value { return Value{typ: TypeTable, t: m} }

// Type returns the runtime type tag.
func (v Value) Type() Type { return v.typ }

// Bool returns the boolean payload, or false for non-bool values.
func (v Value) Bool() bool { return v.b }

// Int returns the integer payload, or 0 for non-int values.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload, or 0 for non-float values.
func (v Value) Float() float64 { return v.f }

// Str returns the string payload, or "" for non-string values.
func (v Value) Str() string { return v.s }

// Table returns the table payload, or nil for non-table values.
func (v Value) Table() map[string]Value { return v.t }

// String renders the value for interpolation into dialogue text.
// Integers print without a decimal point; tables print with sorted keys so
// the rendering is deterministic.
func (v Value) String() string {
	switch v.typ {
	case TypeBool:
		if v.b {
			return "true"
		}
		return "false"
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return v.s
	case TypeTable:
		keys := make([]string, 0, len(v.t))
		for k := range v.t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v.t[k].String())
		}
		sb.WriteByte('}')
		return sb.String()
	default:
		return ""
	}
}

// Equal reports deep equality of two values, including type tags.
// An int never equals a float, even for the same numeric quantity.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeBool:
		return v.b == o.b
	case TypeInt:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f
	case TypeString:
		return v.s == o.s
	case TypeTable:
		if len(v.t) != len(o.t) {
			return false
		}
		for k, val := range v.t {
			other, ok := o.t[k]
			if !ok || !val.Equal(other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
