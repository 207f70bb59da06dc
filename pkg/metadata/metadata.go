// Package metadata provides the typed key/value documents attached to
// vectors and the filter expressions evaluated against them.
package metadata

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an unset value.
	KindInvalid Kind = iota
	// KindString represents a string value.
	KindString
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindBool represents a boolean value.
	KindBool
)

// Value is a small typed scalar. The representation keeps filtering free of
// reflection: equality is a kind check plus one field compare, and
// cross-kind comparisons are never equal.
type Value struct {
	Kind Kind
	S    string
	I64  int64
	F64  float64
	B    bool
}

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Int returns an integer Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// Equal reports type-exact equality. An integer never equals a float, even
// at the same mathematical value.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.S == other.S
	case KindInt:
		return v.I64 == other.I64
	case KindFloat:
		return v.F64 == other.F64
	case KindBool:
		return v.B == other.B
	default:
		return false
	}
}

// MarshalJSON encodes the value as its plain JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return sonic.Marshal(v.S)
	case KindInt:
		return []byte(strconv.FormatInt(v.I64, 10)), nil
	case KindFloat:
		return sonic.Marshal(v.F64)
	case KindBool:
		return sonic.Marshal(v.B)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a plain JSON scalar. Numbers without a fraction or
// exponent decode as integers, everything else numeric as float.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty metadata value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case 't', 'f':
		var b bool
		if err := sonic.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '{', '[':
		return fmt.Errorf("metadata values must be scalars")
	case 'n':
		return fmt.Errorf("metadata values must not be null")
	default:
		if !bytes.ContainsAny(data, ".eE") {
			i, err := strconv.ParseInt(string(data), 10, 64)
			if err == nil {
				*v = Int(i)
				return nil
			}
		}
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid metadata value %q: %w", data, err)
		}
		*v = Float(f)
		return nil
	}
}

// Document is a metadata record: a mapping from field names to scalar
// values. A nil Document behaves like an empty one.
type Document map[string]Value

// Clone creates an independent copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	clone := make(Document, len(d))
	for k, v := range d {
		clone[k] = v
	}
	return clone
}
