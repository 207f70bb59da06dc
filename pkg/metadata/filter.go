package metadata

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Op identifies a filter expression type.
type Op string

const (
	// OpEq matches when the field exists and equals the value.
	OpEq Op = "eq"
	// OpNe matches when the field is absent or differs from the value.
	OpNe Op = "ne"
	// OpExists matches when the field is present.
	OpExists Op = "exists"
	// OpAnd matches when every sub-filter matches; an empty list matches.
	OpAnd Op = "and"
	// OpOr matches when any sub-filter matches; an empty list never does.
	OpOr Op = "or"
)

// ErrInvalidFilter is returned for malformed filter expressions.
var ErrInvalidFilter = errors.New("invalid filter expression")

// Filter is a composable predicate over a Document.
type Filter struct {
	Op      Op
	Field   string
	Value   Value
	Filters []*Filter
}

// Eq builds an equality filter.
func Eq(field string, value Value) *Filter {
	return &Filter{Op: OpEq, Field: field, Value: value}
}

// Ne builds an inequality filter. An absent field matches.
func Ne(field string, value Value) *Filter {
	return &Filter{Op: OpNe, Field: field, Value: value}
}

// Exists builds a presence filter.
func Exists(field string) *Filter {
	return &Filter{Op: OpExists, Field: field}
}

// And builds a conjunction.
func And(filters ...*Filter) *Filter {
	return &Filter{Op: OpAnd, Filters: filters}
}

// Or builds a disjunction.
func Or(filters ...*Filter) *Filter {
	return &Filter{Op: OpOr, Filters: filters}
}

// Matches reports whether the document satisfies the filter. A nil filter
// matches everything.
func (f *Filter) Matches(doc Document) bool {
	if f == nil {
		return true
	}

	switch f.Op {
	case OpEq:
		v, ok := doc[f.Field]
		return ok && v.Equal(f.Value)
	case OpNe:
		// Absent fields match: "not equal" includes "not present".
		v, ok := doc[f.Field]
		return !ok || !v.Equal(f.Value)
	case OpExists:
		_, ok := doc[f.Field]
		return ok
	case OpAnd:
		for _, sub := range f.Filters {
			if !sub.Matches(doc) {
				return false
			}
		}
		return true
	case OpOr:
		for _, sub := range f.Filters {
			if sub.Matches(doc) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Validate checks the expression tree for structural errors.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}

	switch f.Op {
	case OpEq, OpNe:
		if f.Field == "" {
			return fmt.Errorf("%w: %s requires a field", ErrInvalidFilter, f.Op)
		}
		if f.Value.Kind == KindInvalid {
			return fmt.Errorf("%w: %s requires a value", ErrInvalidFilter, f.Op)
		}
	case OpExists:
		if f.Field == "" {
			return fmt.Errorf("%w: exists requires a field", ErrInvalidFilter)
		}
	case OpAnd, OpOr:
		for _, sub := range f.Filters {
			if sub == nil {
				return fmt.Errorf("%w: nil sub-filter", ErrInvalidFilter)
			}
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidFilter, f.Op)
	}
	return nil
}

// filterJSON is the wire form of a filter expression.
type filterJSON struct {
	Op      Op        `json:"op"`
	Field   string    `json:"field,omitempty"`
	Value   *Value    `json:"value,omitempty"`
	Filters []*Filter `json:"filters,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (f *Filter) MarshalJSON() ([]byte, error) {
	out := filterJSON{Op: f.Op, Field: f.Field, Filters: f.Filters}
	if f.Value.Kind != KindInvalid {
		v := f.Value
		out.Value = &v
	}
	return sonic.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var in filterJSON
	if err := sonic.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	f.Op = in.Op
	f.Field = in.Field
	f.Filters = in.Filters
	if in.Value != nil {
		f.Value = *in.Value
	} else {
		f.Value = Value{}
	}

	return f.Validate()
}
