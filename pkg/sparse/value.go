// Package sparse implements the sparse indexed array used for script
// variables: an index -> value mapping with holes, iterated in ascending
// index order, with find/count/replace/pop/shift/remove helpers.
package sparse

import (
	"errors"
	"strconv"
)

// Kind is the value type shared by every slot of an array.
type Kind int

const (
	KindInt  Kind = iota // 64-bit signed integer slots
	KindText             // UTF-8 string slots
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "int":
		return KindInt, nil
	case "text":
		return KindText, nil
	}
	return 0, errors.New("sparse: unknown kind " + strconv.Quote(s))
}

// Value is a tagged slot value. Only the field selected by Kind is meaningful.
type Value struct {
	Kind Kind
	Int  int64
	Str  string
}

// Int returns an integer value.
func Int(n int64) Value { return Value{Kind: KindInt, Int: n} }

// Text returns a string value.
func Text(s string) Value { return Value{Kind: KindText, Str: s} }

// Zero returns the empty value of a kind: 0 or "".
func Zero(k Kind) Value { return Value{Kind: k} }

// IsZero reports whether v holds its kind's empty value.
func (v Value) IsZero() bool {
	if v.Kind == KindText {
		return v.Str == ""
	}
	return v.Int == 0
}

// Equal compares two values of the same kind. Values of different kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == KindText {
		return v.Str == o.Str
	}
	return v.Int == o.Int
}

// String renders the value the way script output shows it.
func (v Value) String() string {
	if v.Kind == KindText {
		return v.Str
	}
	return strconv.FormatInt(v.Int, 10)
}
