package entity

import (
	"math"
	"reflect"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Kind tells a scalar value from a reference-typed one.
type Kind uint8

const (
	KindScalar Kind = iota
	KindReference
)

// Value is a single field value. A scalar carries the value itself; a
// reference carries the underlying storage value of a selection (for
// example the primary key picked in a foreign-key widget), or nothing
// when the selection was cleared.
type Value struct {
	kind Kind
	v    any
}

// Scalar wraps a plain value.
func Scalar(v any) Value { return Value{kind: KindScalar, v: v} }

// Reference wraps the storage value of a reference-typed field. A nil or
// empty storage value means the reference is cleared.
func Reference(storage any) Value { return Value{kind: KindReference, v: storage} }

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsReference reports whether v is reference-typed.
func (v Value) IsReference() bool { return v.kind == KindReference }

// Resolve returns the value used for comparison and transmission: the
// scalar itself, or the reference's storage value.
func (v Value) Resolve() any { return v.v }

// Empty reports whether a reference carries no storage value. Like a
// falsy selection in the web client, nil, "", false and numeric zero all
// count as cleared; a storage key of 0 cannot be referenced.
func (v Value) Empty() bool {
	switch s := v.v.(type) {
	case nil:
		return true
	case string:
		return s == ""
	case bool:
		return !s
	}
	if d, ok := asDecimal(v.v); ok {
		return d.IsZero()
	}
	return false
}

// Equal compares the resolved values of a and b. Comparison is shallow:
// comparable values use ==, anything else falls back to reflect.DeepEqual
// one level down.
func Equal(a, b Value) bool {
	return equalResolved(a.Resolve(), b.Resolve())
}

func equalResolved(x, y any) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	if dx, ok := asDecimal(x); ok {
		dy, ok := asDecimal(y)
		return ok && dx.Equal(dy)
	}
	tx, ty := reflect.TypeOf(x), reflect.TypeOf(y)
	if tx != ty {
		return false
	}
	if tx.Comparable() {
		return x == y
	}
	return reflect.DeepEqual(x, y)
}

// asDecimal folds the integer and float kinds produced by Go literals and
// JSON decoding onto one exact representation, so 3 and 3.0 compare equal
// and large integers are not rounded.
func asDecimal(x any) (decimal.Decimal, bool) {
	switch n := x.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromUint64(uint64(n)), true
	case uint32:
		return decimal.NewFromUint64(uint64(n)), true
	case uint64:
		return decimal.NewFromUint64(n), true
	case float32:
		return asDecimal(float64(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case decimal.Decimal:
		return n, true
	}
	return decimal.Decimal{}, false
}

// MarshalJSON writes the resolved value; a cleared reference is null.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindReference && v.Empty() {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// Attributes maps field names to values.
type Attributes map[string]Value

// Clone returns a shallow copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Plain returns the resolved values of a.
func (a Attributes) Plain() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v.Resolve()
	}
	return out
}
