package document

import (
	"bytes"
)

// Value is a sealed interface over the value shapes a document may hold.
// Only Null, Bool, Int, Float, String, Bytes, Array and Object implement it.
type Value interface {
	documentValue()
}

// Null is the explicit null value.
type Null struct{}

func (Null) documentValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) documentValue() {}

// Int is a signed 64-bit integer value.
type Int int64

func (Int) documentValue() {}

// Float is a finite 64-bit floating point value.
type Float float64

func (Float) documentValue() {}

// String is a UTF-8 text value.
type String string

func (String) documentValue() {}

// Bytes is a binary blob.
type Bytes []byte

func (Bytes) documentValue() {}

// Array is an ordered sequence of values.
type Array []Value

func (Array) documentValue() {}

// Object maps field names to values. Top-level documents are Objects.
type Object map[string]Value

func (Object) documentValue() {}

// Pair is a field/value pair for ordered Object construction in call sites.
type Pair struct {
	Key   string
	Value Value
}

// F is shorthand for a Pair.
func F(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject builds an Object from pairs. Later pairs overwrite earlier ones.
func NewObject(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// Equal reports whether two values have the same shape and content.
// A nil Value equals Null. Empty and nil Arrays, Objects and Bytes are equal.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	switch left := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		right, ok := b.(Bool)
		return ok && left == right
	case Int:
		right, ok := b.(Int)
		return ok && left == right
	case Float:
		right, ok := b.(Float)
		return ok && left == right
	case String:
		right, ok := b.(String)
		return ok && left == right
	case Bytes:
		right, ok := b.(Bytes)
		return ok && bytes.Equal(left, right)
	case Array:
		right, ok := b.(Array)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if !Equal(left[i], right[i]) {
				return false
			}
		}
		return true
	case Object:
		right, ok := b.(Object)
		if !ok || len(left) != len(right) {
			return false
		}
		for key, leftValue := range left {
			rightValue, present := right[key]
			if !present || !Equal(leftValue, rightValue) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ToGo converts a Value into plain Go values: nil, bool, int64, float64,
// string, []byte, []any and map[string]any.
func ToGo(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case String:
		return string(val)
	case Bytes:
		out := make([]byte, len(val))
		copy(out, val)
		return out
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for key, elem := range val {
			out[key] = ToGo(elem)
		}
		return out
	default:
		return nil
	}
}
