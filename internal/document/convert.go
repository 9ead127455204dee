package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/db3-network/db3-go/internal/errs"
)

// FromGo converts native Go data into a Value.
//
// Accepted shapes: nil, bool, signed and unsigned integers that fit int64,
// finite floats, string, []byte, json.Number, Value, pointers to those, and
// slices, arrays and string-keyed maps of them. Structs, channels, functions
// and cyclic structures fail with errs.ErrSerialization.
func FromGo(input any) (Value, error) {
	converter := &goConverter{visiting: make(map[visitKey]struct{})}
	return converter.convert(reflect.ValueOf(input), "$")
}

type visitKey struct {
	pointer uintptr
	kind    reflect.Kind
	length  int
}

type goConverter struct {
	visiting map[visitKey]struct{}
}

var (
	valueInterface = reflect.TypeOf((*Value)(nil)).Elem()
	jsonNumberType = reflect.TypeOf(json.Number(""))
)

func (c *goConverter) convert(rv reflect.Value, path string) (Value, error) {
	if !rv.IsValid() {
		return Null{}, nil
	}
	if rv.Type() == jsonNumberType {
		return numberFromLiteral(rv.String(), path)
	}
	if rv.Kind() != reflect.Interface && rv.Kind() != reflect.Pointer && rv.Type().Implements(valueInterface) {
		if value, ok := rv.Interface().(Value); ok {
			return c.validateValue(value, path)
		}
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return c.convert(rv.Elem(), path)
	case reflect.Pointer:
		if rv.IsNil() {
			return Null{}, nil
		}
		key := visitKey{pointer: rv.Pointer(), kind: reflect.Pointer}
		if err := c.enter(key, path); err != nil {
			return nil, err
		}
		defer c.leave(key)
		return c.convert(rv.Elem(), path)
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		raw := rv.Uint()
		if raw > math.MaxInt64 {
			return nil, errs.Serialization("%s: unsigned integer %d overflows int64", path, raw)
		}
		return Int(int64(raw)), nil
	case reflect.Float32, reflect.Float64:
		return floatValue(rv.Float(), path)
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice:
		if rv.IsNil() {
			return Null{}, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Bytes(append([]byte(nil), rv.Bytes()...)), nil
		}
		key := visitKey{pointer: rv.Pointer(), kind: reflect.Slice, length: rv.Len()}
		if err := c.enter(key, path); err != nil {
			return nil, err
		}
		defer c.leave(key)
		return c.convertSequence(rv, path)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			out := make([]byte, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				out[i] = byte(rv.Index(i).Uint())
			}
			return Bytes(out), nil
		}
		return c.convertSequence(rv, path)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, errs.Serialization("%s: map key type %s is not a string", path, rv.Type().Key())
		}
		if rv.IsNil() {
			return Null{}, nil
		}
		key := visitKey{pointer: rv.Pointer(), kind: reflect.Map}
		if err := c.enter(key, path); err != nil {
			return nil, err
		}
		defer c.leave(key)
		obj := make(Object, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			field := iter.Key().String()
			elem, err := c.convert(iter.Value(), path+"."+field)
			if err != nil {
				return nil, err
			}
			obj[field] = elem
		}
		return obj, nil
	default:
		return nil, errs.Serialization("%s: unsupported type %s", path, rv.Type())
	}
}

func (c *goConverter) convertSequence(rv reflect.Value, path string) (Value, error) {
	arr := make(Array, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem, err := c.convert(rv.Index(i), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		arr[i] = elem
	}
	return arr, nil
}

// validateValue walks an already-typed Value so nested containers get the
// same float and cycle checks as native input.
func (c *goConverter) validateValue(v Value, path string) (Value, error) {
	switch val := v.(type) {
	case Float:
		return floatValue(float64(val), path)
	case Array:
		if val == nil {
			return Array{}, nil
		}
		return c.convert(reflect.ValueOf([]Value(val)), path)
	case Object:
		if val == nil {
			return Object{}, nil
		}
		return c.convert(reflect.ValueOf(map[string]Value(val)), path)
	case Bytes:
		out := make(Bytes, len(val))
		copy(out, val)
		return out, nil
	default:
		return v, nil
	}
}

func (c *goConverter) enter(key visitKey, path string) error {
	if _, seen := c.visiting[key]; seen {
		return errs.Serialization("%s: cyclic structure", path)
	}
	c.visiting[key] = struct{}{}
	return nil
}

func (c *goConverter) leave(key visitKey) {
	delete(c.visiting, key)
}

func floatValue(raw float64, path string) (Value, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return nil, errs.Serialization("%s: non-finite float %v", path, raw)
	}
	return Float(raw), nil
}

func numberFromLiteral(literal, path string) (Value, error) {
	if strings.ContainsAny(literal, ".eE") {
		parsed, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, errs.Serialization("%s: number %q: %v", path, literal, err)
		}
		return floatValue(parsed, path)
	}
	n, err := json.Number(literal).Int64()
	if err != nil {
		return nil, errs.Serialization("%s: number %q out of int64 range", path, literal)
	}
	return Int(n), nil
}

// FromJSON parses a JSON document. Integer literals become Int, literals with
// a fraction or exponent become Float.
func FromJSON(data []byte) (Value, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return nil, errs.Serialization("json: %v", err)
	}
	if decoder.More() {
		return nil, errs.Serialization("json: trailing data after document")
	}
	return FromGo(raw)
}
