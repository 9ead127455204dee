package document

import (
	"reflect"
	"strconv"
	"unicode/utf8"

	"github.com/db3-network/db3-go/internal/errs"
	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
// smallest integer and float encodings, definite lengths. The same Value
// always produces the same bytes.
var encMode cbor.EncMode

// decMode rejects duplicate keys and decodes every integer as int64 so a
// decoded document compares equal to the one that was encoded.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("document: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IntDec:          cbor.IntDecConvertSigned,
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		IndefLength:     cbor.IndefLengthForbidden,
		UTF8:            cbor.UTF8RejectInvalid,
		MaxNestedLevels: maxNestedLevels,
	}.DecMode()
	if err != nil {
		panic("document: CBOR decoder initialization failed: " + err.Error())
	}
}

// maxNestedLevels bounds container nesting. A top-level array or object is
// level one; Encode and Decode share the limit.
const maxNestedLevels = 64

// Encode produces the canonical byte sequence of v. The value is validated in
// full before any bytes are produced; on failure the result is nil.
func Encode(v Value) ([]byte, error) {
	native, err := toNative(v, "$", 0)
	if err != nil {
		return nil, err
	}
	data, err := encMode.Marshal(native)
	if err != nil {
		return nil, errs.Serialization("cbor: %v", err)
	}
	return data, nil
}

// EncodeObject encodes a top-level document. Documents stored in a
// collection are always objects.
func EncodeObject(v Value) ([]byte, error) {
	if _, ok := v.(Object); !ok {
		return nil, errs.Serialization("document must be an object, got %T", v)
	}
	return Encode(v)
}

// Decode parses canonical document bytes back into a Value.
func Decode(data []byte) (Value, error) {
	if len(data) == 0 {
		return nil, errs.Serialization("cbor: empty input")
	}
	var raw any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return nil, errs.Serialization("cbor: %v", err)
	}
	return fromNative(raw, "$")
}

func toNative(v Value, path string, depth int) (any, error) {
	switch val := v.(type) {
	case nil, Null:
		return nil, nil
	case Bool:
		return bool(val), nil
	case Int:
		return int64(val), nil
	case Float:
		checked, err := floatValue(float64(val), path)
		if err != nil {
			return nil, err
		}
		return float64(checked.(Float)), nil
	case String:
		if !utf8.ValidString(string(val)) {
			return nil, errs.Serialization("%s: invalid UTF-8", path)
		}
		return string(val), nil
	case Bytes:
		if val == nil {
			return []byte{}, nil
		}
		return []byte(val), nil
	case Array:
		if err := checkNesting(path, depth); err != nil {
			return nil, err
		}
		out := make([]any, len(val))
		for i, elem := range val {
			native, err := toNative(elem, path+"["+strconv.Itoa(i)+"]", depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = native
		}
		return out, nil
	case Object:
		if err := checkNesting(path, depth); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(val))
		for key, elem := range val {
			if !utf8.ValidString(key) {
				return nil, errs.Serialization("%s: key %q is not valid UTF-8", path, key)
			}
			native, err := toNative(elem, path+"."+key, depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = native
		}
		return out, nil
	default:
		return nil, errs.Serialization("%s: unsupported value type %T", path, v)
	}
}

// checkNesting rejects a container at depth when it would be one level
// deeper than Decode accepts.
func checkNesting(path string, depth int) error {
	if depth >= maxNestedLevels {
		return errs.Serialization("%s: nesting exceeds %d levels", path, maxNestedLevels)
	}
	return nil
}

func fromNative(raw any, path string) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(val), nil
	case int64:
		return Int(val), nil
	case float64:
		return floatValue(val, path)
	case string:
		return String(val), nil
	case []byte:
		return Bytes(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			decoded, err := fromNative(elem, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			arr[i] = decoded
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for key, elem := range val {
			decoded, err := fromNative(elem, path+"."+key)
			if err != nil {
				return nil, err
			}
			obj[key] = decoded
		}
		return obj, nil
	default:
		return nil, errs.Serialization("%s: unsupported encoded type %T", path, raw)
	}
}
