// Package document holds the dynamically shaped values stored in a
// collection and their canonical byte form.
//
// Values are a closed set of types (Null, Bool, Int, Float, String, Bytes,
// Array, Object) so the codec's supported-type boundary is explicit. The
// byte form is CBOR with Core Deterministic Encoding; Decode(Encode(v))
// always equals v.
//
// Floats must be finite. Integers are int64.
package document
