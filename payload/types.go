// Package payload implements the JSON-like metadata document attached to
// each vector, and the boolean filter tree evaluated against it.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind tags the variant carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

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
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is the sum type carried by every Payload field: null, boolean,
// signed integer, double, string, an ordered list of Value, or a mapping
// of string to Value. Nesting is unbounded in either the array or object
// direction.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	a    []Value
	o    Document
}

// Document is a Payload: a mapping from field name to Value. Field order
// is not preserved across serialization round-trips.
type Document map[string]Value

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps a signed integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a double.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps an ordered list of Value.
func Array(vs ...Value) Value { return Value{kind: KindArray, a: vs} }

// Object wraps a nested mapping of string to Value.
func Object(d Document) Value { return Value{kind: KindObject, o: d} }

// Kind reports the variant tag carried by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean value and true if v is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsInt returns the integer value and true if v is KindInt.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsFloat returns the float value and true if v is KindFloat.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

// AsString returns the string value and true if v is KindString.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsArray returns the element slice and true if v is KindArray.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.a, true
}

// AsObject returns the nested document and true if v is KindObject.
func (v Value) AsObject() (Document, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.o, true
}

// numeric reports whether v carries a number (int or float) and its value
// coerced to float64, for the gt/gte/lt/lte comparisons which operate in
// double precision regardless of the stored kind.
func (v Value) numeric() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports strict value equality: kinds must match (no int/float
// coercion — equality is exact, unlike the coercing numeric comparisons),
// and composite values recurse structurally.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.a) != len(other.a) {
			return false
		}
		for i := range v.a {
			if !v.a[i].Equal(other.a[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.o) != len(other.o) {
			return false
		}
		for k, val := range v.o {
			ov, ok := other.o[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Key returns a stable string encoding of a scalar value, used by the
// bitmap index as the second half of its (field, value) inverted-index
// key. Only called on scalar kinds — the bitmap index never indexes
// array or object values directly.
func (v Value) Key() string {
	switch v.kind {
	case KindNull:
		return "n:"
	case KindBool:
		if v.b {
			return "b:true"
		}
		return "b:false"
	case KindInt:
		return "i:" + strconv.FormatInt(v.i, 10)
	case KindFloat:
		return "f:" + strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return "s:" + v.s
	default:
		return ""
	}
}

// MarshalJSON implements the self-describing JSON-compatible wire format
// the payload document persists as within WAL and snapshot records.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		b, err := json.Marshal(v.f)
		if err == nil && !bytes.ContainsAny(b, ".eE") {
			// A whole-number float would otherwise decode back as KindInt.
			b = append(b, '.', '0')
		}
		return b, err
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		return json.Marshal(v.a)
	case KindObject:
		return json.Marshal(v.o)
	default:
		return nil, fmt.Errorf("payload: cannot marshal value of kind %v", v.kind)
	}
}

// UnmarshalJSON decodes a value produced by MarshalJSON. A bare JSON
// number without a fractional part or exponent decodes as KindInt;
// otherwise KindFloat, mirroring how int-vs-double fields are
// distinguished at construction time.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i)
		}
		f, _ := x.Float64()
		return Float(f)
	case string:
		return String(x)
	case []any:
		vals := make([]Value, len(x))
		for i, e := range x {
			vals[i] = fromAny(e)
		}
		return Array(vals...)
	case map[string]any:
		doc := make(Document, len(x))
		for k, e := range x {
			doc[k] = fromAny(e)
		}
		return Object(doc)
	default:
		return Null()
	}
}

// MarshalJSON implements json.Marshaler for Document so a Payload
// round-trips through encoding/json the same way a Value does.
func (d Document) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := json.Marshal(d[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}
