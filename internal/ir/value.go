package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// Value is a sealed interface over the values a frame or record can hold.
// Implemented by Null, String, Int, Float, Bool, Date, Array, Record and
// Unbound.
type Value interface {
	value()
}

// Null is an explicit JSON null.
type Null struct{}

// String is a string or identifier value.
type String string

// Int is a whole number.
type Int int64

// Float is a fractional number. Decoders only produce Float for values
// that are not whole; whole numbers always come back as Int, so the same
// JSON number has one identity however it was written. NaN and the
// infinities have no JSON form and are rejected by every encoder.
type Float float64

// Bool is a boolean value.
type Bool bool

// Date is a point in time, normalised to UTC.
type Date struct {
	time.Time
}

// Array is an ordered list of values.
type Array []Value

// Record maps field names to values. Use SortedKeys for deterministic iteration.
type Record map[string]Value

// Unbound marks a variable that has no value yet. A frame key holding
// Unbound is treated exactly like an absent key.
type Unbound struct{}

func (Null) value()    {}
func (String) value()  {}
func (Int) value()     {}
func (Float) value()   {}
func (Bool) value()    {}
func (Date) value()    {}
func (Array) value()   {}
func (Record) value()  {}
func (Unbound) value() {}

// NewDate wraps t as a Date in UTC.
func NewDate(t time.Time) Date {
	return Date{Time: t.UTC()}
}

// IsUnbound reports whether v carries no value: nil or Unbound.
func IsUnbound(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Unbound)
	return ok
}

// Equal reports structural equality of two values.
// Unbound never equals anything, including another Unbound.
func Equal(a, b Value) bool {
	if IsUnbound(a) || IsUnbound(b) {
		return false
	}
	switch x := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Int:
		switch y := b.(type) {
		case Int:
			return x == y
		case Float:
			return float64(x) == float64(y)
		}
		return false
	case Float:
		switch y := b.(type) {
		case Float:
			return x == y
		case Int:
			return float64(x) == float64(y)
		}
		return false
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case Date:
		y, ok := b.(Date)
		return ok && x.Time.Equal(y.Time)
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Record:
		y, ok := b.(Record)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// Has reports whether the record carries a bound value for field.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	return ok && !IsUnbound(v)
}

// IsError reports whether the record is the error shape of an action result.
func (r Record) IsError() bool {
	return r.Has("error")
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's native string order compares UTF-8 bytes, which differs for
// characters outside the BMP.
func (r Record) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

// MarshalJSON encodes the record with sorted keys. Not canonical: use
// MarshalCanonical for hashing.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := MarshalValue(r[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into a Record.
func (r *Record) UnmarshalJSON(data []byte) error {
	v, err := DecodeJSON(data)
	if err != nil {
		return err
	}
	rec, ok := v.(Record)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*r = rec
	return nil
}

// MarshalValue encodes any Value as JSON. Dates become RFC 3339 strings.
// Unbound values cannot be encoded.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Float:
		s, err := FormatNumber(float64(val))
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	case Bool:
		return json.Marshal(bool(val))
	case Date:
		return json.Marshal(val.Time.Format(time.RFC3339Nano))
	case Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := MarshalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Record:
		return val.MarshalJSON()
	case Unbound:
		return nil, fmt.Errorf("unbound value cannot be encoded")
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
}

// DecodeJSON parses JSON into a Value. Integers become Int, everything
// else Float.
func DecodeJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromGo(raw)
}

// FromGo converts a decoded Go value (from JSON, YAML or CUE) to a Value.
// Whole floats within int64 range are normalised to Int.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("number out of int64 range: %d", val)
		}
		return Int(int64(val)), nil
	case float32:
		return fromFloat(float64(val))
	case float64:
		return fromFloat(val)
	case json.Number:
		s := string(val)
		if !strings.ContainsAny(s, ".eE") {
			n, err := val.Int64()
			if err != nil {
				return nil, fmt.Errorf("number out of int64 range: %s", s)
			}
			return Int(n), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %s: %w", s, err)
		}
		return fromFloat(f)
	case time.Time:
		return NewDate(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			e, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = e
		}
		return arr, nil
	case map[string]any:
		rec := make(Record, len(val))
		for k, elem := range val {
			e, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			rec[k] = e
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// -2^63 is exact in float64; 2^63 is not an int64.
const (
	minIntFloat = -9223372036854775808.0
	maxIntFloat = 9223372036854775808.0
)

func fromFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number is not finite: %v", f)
	}
	if f == math.Trunc(f) && f >= minIntFloat && f < maxIntFloat {
		return Int(int64(f)), nil
	}
	return Float(f), nil
}

// FormatNumber writes f the way ECMAScript Number.prototype.toString does,
// which is the number form RFC 8785 requires: the shortest round-tripping
// digits, plain notation for 1e-6 <= |f| < 1e21, and an exponent with an
// explicit sign and no leading zeros otherwise. Negative zero is "0".
func FormatNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("number is not finite: %v", f)
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	// Go pads the exponent to two digits ("1e-07"); ECMAScript does not.
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	exp = strings.TrimLeft(exp[1:], "0")
	return mant + "e" + sign + exp, nil
}

// RecordFromGo converts a decoded map into a Record.
func RecordFromGo(m map[string]any) (Record, error) {
	if m == nil {
		return Record{}, nil
	}
	v, err := FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(Record), nil
}

// ToGo converts a Value back to plain Go values (for YAML/JSON output).
func ToGo(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Date:
		return val.Time.Format(time.RFC3339Nano)
	case Array:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = ToGo(e)
		}
		return out
	case Record:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = ToGo(e)
		}
		return out
	default:
		return nil
	}
}
