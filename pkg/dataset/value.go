package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Value is a sealed interface over the dataset tree. Only String, Number,
// Bool, Null, Sequence and Mapping implement it.
type Value interface {
	datasetValue()
}

// String is a text scalar.
type String string

func (String) datasetValue() {}

// Number is a numeric scalar kept as its textual token so precision
// survives the trip from the database into the document source.
type Number string

func (Number) datasetValue() {}

// Bool is a boolean scalar.
type Bool bool

func (Bool) datasetValue() {}

// Null is the absent scalar.
type Null struct{}

func (Null) datasetValue() {}

// Sequence is an ordered list of values.
type Sequence []Value

func (Sequence) datasetValue() {}

// Entry is one key/value pair of a Mapping.
type Entry struct {
	Key   string
	Value Value
}

// Mapping is an ordered list of entries. Keys are unique within a Mapping.
type Mapping []Entry

func (Mapping) datasetValue() {}

// Int builds a Number from an integer.
func Int(n int64) Number {
	return Number(strconv.FormatInt(n, 10))
}

// decimalPattern is the JSON number grammar, which is also a valid Typst
// int or float literal.
var decimalPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// ParseNumber accepts a plain decimal token and returns it unchanged.
// Hex, signed-plus, and named values such as inf or NaN are rejected.
func ParseNumber(token string) (Number, error) {
	if !decimalPattern.MatchString(token) {
		return "", fmt.Errorf("invalid number %q", token)
	}
	return Number(token), nil
}

// Valid reports whether n is a plain decimal token.
func (n Number) Valid() bool {
	return decimalPattern.MatchString(string(n))
}

// Set replaces the value stored under key, or appends a new entry.
func (m *Mapping) Set(key string, v Value) {
	for i := range *m {
		if (*m)[i].Key == key {
			(*m)[i].Value = v
			return
		}
	}
	*m = append(*m, Entry{Key: key, Value: v})
}

// Get returns the value stored under key.
func (m Mapping) Get(key string) (Value, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in insertion order.
func (m Mapping) Keys() []string {
	keys := make([]string, len(m))
	for i, e := range m {
		keys[i] = e.Key
	}
	return keys
}

// MarshalJSON keeps entry order, which encoding/json maps would lose.
func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := marshalValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("mapping key %q: %w", e.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON encodes the sequence element-wise.
func (s Sequence) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		val, err := marshalValue(item)
		if err != nil {
			return nil, fmt.Errorf("sequence index %d: %w", i, err)
		}
		buf.Write(val)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalJSON emits the numeric token, or a string when it is not a
// plain decimal.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid() {
		return json.Marshal(string(n))
	}
	return []byte(n), nil
}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

func marshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Bool:
		return json.Marshal(bool(val))
	case Number:
		return val.MarshalJSON()
	case Sequence:
		return val.MarshalJSON()
	case Mapping:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unsupported dataset value %T", v)
	}
}
