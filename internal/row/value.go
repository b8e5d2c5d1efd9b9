// Package row models table rows as ordered fields over a closed set of
// primitive value kinds, so exporters and importers never deal with
// open-ended dynamic payloads.
package row

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind identifies which primitive a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
)

// DateLayout is the wire layout for dates without a clock component.
const DateLayout = "2006-01-02"

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged variant. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	t    time.Time
}

// Null returns the null value.
func Null() Value { return Value{} }

// String wraps a text value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number wraps a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int wraps an integral numeric value.
func Int(n int64) Value { return Value{kind: KindNumber, n: float64(n)} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Date wraps a date or timestamp.
func Date(t time.Time) Value { return Value{kind: KindDate, t: t} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Str() string { return v.s }

func (v Value) Float() float64 { return v.n }

func (v Value) Boolean() bool { return v.b }

func (v Value) Time() time.Time { return v.t }

// FromSQL converts a driver value into a Value.
func FromSQL(src any) (Value, error) {
	switch x := src.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(x), nil
	case []byte:
		return String(string(x)), nil
	case int64:
		return Int(x), nil
	case int:
		return Int(int64(x)), nil
	case float64:
		return Number(x), nil
	case bool:
		return Bool(x), nil
	case time.Time:
		return Date(x), nil
	default:
		return Value{}, fmt.Errorf("unsupported column value of type %T", src)
	}
}

// SQL returns the value in a form accepted by database/sql.
// Integral numbers are passed as int64 so INTEGER columns keep their type.
func (v Value) SQL() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1<<53 {
			return int64(v.n)
		}
		return v.n
	case KindBool:
		return v.b
	case KindDate:
		return v.formatDate()
	default:
		return nil
	}
}

// Text renders the value for delimited output; null renders empty.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.formatDate()
	default:
		return ""
	}
}

func (v Value) formatDate() string {
	if v.s != "" {
		return v.s
	}
	t := v.t
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(DateLayout)
	}
	return t.UTC().Format(time.RFC3339)
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindDate:
		return v.t.Equal(o.t)
	default:
		return true
	}
}

// AsDate re-tags a string holding a date or RFC 3339 timestamp as a date.
// Values that are not strings, or do not parse, are returned unchanged.
func (v Value) AsDate() Value {
	if v.kind != KindString {
		return v
	}
	if t, ok := ParseDate(v.s); ok {
		// Keep the stored spelling so a restore writes back the same text.
		return Value{kind: KindDate, t: t, s: v.s}
	}
	return v
}

// ParseDate accepts the layouts temporal columns are stored in.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range []string{DateLayout, time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MarshalJSON encodes dates as strings, so the wire format stays plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return nil, fmt.Errorf("number %v is not representable in JSON", v.n)
		}
		return []byte(strconv.FormatFloat(v.n, 'f', -1, 64)), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindDate:
		return json.Marshal(v.formatDate())
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts scalars only; objects and arrays are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Null()
	case string:
		*v = String(x)
	case float64:
		*v = Number(x)
	case bool:
		*v = Bool(x)
	default:
		return fmt.Errorf("field value must be a scalar, got %T", raw)
	}
	return nil
}
