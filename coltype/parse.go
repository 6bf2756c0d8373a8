package coltype

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type (
	// Precision is the timestamp resolution of a database.
	Precision string
)

const (
	Millisecond Precision = "ms"
	Microsecond Precision = "us"
	Nanosecond  Precision = "ns"
)

var (
	ErrBadLiteral = errors.New("malformed literal")

	literalUnescaper = strings.NewReplacer(`\\`, `\`, `\'`, `'`, `\"`, `"`)
)

func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(strings.ToLower(strings.TrimSpace(s))); p {
	case Millisecond, Microsecond, Nanosecond:
		return p, nil
	case "":
		return Millisecond, nil
	}
	return "", fmt.Errorf("unknown precision %q", s)
}

func (p Precision) FromTime(t time.Time) int64 {
	switch p {
	case Microsecond:
		return t.UnixMicro()
	case Nanosecond:
		return t.UnixNano()
	}
	return t.UnixMilli()
}

func (p Precision) ToTime(ts int64) time.Time {
	switch p {
	case Microsecond:
		return time.UnixMicro(ts)
	case Nanosecond:
		return time.Unix(0, ts)
	}
	return time.UnixMilli(ts)
}

// PerSecond is the number of timestamp units in one second.
func (p Precision) PerSecond() int64 {
	switch p {
	case Microsecond:
		return int64(time.Second / time.Microsecond)
	case Nanosecond:
		return int64(time.Second)
	}
	return int64(time.Second / time.Millisecond)
}

// ParseLiteral reads one value in the text form FormatSQL produces. Surrounding quotes on text are optional.
func ParseLiteral(t Type, s string) (Value, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") {
		return NullValue(), nil
	}
	var v Value
	switch {
	case t == Bool:
		b, err := strconv.ParseBool(strings.ToLower(s))
		if err != nil {
			return v, fmt.Errorf("%w: bool %q", ErrBadLiteral, s)
		}
		v = NewBool(b)
	case t.IsSigned() || t == Timestamp:
		i, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return v, fmt.Errorf("%w: %s %q", ErrBadLiteral, t, s)
		}
		v = NewInt(i)
	case t.IsUnsigned():
		u, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return v, fmt.Errorf("%w: %s %q", ErrBadLiteral, t, s)
		}
		v = NewUint(u)
	case t.IsFloat():
		bits := 64
		if t == Float {
			bits = 32
		}
		f, err := strconv.ParseFloat(s, bits)
		if err != nil {
			return v, fmt.Errorf("%w: %s %q", ErrBadLiteral, t, s)
		}
		v = NewFloat(f)
	case t.IsText():
		v = NewString(unquote(s))
	default:
		return v, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return v, Check(t, v)
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' || first == '"') && first == last {
			return literalUnescaper.Replace(s[1 : len(s)-1])
		}
	}
	return s
}

// FromNative converts a value produced by a database driver, a JSON decoder or a columnar file reader into a
// Value of column type t.
func FromNative(t Type, native any, p Precision) (Value, error) {
	switch n := native.(type) {
	case nil:
		return NullValue(), nil
	case *string:
		if n == nil {
			return NullValue(), nil
		}
		return FromNative(t, *n, p)
	case time.Time:
		if t == Timestamp || t.IsSigned() {
			return NewInt(p.FromTime(n)), nil
		}
		return NullValue(), fmt.Errorf("%w: time for %s", ErrKindMismatch, t)
	case json.Number:
		return ParseLiteral(t, n.String())
	case json.RawMessage:
		return fromBytes(t, n)
	case []byte:
		return fromBytes(t, n)
	case string:
		if t.IsText() {
			return NewString(n), nil
		}
		return ParseLiteral(t, n)
	case bool:
		if t == Bool {
			return NewBool(n), nil
		}
		return NullValue(), fmt.Errorf("%w: bool for %s", ErrKindMismatch, t)
	case float32:
		return fromFloat(t, float64(n))
	case float64:
		return fromFloat(t, n)
	}
	if i, ok := asInt64(native); ok {
		return fromInt(t, i)
	}
	if u, ok := asUint64(native); ok {
		if t.IsUnsigned() {
			v := NewUint(u)
			return v, Check(t, v)
		}
		if u > math.MaxInt64 {
			return NullValue(), fmt.Errorf("%w: %d for %s", ErrOutOfRange, u, t)
		}
		return fromInt(t, int64(u))
	}
	return NullValue(), fmt.Errorf("%w: %T for %s", ErrKindMismatch, native, t)
}

func fromBytes(t Type, b []byte) (Value, error) {
	if t.IsText() {
		c := make([]byte, len(b))
		copy(c, b)
		return NewBytes(c), nil
	}
	return ParseLiteral(t, string(b))
}

func fromInt(t Type, i int64) (Value, error) {
	var v Value
	switch {
	case t == Bool:
		v = NewBool(i != 0)
	case t.IsSigned() || t == Timestamp:
		v = NewInt(i)
	case t.IsUnsigned():
		if i < 0 {
			return v, fmt.Errorf("%w: %d for %s", ErrOutOfRange, i, t)
		}
		v = NewUint(uint64(i))
	case t.IsFloat():
		v = NewFloat(float64(i))
	default:
		return v, fmt.Errorf("%w: int for %s", ErrKindMismatch, t)
	}
	return v, Check(t, v)
}

func fromFloat(t Type, f float64) (Value, error) {
	if t.IsFloat() {
		if t == Float {
			f = float64(float32(f))
		}
		return NewFloat(f), nil
	}
	if t.IsInteger() || t == Timestamp {
		if f != math.Trunc(f) {
			return NullValue(), fmt.Errorf("%w: fractional %g for %s", ErrKindMismatch, f, t)
		}
		if t.IsUnsigned() {
			if f < 0 || f >= math.MaxUint64 {
				return NullValue(), fmt.Errorf("%w: %g for %s", ErrOutOfRange, f, t)
			}
			v := NewUint(uint64(f))
			return v, Check(t, v)
		}
		return fromInt(t, int64(f))
	}
	return NullValue(), fmt.Errorf("%w: float for %s", ErrKindMismatch, t)
}

func asInt64(n any) (int64, bool) {
	switch i := n.(type) {
	case int:
		return int64(i), true
	case int8:
		return int64(i), true
	case int16:
		return int64(i), true
	case int32:
		return int64(i), true
	case int64:
		return i, true
	}
	return 0, false
}

func asUint64(n any) (uint64, bool) {
	switch u := n.(type) {
	case uint:
		return uint64(u), true
	case uint8:
		return uint64(u), true
	case uint16:
		return uint64(u), true
	case uint32:
		return uint64(u), true
	case uint64:
		return u, true
	}
	return 0, false
}
