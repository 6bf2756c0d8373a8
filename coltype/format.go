package coltype

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNullValue        = errors.New("null has no bind buffer representation")
	ErrNotRepresentable = errors.New("value has no SQL literal representation")
	ErrShortBuffer      = errors.New("bind buffer shorter than type width")

	sqlEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)
)

// QuoteSQL single quotes s, escaping backslashes and embedded quotes.
func QuoteSQL(s string) string {
	return "'" + sqlEscaper.Replace(s) + "'"
}

// FormatSQL renders v as a literal the database's own parser accepts. NULL renders as the bare keyword.
func FormatSQL(t Type, v Value) (string, error) {
	if v.IsNull() {
		return "NULL", nil
	}
	if err := Check(t, v); err != nil {
		return "", err
	}
	switch {
	case t == Bool:
		return strconv.FormatBool(v.AsBool()), nil
	case t.IsSigned() || t == Timestamp:
		return strconv.FormatInt(v.Int, 10), nil
	case t.IsUnsigned():
		return strconv.FormatUint(v.AsUint(), 10), nil
	case t.IsFloat():
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return "", fmt.Errorf("%w: %g", ErrNotRepresentable, v.Float)
		}
		return FormatFloat(t, v.Float), nil
	case t.IsText():
		return QuoteSQL(string(v.Bytes)), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownType, t)
}

// FormatFloat prints the shortest text that reads back to the same float of the column's width. Large and tiny
// magnitudes switch to exponent form so the text stays within the row length bound.
func FormatFloat(t Type, f float64) string {
	if t == Float {
		return strconv.FormatFloat(f, 'g', -1, 32)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// FormatBind encodes a non-null value as the little-endian bytes a bind buffer slot holds.
func FormatBind(t Type, v Value) ([]byte, error) {
	if v.IsNull() {
		return nil, ErrNullValue
	}
	if err := Check(t, v); err != nil {
		return nil, err
	}
	b := make([]byte, 0, 8)
	switch t {
	case Bool, TinyInt, UTinyInt:
		b = append(b, byte(v.Int))
	case SmallInt, USmallInt:
		b = binary.LittleEndian.AppendUint16(b, uint16(v.Int))
	case Int, UInt:
		b = binary.LittleEndian.AppendUint32(b, uint32(v.Int))
	case BigInt, UBigInt, Timestamp:
		b = binary.LittleEndian.AppendUint64(b, uint64(v.Int))
	case Float:
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v.Float)))
	case Double:
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v.Float))
	case Binary, NChar, JSON:
		b = append(b, v.Bytes...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return b, nil
}

// ParseBind is the inverse of FormatBind.
func ParseBind(t Type, b []byte) (Value, error) {
	if w := t.ByteWidth(); w != Variable && len(b) < w {
		return NullValue(), fmt.Errorf("%w: %d < %d for %s", ErrShortBuffer, len(b), w, t)
	}
	switch t {
	case Bool:
		return NewBool(b[0] != 0), nil
	case TinyInt:
		return NewInt(int64(int8(b[0]))), nil
	case UTinyInt:
		return NewUint(uint64(b[0])), nil
	case SmallInt:
		return NewInt(int64(int16(binary.LittleEndian.Uint16(b)))), nil
	case USmallInt:
		return NewUint(uint64(binary.LittleEndian.Uint16(b))), nil
	case Int:
		return NewInt(int64(int32(binary.LittleEndian.Uint32(b)))), nil
	case UInt:
		return NewUint(uint64(binary.LittleEndian.Uint32(b))), nil
	case BigInt, Timestamp:
		return NewInt(int64(binary.LittleEndian.Uint64(b))), nil
	case UBigInt:
		return NewUint(binary.LittleEndian.Uint64(b)), nil
	case Float:
		return NewFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))), nil
	case Double:
		return NewFloat(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	case Binary, NChar, JSON:
		c := make([]byte, len(b))
		copy(c, b)
		return NewBytes(c), nil
	}
	return NullValue(), fmt.Errorf("%w: %s", ErrUnknownType, t)
}
