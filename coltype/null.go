package coltype

import (
	"bytes"
	"errors"
	"fmt"
	"math"
)

var (
	ErrKindMismatch = errors.New("value kind does not match column type")
	ErrOutOfRange   = errors.New("value out of range for column type")

	float32NullBits uint32 = 0x7FF00000
	float64NullBits uint64 = 0x7FFFFF0000000000

	binaryNull = []byte{0xFF}
	ncharNull  = []byte{0xFF, 0xFF, 0xFF, 0xFF}
)

// NullSentinel is the reserved in-band value that stands for NULL on paths that have no null flag.
func NullSentinel(t Type) Value {
	switch t {
	case Bool:
		return Value{Kind: KindBool, Int: 2}
	case TinyInt:
		return NewInt(math.MinInt8)
	case SmallInt:
		return NewInt(math.MinInt16)
	case Int:
		return NewInt(math.MinInt32)
	case BigInt, Timestamp:
		return NewInt(math.MinInt64)
	case UTinyInt:
		return NewUint(math.MaxUint8)
	case USmallInt:
		return NewUint(math.MaxUint16)
	case UInt:
		return NewUint(math.MaxUint32)
	case UBigInt:
		return NewUint(math.MaxUint64)
	case Float:
		return NewFloat(float64(math.Float32frombits(float32NullBits)))
	case Double:
		return NewFloat(math.Float64frombits(float64NullBits))
	case Binary:
		return NewBytes(binaryNull)
	case NChar, JSON:
		return NewBytes(ncharNull)
	}
	return NullValue()
}

func IsNullSentinel(t Type, v Value) bool {
	switch t {
	case Float:
		return v.Kind == KindFloat && math.Float32bits(float32(v.Float)) == float32NullBits
	case Double:
		return v.Kind == KindFloat && math.Float64bits(v.Float) == float64NullBits
	}
	s := NullSentinel(t)
	if s.Kind == KindBytes {
		return v.Kind == KindBytes && bytes.Equal(v.Bytes, s.Bytes)
	}
	return s.Kind != KindNull && v.Kind == s.Kind && v.Int == s.Int
}

// MaxSigned is the largest value of the signed integer of the same width, the bias used for unsigned columns.
func MaxSigned(t Type) int64 {
	switch t.Bits() {
	case 8:
		return math.MaxInt8
	case 16:
		return math.MaxInt16
	case 32:
		return math.MaxInt32
	case 64:
		return math.MaxInt64
	}
	return 0
}

func MaxUnsigned(t Type) uint64 {
	switch t.Bits() {
	case 8:
		return math.MaxUint8
	case 16:
		return math.MaxUint16
	case 32:
		return math.MaxUint32
	case 64:
		return math.MaxUint64
	}
	return 0
}

func minSigned(t Type) int64 {
	switch t.Bits() {
	case 8:
		return math.MinInt8
	case 16:
		return math.MinInt16
	case 32:
		return math.MinInt32
	}
	return math.MinInt64
}

// Check verifies that v can be stored in a column of type t. NULL always passes.
func Check(t Type, v Value) error {
	if v.IsNull() {
		return nil
	}
	if v.Kind != t.Kind() {
		return fmt.Errorf("%w: %s value for %s", ErrKindMismatch, v.Kind, t)
	}
	switch {
	case t == Bool:
		if v.Int != 0 && v.Int != 1 {
			return fmt.Errorf("%w: bool %d", ErrOutOfRange, v.Int)
		}
	case t.IsSigned():
		if v.Int < minSigned(t) || v.Int > MaxSigned(t) {
			return fmt.Errorf("%w: %d for %s", ErrOutOfRange, v.Int, t)
		}
	case t.IsUnsigned():
		if v.AsUint() > MaxUnsigned(t) {
			return fmt.Errorf("%w: %d for %s", ErrOutOfRange, v.AsUint(), t)
		}
	case t == Float:
		if !math.IsNaN(v.Float) && !math.IsInf(v.Float, 0) && math.Abs(v.Float) > math.MaxFloat32 {
			return fmt.Errorf("%w: %g for %s", ErrOutOfRange, v.Float, t)
		}
	}
	return nil
}
