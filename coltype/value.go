package coltype

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

type (
	Kind uint8

	// Value is the common representation every codec reads and writes. Unsigned values keep their bit pattern in
	// Int, bools are 0/1 in Int, text and JSON live in Bytes.
	Value struct {
		Kind  Kind
		Int   int64
		Float float64
		Bytes []byte
	}
)

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func NullValue() Value {
	return Value{}
}

func NewBool(b bool) Value {
	v := Value{Kind: KindBool}
	if b {
		v.Int = 1
	}
	return v
}

func NewInt(i int64) Value {
	return Value{Kind: KindInt, Int: i}
}

func NewUint(u uint64) Value {
	return Value{Kind: KindUint, Int: int64(u)}
}

func NewFloat(f float64) Value {
	return Value{Kind: KindFloat, Float: f}
}

func NewBytes(b []byte) Value {
	return Value{Kind: KindBytes, Bytes: b}
}

func NewString(s string) Value {
	return Value{Kind: KindBytes, Bytes: []byte(s)}
}

func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

func (v Value) AsBool() bool {
	return v.Int != 0
}

func (v Value) AsInt() int64 {
	return v.Int
}

func (v Value) AsUint() uint64 {
	return uint64(v.Int)
}

func (v Value) AsFloat() float64 {
	return v.Float
}

func (v Value) AsString() string {
	return string(v.Bytes)
}

// Equal compares kind and payload. Floats compare by bit pattern so NaN sentinels are equal to themselves.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindFloat:
		return math.Float64bits(v.Float) == math.Float64bits(o.Float)
	case KindBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	default:
		return v.Int == o.Int
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindUint:
		return strconv.FormatUint(v.AsUint(), 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBytes:
		return strconv.Quote(string(v.Bytes))
	}
	return fmt.Sprintf("Value{%d}", v.Kind)
}
