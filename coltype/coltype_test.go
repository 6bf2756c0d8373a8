package coltype

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseType(t *testing.T) {
	cases := map[string]Type{
		"TIMESTAMP":         Timestamp,
		"binary(16)":        Binary,
		"VARCHAR(64)":       Binary,
		"nchar(8)":          NChar,
		"INT UNSIGNED":      UInt,
		"bigint   unsigned": UBigInt,
		"utinyint":          UTinyInt,
		"bool":              Bool,
		"JSON":              JSON,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("Parse(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := Parse("DECIMAL(10,2)"); !errors.Is(err, ErrUnknownType) {
		t.Fatal("expected unknown type")
	}
}

func TestByteWidth(t *testing.T) {
	if Bool.ByteWidth() != 1 || SmallInt.ByteWidth() != 2 || Float.ByteWidth() != 4 || Timestamp.ByteWidth() != 8 {
		t.Fatal("bad fixed width")
	}
	if NChar.ByteWidth() != Variable || JSON.ByteWidth() != Variable {
		t.Fatal("text should be variable")
	}
}

func TestNullSentinel(t *testing.T) {
	if NullSentinel(Int).Int != math.MinInt32 {
		t.Fatal("int sentinel should be min int32")
	}
	if NullSentinel(UBigInt).AsUint() != math.MaxUint64 {
		t.Fatal("ubigint sentinel should be max uint64")
	}
	for _, typ := range []Type{Bool, TinyInt, SmallInt, Int, BigInt, Float, Double, Binary, Timestamp, NChar,
		UTinyInt, USmallInt, UInt, UBigInt, JSON} {
		if !IsNullSentinel(typ, NullSentinel(typ)) {
			t.Fatalf("sentinel for %s not recognised", typ)
		}
	}
	if IsNullSentinel(Int, NewInt(0)) {
		t.Fatal("zero is not null")
	}
}

func TestFormatSQL(t *testing.T) {
	cases := []struct {
		typ  Type
		v    Value
		want string
	}{
		{Bool, NewBool(true), "true"},
		{TinyInt, NewInt(-128), "-128"},
		{UBigInt, NewUint(math.MaxUint64), "18446744073709551615"},
		{Float, NewFloat(float64(float32(1.1))), "1.1"},
		{Double, NewFloat(0.25), "0.25"},
		{Binary, NewString(`it's a \ test`), `'it\'s a \\ test'`},
		{NChar, NullValue(), "NULL"},
		{Timestamp, NewInt(1700000000000), "1700000000000"},
	}
	for _, c := range cases {
		got, err := FormatSQL(c.typ, c.v)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Fatalf("FormatSQL(%s, %s) = %s, want %s", c.typ, c.v, got, c.want)
		}
	}

	if _, err := FormatSQL(Double, NewFloat(math.Inf(1))); !errors.Is(err, ErrNotRepresentable) {
		t.Fatal("expected inf to be rejected")
	}
	if _, err := FormatSQL(TinyInt, NewInt(300)); !errors.Is(err, ErrOutOfRange) {
		t.Fatal("expected out of range")
	}
	if _, err := FormatSQL(Int, NewString("1")); !errors.Is(err, ErrKindMismatch) {
		t.Fatal("expected kind mismatch")
	}
}

func TestBindRoundTrip(t *testing.T) {
	cases := []struct {
		typ Type
		v   Value
	}{
		{Bool, NewBool(true)},
		{TinyInt, NewInt(-7)},
		{SmallInt, NewInt(math.MinInt16 + 1)},
		{Int, NewInt(math.MaxInt32)},
		{BigInt, NewInt(math.MinInt64 + 1)},
		{UTinyInt, NewUint(200)},
		{USmallInt, NewUint(65000)},
		{UInt, NewUint(math.MaxUint32 - 1)},
		{UBigInt, NewUint(math.MaxUint64 - 1)},
		{Float, NewFloat(float64(float32(3.25)))},
		{Double, NewFloat(-1e300)},
		{Timestamp, NewInt(1700000000123)},
		{NChar, NewString("数据")},
	}
	for _, c := range cases {
		b, err := FormatBind(c.typ, c.v)
		if err != nil {
			t.Fatal(err)
		}
		if w := c.typ.ByteWidth(); w != Variable && len(b) != w {
			t.Fatalf("%s encoded to %d bytes", c.typ, len(b))
		}
		got, err := ParseBind(c.typ, b)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(c.v) {
			t.Fatalf("%s: got %s want %s", c.typ, got, c.v)
		}
	}

	if _, err := FormatBind(Int, NullValue()); !errors.Is(err, ErrNullValue) {
		t.Fatal("null must not have bind bytes")
	}
	if _, err := ParseBind(BigInt, []byte{1, 2}); !errors.Is(err, ErrShortBuffer) {
		t.Fatal("expected short buffer")
	}
}

func TestParseLiteral(t *testing.T) {
	v, err := ParseLiteral(Binary, `'it\'s'`)
	if err != nil {
		t.Fatal(err)
	}
	if v.AsString() != "it's" {
		t.Fatalf("got %q", v.AsString())
	}

	v, err = ParseLiteral(UInt, "4294967295")
	if err != nil {
		t.Fatal(err)
	}
	if v.AsUint() != math.MaxUint32 {
		t.Fatal("bad uint")
	}

	v, err = ParseLiteral(Int, "null")
	if err != nil || !v.IsNull() {
		t.Fatal("expected null")
	}

	if _, err = ParseLiteral(SmallInt, "70000"); !errors.Is(err, ErrBadLiteral) {
		t.Fatal("expected bad literal")
	}
}

func TestFromNative(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	v, err := FromNative(Timestamp, ts, Microsecond)
	if err != nil {
		t.Fatal(err)
	}
	if v.Int != 1700000000123000 {
		t.Fatalf("got %d", v.Int)
	}

	v, err = FromNative(UBigInt, uint64(math.MaxUint64), Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if v.AsUint() != math.MaxUint64 {
		t.Fatal("bad ubigint")
	}

	v, err = FromNative(USmallInt, float64(12), Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindUint || v.AsUint() != 12 {
		t.Fatal("json float should become uint")
	}

	v, err = FromNative(NChar, []byte("abc"), Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if v.AsString() != "abc" {
		t.Fatal("bad bytes")
	}

	if _, err = FromNative(UTinyInt, int64(-1), Millisecond); !errors.Is(err, ErrOutOfRange) {
		t.Fatal("expected negative unsigned to fail")
	}
	if _, err = FromNative(Int, 1.5, Millisecond); !errors.Is(err, ErrKindMismatch) {
		t.Fatal("expected fractional int to fail")
	}
}

func TestPrecision(t *testing.T) {
	p, err := ParsePrecision("NS")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1700000000, 5)
	if !p.ToTime(p.FromTime(now)).Equal(now) {
		t.Fatal("ns precision should round trip")
	}
	if Millisecond.PerSecond() != 1000 {
		t.Fatal("bad ms per second")
	}
	if _, err = ParsePrecision("s"); err == nil {
		t.Fatal("expected unknown precision")
	}
}
