package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/utils"
)

func TestBiasBoundaries(t *testing.T) {
	for _, typ := range []coltype.Type{coltype.UTinyInt, coltype.USmallInt, coltype.UInt, coltype.UBigInt} {
		maxSigned := uint64(coltype.MaxSigned(typ))
		for _, u := range []uint64{0, 1, maxSigned, maxSigned + 1, coltype.MaxUnsigned(typ)} {
			e0, e1 := BiasEncode(typ, u)
			if e1 != coltype.MaxSigned(typ) {
				t.Fatalf("%s: second element %d, want %d", typ, e1, coltype.MaxSigned(typ))
			}
			if e0 < -int64(maxSigned)-1 || e0 > int64(maxSigned) {
				t.Fatalf("%s: first element %d does not fit the signed width", typ, e0)
			}
			if got := BiasDecode(typ, e0, e1); got != u {
				t.Fatalf("%s: %d decoded to %d", typ, u, got)
			}
		}
	}
}

func TestUnsignedAvroNative(t *testing.T) {
	c := MustLookup(coltype.UInt)
	native, err := c.ToAvro(coltype.NewUint(math.MaxUint32 - 1))
	if err != nil {
		t.Fatal(err)
	}
	arr := native.([]any)
	if _, ok := arr[0].(int32); !ok {
		t.Fatalf("uint elements should be int32, got %T", arr[0])
	}
	v, err := c.FromAvro(native)
	if err != nil {
		t.Fatal(err)
	}
	if v.AsUint() != math.MaxUint32-1 {
		t.Fatalf("got %d", v.AsUint())
	}

	// a null on the non-nullable path travels as the max value sentinel
	native, err = c.ToAvro(coltype.NullValue())
	if err != nil {
		t.Fatal(err)
	}
	v, err = c.FromAvro(native)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsNull() {
		t.Fatal("sentinel should decode to null")
	}
}

func TestSignedSentinel(t *testing.T) {
	c := MustLookup(coltype.SmallInt)
	native, err := c.ToAvro(coltype.NullValue())
	if err != nil {
		t.Fatal(err)
	}
	if native.(int32) != math.MinInt16 {
		t.Fatalf("got %v", native)
	}
	v, err := c.FromAvro(native)
	if err != nil || !v.IsNull() {
		t.Fatal("expected null back")
	}
}

func TestBuffer(t *testing.T) {
	b := NewBuffer(4)
	if _, err := b.WriteString("abc"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.WriteString("de"); !errors.Is(err, ErrBufferFull) {
		t.Fatal("expected full buffer")
	}
	if b.String() != "abc" {
		t.Fatal("failed write must not change the buffer")
	}
	b.Truncate(1)
	if b.String() != "a" || b.Remaining() != 3 {
		t.Fatal("bad truncate")
	}
}

func TestTextBindRejectsOverLength(t *testing.T) {
	c := MustLookup(coltype.Binary)
	buf := NewBuffer(32)
	if err := c.Bind(buf, coltype.NewString("0123456789"), 8); !errors.Is(err, ErrOverLength) {
		t.Fatal("expected over length")
	}
	if err := c.Bind(buf, coltype.NewString("abc"), 8); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 8 {
		t.Fatalf("slot not padded: %d", buf.Len())
	}
	v, err := c.Unbind(buf.Bytes(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if v.AsString() != "abc" {
		t.Fatal("bad unbind")
	}
}

func TestLineFormatting(t *testing.T) {
	cases := []struct {
		typ  coltype.Type
		v    coltype.Value
		want string
	}{
		{coltype.TinyInt, coltype.NewInt(-3), "-3i8"},
		{coltype.UBigInt, coltype.NewUint(7), "7u64"},
		{coltype.Double, coltype.NewFloat(1.5), "1.5f64"},
		{coltype.Bool, coltype.NewBool(false), "false"},
		{coltype.Binary, coltype.NewString(`a"b`), `"a\"b"`},
		{coltype.NChar, coltype.NewString("x"), `L"x"`},
	}
	for _, c := range cases {
		got, err := MustLookup(c.typ).Line(c.v)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Fatalf("%s: got %s want %s", c.typ, got, c.want)
		}
	}
	if _, err := MustLookup(coltype.Int).Line(coltype.NullValue()); !errors.Is(err, ErrNoNull) {
		t.Fatal("schemaless has no null")
	}
}

func TestJSONTagFlattened(t *testing.T) {
	got, err := MustLookup(coltype.JSON).SQL(coltype.NewString(`{"a":{"b":1}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got == `'{"a":{"b":1}}'` {
		t.Fatal("nested object was not flattened")
	}
	if got[0] != '\'' || got[len(got)-1] != '\'' {
		t.Fatalf("not quoted: %s", got)
	}
}

func TestCheckLength(t *testing.T) {
	f := table.Field{Name: "c", Type: coltype.NChar, Length: 2}
	if err := CheckLength(f, coltype.NewString("abc")); !errors.Is(err, ErrOverLength) {
		t.Fatal("expected over length")
	}
	if err := CheckLength(f, coltype.NullValue()); err != nil {
		t.Fatal(err)
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup(coltype.Type(42)); !errors.Is(err, coltype.ErrUnknownType) {
		t.Fatal("expected unknown type")
	}
}

func TestLookupUnknownType(t *testing.T) {
	_, err := Lookup(coltype.Type(250))
	if !errors.Is(err, utils.ErrSchemaMismatch) || !errors.Is(err, coltype.ErrUnknownType) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
	if err = Mismatch(ErrOverLength); errors.Is(err, utils.ErrSchemaMismatch) {
		t.Fatal("length errors are not schema mismatches")
	}
}
