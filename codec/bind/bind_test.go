package bind

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
)

func allTypes() []table.Field {
	return []table.Field{
		{Name: "ts", Type: coltype.Timestamp},
		{Name: "b", Type: coltype.Bool},
		{Name: "i8", Type: coltype.TinyInt},
		{Name: "i16", Type: coltype.SmallInt},
		{Name: "i32", Type: coltype.Int},
		{Name: "i64", Type: coltype.BigInt},
		{Name: "u8", Type: coltype.UTinyInt},
		{Name: "u16", Type: coltype.USmallInt},
		{Name: "u32", Type: coltype.UInt},
		{Name: "u64", Type: coltype.UBigInt},
		{Name: "f", Type: coltype.Float},
		{Name: "d", Type: coltype.Double},
		{Name: "bin", Type: coltype.Binary, Length: 16},
		{Name: "nc", Type: coltype.NChar, Length: 12},
	}
}

func TestRoundTrip(t *testing.T) {
	fields := allTypes()
	rows := [][]coltype.Value{
		{
			coltype.NewInt(1700000000000), coltype.NewBool(true), coltype.NewInt(math.MinInt8 + 1),
			coltype.NewInt(math.MaxInt16), coltype.NewInt(-5), coltype.NewInt(math.MaxInt64),
			coltype.NewUint(math.MaxUint8 - 1), coltype.NewUint(0), coltype.NewUint(math.MaxUint32 - 1),
			coltype.NewUint(math.MaxUint64 - 1), coltype.NewFloat(float64(float32(2.5))), coltype.NewFloat(-0.125),
			coltype.NewString("abc\x00def"), coltype.NewString("数据库"),
		},
		{
			coltype.NewInt(1700000000001), coltype.NullValue(), coltype.NullValue(), coltype.NullValue(),
			coltype.NullValue(), coltype.NullValue(), coltype.NullValue(), coltype.NullValue(), coltype.NullValue(),
			coltype.NullValue(), coltype.NullValue(), coltype.NullValue(), coltype.NullValue(), coltype.NullValue(),
		},
	}
	cols, err := Encode(fields, rows)
	if err != nil {
		t.Fatal(err)
	}
	if cols[0].Type != coltype.Timestamp {
		t.Fatal("first column must be the timestamp")
	}
	for i, c := range cols {
		if len(c.Buffer) != c.ElementWidth*2 || c.RowCount != 2 {
			t.Fatalf("column %d has buffer %d width %d", i, len(c.Buffer), c.ElementWidth)
		}
	}
	back, err := Decode(cols)
	if err != nil {
		t.Fatal(err)
	}
	for r := range rows {
		for i := range fields {
			if !back[r][i].Equal(rows[r][i]) {
				t.Fatalf("row %d %s: got %s want %s", r, fields[i].Name, back[r][i], rows[r][i])
			}
		}
	}
}

func TestNullTextSetsFlag(t *testing.T) {
	fields := []table.Field{{Name: "ts", Type: coltype.Timestamp}, {Name: "s", Type: coltype.Binary, Length: 16}}
	cols, err := Encode(fields, [][]coltype.Value{{coltype.NewInt(1), coltype.NullValue()}})
	if err != nil {
		t.Fatal(err)
	}
	c := cols[1]
	if !c.IsNull[0] {
		t.Fatal("null flag not set")
	}
	// the value buffer is never read for a null row
	c.Buffer = nil
	v, err := c.Value(0)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsNull() {
		t.Fatal("expected null")
	}
}

func TestOverLength(t *testing.T) {
	fields := []table.Field{{Name: "ts", Type: coltype.Timestamp}, {Name: "s", Type: coltype.NChar, Length: 2}}
	_, err := Encode(fields, [][]coltype.Value{{coltype.NewInt(1), coltype.NewString("abc")}})
	if !errors.Is(err, codec.ErrOverLength) {
		t.Fatal("expected over length")
	}
	var re *RowError
	if !errors.As(err, &re) || re.Column != "s" || re.Row != 0 {
		t.Fatalf("bad row error %v", err)
	}
}

func TestDisorder(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	const step = 1000
	for k := 0; k < 1000; k++ {
		tail := RandTail(r, step, k, 100, 5)
		if tail >= 0 {
			t.Fatalf("offset %d should be negative", tail)
		}
		extra := -tail - step*int64(k)
		if extra < 1 || extra > 5 {
			t.Fatalf("offset %d for seq %d out of range", tail, k)
		}
	}

	ts := Timestamps(r, 100, 10, 3, 0, 0)
	if ts[0].Int != 100 || ts[2].Int != 120 {
		t.Fatal("ordered timestamps expected without disorder")
	}
}

func TestClampBatch(t *testing.T) {
	if n, clamped := ClampBatch(100, 10); n != 10 || !clamped {
		t.Fatal("expected clamp")
	}
	if n, clamped := ClampBatch(5, 10); n != 5 || clamped {
		t.Fatal("unexpected clamp")
	}
}
