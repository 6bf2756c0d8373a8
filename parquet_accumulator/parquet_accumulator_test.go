package parquet_accumulator

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/xitongsys/parquet-go-source/local"
)

func schema() *table.Schema {
	return &table.Schema{
		DB:   "db",
		Name: "meters",
		Columns: []table.Field{
			{Name: "ts", Type: coltype.Timestamp},
			{Name: "on", Type: coltype.Bool},
			{Name: "i8", Type: coltype.TinyInt},
			{Name: "i32", Type: coltype.Int},
			{Name: "i64", Type: coltype.BigInt},
			{Name: "u8", Type: coltype.UTinyInt},
			{Name: "u32", Type: coltype.UInt},
			{Name: "u64", Type: coltype.UBigInt},
			{Name: "f", Type: coltype.Float},
			{Name: "d", Type: coltype.Double},
			{Name: "s", Type: coltype.NChar, Length: 8},
		},
	}
}

func rows() []table.Row {
	return []table.Row{
		{Table: "d0", Values: []coltype.Value{
			coltype.NewInt(1700000000000), coltype.NewBool(true), coltype.NewInt(-7), coltype.NewInt(math.MaxInt32),
			coltype.NewInt(math.MinInt64 + 1), coltype.NewUint(200), coltype.NewUint(math.MaxUint32),
			coltype.NewUint(math.MaxUint64 - 1), coltype.NewFloat(1.5), coltype.NewFloat(-2.25), coltype.NewString("héllo"),
		}},
		{Table: "d1", Values: []coltype.Value{
			coltype.NewInt(1700000000001), coltype.NullValue(), coltype.NullValue(), coltype.NullValue(),
			coltype.NullValue(), coltype.NullValue(), coltype.NullValue(), coltype.NullValue(), coltype.NullValue(),
			coltype.NullValue(), coltype.NullValue(),
		}},
	}
}

func TestGetSchemaString(t *testing.T) {
	a, err := NewParquetAccumulator(&table.Schema{Name: "t", Columns: []table.Field{
		{Name: "ts", Type: coltype.Timestamp},
		{Name: "v", Type: coltype.SmallInt},
		{Name: "big", Type: coltype.UBigInt},
	}})
	if err != nil {
		t.Fatal(err)
	}
	schemaString, err := a.GetSchemaString()
	if err != nil {
		t.Fatal(err)
	}
	if schemaString != `{"Tag":"name=parquet_go_root, repetitiontype=REQUIRED","Fields":[{"Tag":"type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, name=tbname, repetitiontype=REQUIRED"},{"Tag":"type=INT64, name=c0, repetitiontype=OPTIONAL"},{"Tag":"type=INT32, convertedtype=INT_16, name=c1, repetitiontype=OPTIONAL"},{"Tag":"type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, name=c2, repetitiontype=OPTIONAL"}]}` {
		t.Log(schemaString)
		t.Fatal("got incorrect schema string")
	}
	types := a.GetColumnTypes()
	if len(types) != 4 || types[1] != "int" || types[3] != "string" {
		t.Fatalf("bad column types %v", types)
	}
	if names := a.GetColumnNames(); names[0] != TableField || names[3] != "c2" {
		t.Fatalf("bad column names %v", names)
	}
}

func TestUnknownType(t *testing.T) {
	_, err := NewParquetAccumulator(&table.Schema{Name: "t", Columns: []table.Field{{Name: "x", Type: coltype.Type(99)}}})
	if err == nil {
		t.Fatal("expected an error for an unknown type")
	}
}

func checkRows(t *testing.T, s *table.Schema, r *Reader) {
	if r.NumRows() != 2 {
		t.Fatalf("got %d rows", r.NumRows())
	}
	raw, err := r.Next(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 2 {
		t.Fatalf("read %d rows", len(raw))
	}
	want := rows()
	for i, rr := range raw {
		if rr.Table != want[i].Table {
			t.Fatalf("row %d table %s", i, rr.Table)
		}
		vals, err := Decode(s.Columns, rr.Values)
		if err != nil {
			t.Fatal(err)
		}
		for j, v := range vals {
			if !v.Equal(want[i].Values[j]) {
				t.Fatalf("row %d column %s: got %s want %s", i, s.Columns[j].Name, v, want[i].Values[j])
			}
		}
	}
	more, err := r.Next(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(more) != 0 {
		t.Fatalf("read past the end: %d rows", len(more))
	}
}

func TestFullCycle(t *testing.T) {
	s := schema()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, s)
	if err != nil {
		t.Fatal(err)
	}
	if err = w.AppendRows(rows()); err != nil {
		t.Fatal(err)
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}
	if w.Count() != 2 {
		t.Fatalf("count %d", w.Count())
	}
	r, err := NewBytesReader(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	checkRows(t, s, r)
}

func TestLocalFile(t *testing.T) {
	s := schema()
	path := filepath.Join(t.TempDir(), "db.x.0.parquet")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWriter(f, s)
	if err != nil {
		t.Fatal(err)
	}
	if err = w.AppendRows(rows()); err != nil {
		t.Fatal(err)
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatal("Can't open file", err)
	}
	r, err := NewReader(fr)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	checkRows(t, s, r)
}

func TestBadRowLeavesFileUnchanged(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, schema())
	if err != nil {
		t.Fatal(err)
	}
	bad := rows()
	bad[1].Values = bad[1].Values[:3]
	if err = w.AppendRows(bad); err == nil {
		t.Fatal("expected an error for a short row")
	}
	if w.Count() != 0 {
		t.Fatalf("wrote %d rows", w.Count())
	}
}
