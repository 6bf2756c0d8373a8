package sml

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
)

func point() Point {
	return Point{
		Metric: "meters",
		Table:  "d1",
		Tags: []table.Field{
			{Name: "loc", Type: coltype.Binary, Length: 16, IsTag: true},
			{Name: "gid", Type: coltype.Int, IsTag: true},
		},
		TagValues: []coltype.Value{coltype.NewString("San Jose"), coltype.NewInt(3)},
		Columns: []table.Field{
			{Name: "ts", Type: coltype.Timestamp},
			{Name: "current", Type: coltype.Float},
			{Name: "voltage", Type: coltype.UInt},
			{Name: "note", Type: coltype.NChar, Length: 8},
		},
		Values: []coltype.Value{
			coltype.NewInt(1700000000000), coltype.NewFloat(float64(float32(10.5))), coltype.NewUint(220),
			coltype.NewString("ok"),
		},
		Precision: coltype.Millisecond,
	}
}

func TestLine(t *testing.T) {
	got, err := Line(point())
	if err != nil {
		t.Fatal(err)
	}
	want := `meters,loc=San\ Jose,gid=3 current=10.5f32,voltage=220u32,note=L"ok" 1700000000000`
	if got != want {
		t.Fatalf("got %s", got)
	}
}

func TestLineOmitsNulls(t *testing.T) {
	p := point()
	p.Values[2] = coltype.NullValue()
	p.TagValues[1] = coltype.NullValue()
	got, err := Line(p)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "voltage") || strings.Contains(got, "gid") || strings.Contains(got, "NULL") {
		t.Fatalf("null leaked: %s", got)
	}

	p.Values[1], p.Values[3] = coltype.NullValue(), coltype.NullValue()
	if _, err = Line(p); !errors.Is(err, ErrNoFields) {
		t.Fatal("expected no fields")
	}
}

func TestTelnet(t *testing.T) {
	got, err := Telnet(point())
	if err != nil {
		t.Fatal(err)
	}
	if got != `meters 1700000000000 10.5f32 loc=San\ Jose gid=3` {
		t.Fatalf("got %s", got)
	}
}

func TestJSON(t *testing.T) {
	b, err := JSON(point())
	if err != nil {
		t.Fatal(err)
	}
	var obj map[string]any
	if err = json.Unmarshal(b, &obj); err != nil {
		t.Fatal(err)
	}
	if obj["metric"] != "meters" {
		t.Fatal("bad metric")
	}
	ts := obj["timestamp"].(map[string]any)
	if ts["type"] != "ms" || ts["value"].(float64) != 1700000000000 {
		t.Fatalf("bad timestamp %v", ts)
	}
	val := obj["value"].(map[string]any)
	if val["type"] != "float" || val["value"].(float64) != 10.5 {
		t.Fatalf("bad value %v", val)
	}
	tags := obj["tags"].(map[string]any)
	if tags["id"] != "d1" {
		t.Fatal("missing id tag")
	}
	if tags["gid"].(map[string]any)["type"] != "int" {
		t.Fatal("bad tag type")
	}
}

func TestJSONUnsignedUnsupported(t *testing.T) {
	p := point()
	p.Columns[1] = table.Field{Name: "u", Type: coltype.UBigInt}
	p.Values[1] = coltype.NewUint(1)
	if _, err := JSON(p); !errors.Is(err, codec.ErrUnsupported) {
		t.Fatal("expected unsupported")
	}
}

func TestEncodeIntoBuffer(t *testing.T) {
	buf := codec.NewBuffer(20)
	ctx := &codec.EncodingContext{Format: codec.FormatSchemaless, Protocol: codec.ProtocolLine, Buf: buf}
	if err := Encode(ctx, point()); !errors.Is(err, codec.ErrBufferFull) {
		t.Fatal("expected full buffer")
	}
	if buf.Len() != 0 {
		t.Fatal("partial write left behind")
	}

	ctx.Buf = codec.NewBuffer(1024)
	ctx.Protocol = codec.ProtocolTelnet
	if err := Encode(ctx, point()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(ctx.Buf.String(), "\n") {
		t.Fatal("missing newline")
	}
}

func TestJSONArray(t *testing.T) {
	if got := string(JSONArray([][]byte{[]byte("{}"), []byte("{}")})); got != "[{},{}]" {
		t.Fatalf("got %s", got)
	}
}
