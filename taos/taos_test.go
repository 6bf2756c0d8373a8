package taos

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/codec/bind"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/taosdata/driver-go/v3/common"
	taosTypes "github.com/taosdata/driver-go/v3/types"
)

func schema() *table.Schema {
	return &table.Schema{
		DB: "db", Name: "meters", Precision: coltype.Millisecond,
		Columns: []table.Field{{Name: "ts", Type: coltype.Timestamp}, {Name: "current", Type: coltype.Float}},
		Tags:    []table.Field{{Name: "loc", Type: coltype.Binary, Length: 8, IsTag: true}},
	}
}

func TestQueries(t *testing.T) {
	s := schema()
	got := SelectQuery(s, "d0", TimeRange{Start: 10, End: AllTime.End}, 100, 200)
	want := "SELECT `ts`,`current` FROM `db`.`d0` WHERE `ts` >= 10 ORDER BY `ts` LIMIT 100 OFFSET 200"
	if got != want {
		t.Fatalf("got %s", got)
	}
	if got = CountQuery("db", "d0", "_c0", AllTime); got != "SELECT COUNT(*) FROM `db`.`d0`" {
		t.Fatalf("got %s", got)
	}
	if got = ChildrenQuery(s); got != "SELECT TAGS TBNAME,`loc` FROM `db`.`meters`" {
		t.Fatalf("got %s", got)
	}
}

func TestTimeRange(t *testing.T) {
	tr := TimeRange{Start: 5, End: 9}
	if !tr.Bounded() || !tr.Contains(5) || !tr.Contains(9) || tr.Contains(10) {
		t.Fatal("bad bounds")
	}
	if AllTime.Bounded() || AllTime.Where("ts") != "" {
		t.Fatal("all time is unbounded")
	}
}

func TestParseDSN(t *testing.T) {
	d, err := ParseDSN("root:taosdata@http(localhost:6041)/power")
	if err != nil {
		t.Fatal(err)
	}
	if d.User != "root" || d.Password != "taosdata" || d.Addr != "localhost:6041" || d.DB != "power" {
		t.Fatalf("got %+v", d)
	}
	if d.WebSocket() || d.Driver() != restDriverName {
		t.Fatal("http dsn should use the REST driver")
	}
	ws, err := ParseDSN("root:taosdata@ws(localhost:6041)/")
	if err != nil {
		t.Fatal(err)
	}
	if !ws.WebSocket() || ws.Driver() != wsDriverName || ws.URL(wsStmtPath) != "ws://localhost:6041/rest/stmt" {
		t.Fatalf("got %+v", ws)
	}
	if _, err = ParseDSN("localhost:6041"); !errors.Is(err, ErrBadDSN) {
		t.Fatal("expected bad dsn")
	}
}

func TestValuesFromNative(t *testing.T) {
	s := schema()
	vals, err := ValuesFromNative(s.Columns, []any{int64(1700000000000), float32(1.5)}, s.Precision)
	if err != nil {
		t.Fatal(err)
	}
	if vals[0].Int != 1700000000000 || vals[1].Float != 1.5 {
		t.Fatalf("got %v", vals)
	}
	if _, err = ValuesFromNative(s.Columns, []any{nil}, s.Precision); err == nil {
		t.Fatal("expected column count error")
	}
}

func TestSystemDatabase(t *testing.T) {
	if !IsSystemDatabase("INFORMATION_SCHEMA") || IsSystemDatabase("power") {
		t.Fatal("bad system database check")
	}
}

func TestRESTSchemaless(t *testing.T) {
	var (
		gotPath, gotBody, gotUser string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		gotUser, _, _ = r.BasicAuth()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if r.URL.Query().Get("db") == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("invalid line"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := NewRESTSchemaless("root:taosdata@http(" + srv.Listener.Addr().String() + ")/")
	if err != nil {
		t.Fatal(err)
	}
	err = s.WriteSchemaless(context.Background(), "db", codec.ProtocolLine, coltype.Microsecond, []byte("m v=1i32 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/influxdb/v1/write?db=db&precision=u" || gotBody != "m v=1i32 1\n" || gotUser != "root" {
		t.Fatalf("got %s %q %s", gotPath, gotBody, gotUser)
	}
	if err = s.WriteSchemaless(context.Background(), "db", codec.ProtocolTelnet, coltype.Millisecond, nil); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/opentsdb/v1/put/telnet/db" {
		t.Fatalf("got %s", gotPath)
	}
	err = s.WriteSchemaless(context.Background(), "bad", codec.ProtocolLine, coltype.Millisecond, nil)
	if !errors.Is(err, ErrSchemaless) {
		t.Fatal("expected rejection")
	}
}

func TestBindParams(t *testing.T) {
	fields := []table.Field{
		{Name: "ts", Type: coltype.Timestamp},
		{Name: "u", Type: coltype.UBigInt, Nullable: true},
		{Name: "s", Type: coltype.NChar, Length: 8, Nullable: true},
	}
	rows := [][]coltype.Value{
		{coltype.NewInt(1700000000000), coltype.NewUint(math.MaxUint64), coltype.NewString("中文")},
		{coltype.NewInt(1700000000001), coltype.NullValue(), coltype.NullValue()},
	}
	cols, err := bind.Encode(fields, rows)
	if err != nil {
		t.Fatal(err)
	}
	params, types, err := BindParams(fields, cols, coltype.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if ct, err := types.GetValue(); err != nil || len(ct) != 3 {
		t.Fatalf("bad column types %v %v", ct, err)
	}
	ts, ok := params[0].GetValues()[1].(taosTypes.TaosTimestamp)
	if !ok || ts.T.UnixMilli() != 1700000000001 || ts.Precision != common.PrecisionMilliSecond {
		t.Fatalf("bad timestamp %v", params[0].GetValues()[1])
	}
	if u := params[1].GetValues()[0]; u != taosTypes.TaosUBigint(math.MaxUint64) {
		t.Fatalf("bad unsigned %v", u)
	}
	if params[1].GetValues()[1] != nil || params[2].GetValues()[1] != nil {
		t.Fatal("nulls should bind as nil")
	}
	if s := params[2].GetValues()[0]; s != taosTypes.TaosNchar("中文") {
		t.Fatalf("bad text %v", s)
	}

	jsonCol := []table.Field{{Name: "j", Type: coltype.JSON}}
	if _, _, err = BindParams(jsonCol, []*bind.Column{{Type: coltype.JSON}}, coltype.Millisecond); !errors.Is(err, ErrNotBindable) {
		t.Fatal("json columns cannot be bound")
	}
}

func TestInsertTemplate(t *testing.T) {
	if got := InsertTemplate(schema()); got != "INSERT INTO ? VALUES (?,?)" {
		t.Fatalf("got %s", got)
	}
}

func TestNewSchemaless(t *testing.T) {
	s, err := NewSchemaless("root:taosdata@ws(localhost:6041)/")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*WSSchemaless); !ok {
		t.Fatalf("got %T", s)
	}
	s.Close()
	if s, err = NewSchemaless("root:taosdata@http(localhost:6041)/"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*RESTSchemaless); !ok {
		t.Fatalf("got %T", s)
	}
	if _, err = wsProtocol("xml"); err == nil {
		t.Fatal("expected unknown protocol")
	}
}
