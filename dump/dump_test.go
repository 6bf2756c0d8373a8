package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/danthegoodman1/tsmover/codec/avrofile"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/config"
	"github.com/danthegoodman1/tsmover/datastore"
	"github.com/danthegoodman1/tsmover/metastore"
	"github.com/danthegoodman1/tsmover/parquet_accumulator"
	"github.com/danthegoodman1/tsmover/part"
	"github.com/danthegoodman1/tsmover/runctx"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/taos/taostest"
	"github.com/danthegoodman1/tsmover/utils"
)

const baseTs = int64(1700000000000)

func seed(t *testing.T) *taostest.DB {
	t.Helper()
	db := taostest.New()
	db.CreateDatabase("power", coltype.Millisecond)
	db.CreateDatabase("other", coltype.Microsecond)
	meters := &table.Schema{
		DB: "power", Name: "meters", Precision: coltype.Millisecond,
		Columns: []table.Field{
			{Name: "ts", Type: coltype.Timestamp, Length: 8},
			{Name: "current", Type: coltype.Float, Length: 4, Nullable: true},
			{Name: "note", Type: coltype.NChar, Length: 8, Nullable: true},
		},
		Tags: []table.Field{
			{Name: "location", Type: coltype.Binary, Length: 16, IsTag: true, Nullable: true},
			{Name: "groupid", Type: coltype.Int, Length: 4, IsTag: true, Nullable: true},
		},
	}
	if err := db.CreateSchema(meters); err != nil {
		t.Fatal(err)
	}
	for i, n := range []int{5, 3, 0} {
		name := fmt.Sprintf("d%d", i)
		if err := db.CreateChild("power", "meters", name, []coltype.Value{coltype.NewString("sf"), coltype.NewInt(int64(i))}); err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			continue
		}
		rows := make([][]coltype.Value, n)
		for j := range rows {
			rows[j] = []coltype.Value{coltype.NewInt(baseTs + int64(j)), coltype.NewFloat(float64(j) + 0.5), coltype.NewString("n")}
		}
		if err := db.Insert("power", name, rows); err != nil {
			t.Fatal(err)
		}
	}
	logs := &table.Schema{
		DB: "power", Name: "log", Precision: coltype.Millisecond,
		Columns: []table.Field{
			{Name: "ts", Type: coltype.Timestamp, Length: 8},
			{Name: "msg", Type: coltype.Binary, Length: 8, Nullable: true},
		},
	}
	if err := db.CreateSchema(logs); err != nil {
		t.Fatal(err)
	}
	err := db.Insert("power", "log", [][]coltype.Value{
		{coltype.NewInt(baseTs), coltype.NewString("boot")},
		{coltype.NewInt(baseTs + 10), coltype.NullValue()},
		{coltype.NewInt(baseTs + 20), coltype.NewString("ok")},
		{coltype.NewInt(baseTs + 30), coltype.NewString("halt")},
	})
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func dumpConfig() config.Dump {
	d := config.Default().Dump
	d.Database = "power"
	d.Threads = 2
	d.PageSize = 2
	return d
}

func newRun(t *testing.T, db *taostest.DB, d config.Dump) (*runctx.RunContext, *datastore.DiskDataStore) {
	t.Helper()
	ds, err := datastore.NewDiskDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ms, err := metastore.NewDiskMetaStore(context.Background(), ds, "run1")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Mode = config.ModeDump
	cfg.Dump = d
	return &runctx.RunContext{
		RunID:       "run1",
		ToolVersion: "test",
		Config:      cfg,
		Connector:   db,
		DataStore:   ds,
		MetaStore:   ms,
		Now:         func() time.Time { return time.UnixMilli(baseTs) },
	}, ds
}

func discover(t *testing.T, ds datastore.DataStore) map[part.Class][]part.FileName {
	t.Helper()
	names, err := ds.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	files, _ := part.Discover(names)
	return files
}

func readFile(t *testing.T, ds datastore.DataStore, name string) []byte {
	t.Helper()
	r, err := ds.Open(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func readAvro(t *testing.T, ds datastore.DataStore, f part.FileName, kind avrofile.Kind) (avrofile.Header, []avrofile.Record) {
	t.Helper()
	r, err := avrofile.NewReader(bytes.NewReader(readFile(t, ds, f.String())), kind)
	if err != nil {
		t.Fatal(err)
	}
	var recs []avrofile.Record
	for r.Next() {
		rec, err := r.Record()
		if err != nil {
			t.Fatal(err)
		}
		recs = append(recs, rec)
	}
	if err = r.Err(); err != nil {
		t.Fatal(err)
	}
	return r.Header(), recs
}

func TestDumpDatabase(t *testing.T) {
	db := seed(t)
	rc, ds := newRun(t, db, dumpConfig())
	report, err := New(rc).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// d0, d1 and log hold rows, d2 is empty
	if report.Result.Success != 3 || report.Result.Failure != 0 {
		t.Fatalf("bad tally %+v", report.Result)
	}
	if code := runctx.ExitCode(report, err); code != runctx.ExitOK {
		t.Fatalf("exit code %d", code)
	}

	files := discover(t, ds)
	if len(files[part.ClassSQL]) != 1 || len(files[part.ClassTags]) != 1 || len(files[part.ClassNtb]) != 1 {
		t.Fatalf("bad schema files %v", files)
	}
	if len(files[part.ClassData]) != 3 {
		t.Fatalf("got %d data files", len(files[part.ClassData]))
	}

	h, stmts, err := part.ReadSQLFile(bytes.NewReader(readFile(t, ds, files[part.ClassSQL][0].String())))
	if err != nil {
		t.Fatal(err)
	}
	if h.ServerVersion != db.Version || h.ToolVersion != "test" || !h.Escape || h.Loose {
		t.Fatalf("bad header %+v", h)
	}
	if len(stmts) != 2 || !strings.HasPrefix(stmts[0], "CREATE DATABASE") || !strings.HasPrefix(stmts[1], "CREATE STABLE") {
		t.Fatalf("bad statements %v", stmts)
	}

	_, tags := readAvro(t, ds, files[part.ClassTags][0], avrofile.KindTags)
	if len(tags) != 3 || tags[2].Table != "d2" || tags[2].SuperTable != "meters" || tags[2].Values[1].Int != 2 {
		t.Fatalf("bad tag records %+v", tags)
	}

	_, ntb := readAvro(t, ds, files[part.ClassNtb][0], avrofile.KindNtb)
	if len(ntb) != 2 || ntb[0].Table != "log" {
		t.Fatalf("bad ntb records %+v", ntb)
	}

	rows := map[string]int{}
	for _, f := range files[part.ClassData] {
		hdr, recs := readAvro(t, ds, f, avrofile.KindData)
		if hdr.Precision != coltype.Millisecond {
			t.Fatalf("precision %s", hdr.Precision)
		}
		for i, rec := range recs {
			rows[rec.Table]++
			if i > 0 && rec.Values[0].Int <= recs[i-1].Values[0].Int {
				t.Fatalf("%s out of order", f)
			}
		}
	}
	if rows["d0"] != 5 || rows["d1"] != 3 || rows["log"] != 4 || rows["d2"] != 0 {
		t.Fatalf("bad row counts %v", rows)
	}

	parts, err := rc.MetaStore.ListParts(context.Background(), "run1")
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 6 {
		t.Fatalf("recorded %d parts", len(parts))
	}
	for _, p := range parts {
		n, sum, err := datastore.Checksum(context.Background(), ds, p.Name)
		if err != nil {
			t.Fatal(err)
		}
		if n != p.Bytes || sum != p.Checksum {
			t.Fatalf("%s checksum does not match the file", p.Name)
		}
	}
}

func TestDumpSplitsSingleTable(t *testing.T) {
	db := seed(t)
	d := dumpConfig()
	d.Tables = []string{"log"}
	d.Threads = 3
	rc, ds := newRun(t, db, d)
	report, err := New(rc).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Result.Success != 3 || report.Result.Workers != 3 {
		t.Fatalf("bad result %+v", report.Result)
	}
	files := discover(t, ds)
	data := files[part.ClassData]
	if len(data) != 3 {
		t.Fatalf("got %d data files", len(data))
	}
	var ts []int64
	for i, f := range data {
		if f.Seq != i || f.ID != data[0].ID {
			t.Fatalf("bad split file name %s", f)
		}
		_, recs := readAvro(t, ds, f, avrofile.KindData)
		for _, rec := range recs {
			ts = append(ts, rec.Values[0].Int)
		}
	}
	if len(ts) != 4 || ts[0] != baseTs || ts[3] != baseTs+30 {
		t.Fatalf("bad rows %v", ts)
	}
	if len(files[part.ClassTags]) != 0 {
		t.Fatal("tags written for a plain table scope")
	}
}

func TestDumpNamedChild(t *testing.T) {
	db := seed(t)
	d := dumpConfig()
	d.Tables = []string{"d1"}
	d.Threads = 1
	rc, ds := newRun(t, db, d)
	if _, err := New(rc).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	files := discover(t, ds)
	_, tags := readAvro(t, ds, files[part.ClassTags][0], avrofile.KindTags)
	if len(tags) != 1 || tags[0].Table != "d1" {
		t.Fatalf("bad tags %+v", tags)
	}
	if len(files[part.ClassData]) != 1 {
		t.Fatalf("got %d data files", len(files[part.ClassData]))
	}
}

func TestDumpTimeRange(t *testing.T) {
	db := seed(t)
	d := dumpConfig()
	d.Tables = []string{"log"}
	d.Threads = 1
	d.Start = time.UnixMilli(baseTs + 10)
	d.End = time.UnixMilli(baseTs + 20)
	rc, ds := newRun(t, db, d)
	if _, err := New(rc).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, recs := readAvro(t, ds, discover(t, ds)[part.ClassData][0], avrofile.KindData)
	if len(recs) != 2 || !recs[0].Values[1].IsNull() || recs[1].Values[1].AsString() != "ok" {
		t.Fatalf("bad rows %+v", recs)
	}
}

func TestDumpParquet(t *testing.T) {
	db := seed(t)
	d := dumpConfig()
	d.Format = config.FormatParquet
	rc, ds := newRun(t, db, d)
	if _, err := New(rc).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	files := discover(t, ds)
	if len(files[part.ClassData]) != 0 || len(files[part.ClassParquet]) != 3 {
		t.Fatalf("bad files %v", files)
	}
	total := int64(0)
	for _, f := range files[part.ClassParquet] {
		r, err := parquet_accumulator.NewBytesReader(readFile(t, ds, f.String()))
		if err != nil {
			t.Fatal(err)
		}
		total += r.NumRows()
		r.Close()
	}
	if total != 12 {
		t.Fatalf("got %d rows", total)
	}
}

func TestSchemaOnlyIsDeterministic(t *testing.T) {
	db := seed(t)
	d := dumpConfig()
	d.SchemaOnly = true
	d.HumanNames = true
	var sql []string
	for i := 0; i < 2; i++ {
		rc, ds := newRun(t, db, d)
		report, err := New(rc).Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if report.Result.Success != 0 || report.Result.Failure != 0 {
			t.Fatalf("bad tally %+v", report.Result)
		}
		files := discover(t, ds)
		if len(files[part.ClassData]) != 0 {
			t.Fatal("schema only run wrote data")
		}
		sql = append(sql, string(readFile(t, ds, "power.schema.0.sql")))
	}
	if sql[0] != sql[1] {
		t.Fatalf("schema files differ:\n%s\n%s", sql[0], sql[1])
	}
}

func TestUnknownScope(t *testing.T) {
	db := seed(t)
	d := dumpConfig()
	d.Database = "nope"
	rc, _ := newRun(t, db, d)
	report, err := New(rc).Run(context.Background())
	if !errors.Is(err, utils.ErrConfig) || !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("expected a config error, got %v", err)
	}
	if runctx.ExitCode(report, err) != runctx.ExitAborted {
		t.Fatal("unknown scope should abort")
	}

	d = dumpConfig()
	d.Tables = []string{"missing"}
	rc, _ = newRun(t, db, d)
	if _, err = New(rc).Run(context.Background()); !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("expected unknown table, got %v", err)
	}
}

func TestAllDatabases(t *testing.T) {
	db := seed(t)
	d := config.Default().Dump
	d.AllDatabases = true
	d.Threads = 2
	rc, ds := newRun(t, db, d)
	if _, err := New(rc).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	dbs := map[string]bool{}
	for _, f := range discover(t, ds)[part.ClassSQL] {
		dbs[f.DB] = true
	}
	if len(dbs) != 2 || !dbs["power"] || !dbs["other"] {
		t.Fatalf("bad databases %v", dbs)
	}
}
