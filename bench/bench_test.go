package bench

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/config"
	"github.com/danthegoodman1/tsmover/runctx"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/taos/taostest"
)

var startTs = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

func insertConfig(iface string) *config.Config {
	cfg := config.Default()
	cfg.Mode = config.ModeInsert
	cfg.Insert.Database = "bench"
	cfg.Insert.Interface = iface
	cfg.Insert.Threads = 2
	cfg.Insert.Seed = 42
	cfg.Insert.SuperTable.ChildCount = 3
	cfg.Insert.SuperTable.RowsPerTable = 5
	cfg.Insert.SuperTable.StartTimestamp = startTs.Format(time.RFC3339)
	cfg.Insert.SuperTable.BatchSize = 2
	cfg.Insert.SuperTable.PreparedRows = 4
	cfg.Insert.SuperTable.Columns = []config.FieldSpec{
		{Name: "current", Type: "FLOAT"},
		{Name: "voltage", Type: "INT"},
	}
	return cfg
}

func run(t *testing.T, db *taostest.DB, cfg *config.Config) *runctx.Report {
	t.Helper()
	rc := &runctx.RunContext{
		RunID:      "insert1",
		Config:     cfg,
		Connector:  db,
		Schemaless: db,
		Now:        time.Now,
	}
	report, err := New(rc).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return report
}

func writeLines(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.csv")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInsertSQL(t *testing.T) {
	db := taostest.New()
	report := run(t, db, insertConfig(config.InterfaceSQL))
	if report.Result.Success != 15 || report.Result.Failure != 0 {
		t.Fatalf("bad tally %+v", report.Result)
	}
	if report.Mode != config.ModeInsert {
		t.Fatalf("bad mode %s", report.Mode)
	}
	s, err := db.Schema("bench", "meters")
	if err != nil {
		t.Fatal(err)
	}
	if !s.IsSuper() || len(s.Columns) != 3 || s.Tags[0].Name != "groupid" {
		t.Fatalf("bad super table %+v", s)
	}
	start := startTs.UnixMilli()
	for _, child := range []string{"d0", "d1", "d2"} {
		rows := db.Rows("bench", child)
		if len(rows) != 5 {
			t.Fatalf("%s: got %d rows", child, len(rows))
		}
		for i, r := range rows {
			if r[0].Int != start+int64(i) {
				t.Fatalf("%s row %d: bad timestamp %d", child, i, r[0].Int)
			}
		}
		tags, err := db.Tags("bench", child)
		if err != nil {
			t.Fatal(err)
		}
		if g := tags[0].Int; g < 1 || g >= 10 {
			t.Fatalf("%s: groupid %d out of range", child, g)
		}
	}
}

func TestInsertStmtClampsBatch(t *testing.T) {
	db := taostest.New()
	cfg := insertConfig(config.InterfaceStmt)
	cfg.Insert.Threads = 1
	cfg.Insert.SuperTable.BatchSize = 10
	cfg.Insert.SuperTable.PreparedRows = 3
	cfg.Insert.SuperTable.RowsPerTable = 7
	report := run(t, db, cfg)
	if report.Result.Success != 21 || report.Result.Failure != 0 {
		t.Fatalf("bad tally %+v", report.Result)
	}
	rows := db.Rows("bench", "d0")
	if len(rows) != 7 {
		t.Fatalf("got %d rows", len(rows))
	}
	// prepared rows are reused in order
	for j := 1; j < 3; j++ {
		if !rows[3][j].Equal(rows[0][j]) || !rows[6][j].Equal(rows[0][j]) {
			t.Fatalf("column %d not cycled: %s %s %s", j, rows[0][j], rows[3][j], rows[6][j])
		}
	}
}

func TestInsertSchemaless(t *testing.T) {
	for _, iface := range []string{config.InterfaceLine, config.InterfaceTelnet, config.InterfaceJSON} {
		t.Run(iface, func(t *testing.T) {
			db := taostest.New()
			report := run(t, db, insertConfig(iface))
			if report.Result.Success != 15 || report.Result.Failure != 0 {
				t.Fatalf("bad tally %+v", report.Result)
			}
			if tables := db.Tables("bench"); len(tables) != 0 {
				t.Fatalf("schemaless insert should not create tables itself, got %v", tables)
			}
			points := 0
			for _, p := range db.Schemaless {
				if p.Protocol != codec.Protocol(iface) || p.Precision != coltype.Millisecond {
					t.Fatalf("bad payload %+v", p)
				}
				if iface != config.InterfaceJSON {
					continue
				}
				var arr []map[string]any
				if err := json.Unmarshal([]byte(p.Body), &arr); err != nil {
					t.Fatal(err)
				}
				points += len(arr)
			}
			if iface != config.InterfaceJSON {
				points = db.SchemalessLines("bench")
			}
			if points != 15 {
				t.Fatalf("got %d points", points)
			}
		})
	}
}

func TestInsertDisorder(t *testing.T) {
	db := taostest.New()
	cfg := insertConfig(config.InterfaceSQL)
	cfg.Insert.SuperTable.TimestampStep = 10
	cfg.Insert.SuperTable.DisorderRatio = 100
	cfg.Insert.SuperTable.DisorderRange = 3
	report := run(t, db, cfg)
	if report.Result.Failure != 0 {
		t.Fatalf("bad tally %+v", report.Result)
	}
	start := startTs.UnixMilli()
	rows := db.Rows("bench", "d1")
	if len(rows) != 5 {
		t.Fatalf("got %d rows", len(rows))
	}
	for _, r := range rows {
		if r[0].Int >= start {
			t.Fatalf("timestamp %d should be pushed before %d", r[0].Int, start)
		}
	}
}

func TestInsertSampleTimestamps(t *testing.T) {
	db := taostest.New()
	cfg := insertConfig(config.InterfaceSQL)
	cfg.Insert.SuperTable.ChildCount = 2
	cfg.Insert.SuperTable.SampleFile = writeLines(t, "1700000000000,1.5,220\n1700000000005,2.5,221\n\n1700000000009,3.5,222\n")
	cfg.Insert.SuperTable.UseSampleTs = true
	report := run(t, db, cfg)
	// three lines per child, rowsPerTable is ignored
	if report.Result.Success != 6 || report.Result.Failure != 0 {
		t.Fatalf("bad tally %+v", report.Result)
	}
	rows := db.Rows("bench", "d1")
	want := []int64{1700000000000, 1700000000005, 1700000000009}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows", len(rows))
	}
	for i, r := range rows {
		if r[0].Int != want[i] || r[2].Int != int64(220+i) {
			t.Fatalf("row %d: got %v", i, r)
		}
	}
}

func TestInsertTagsFile(t *testing.T) {
	db := taostest.New()
	cfg := insertConfig(config.InterfaceSQL)
	cfg.Insert.SuperTable.TagsFile = writeLines(t, "3\n7\n")
	run(t, db, cfg)
	for child, want := range map[string]int64{"d0": 3, "d1": 7, "d2": 3} {
		tags, err := db.Tags("bench", child)
		if err != nil {
			t.Fatal(err)
		}
		if tags[0].Int != want {
			t.Fatalf("%s: got groupid %d want %d", child, tags[0].Int, want)
		}
	}
}

func TestDropDatabase(t *testing.T) {
	db := taostest.New()
	db.CreateDatabase("bench", coltype.Millisecond)
	old := &table.Schema{
		DB: "bench", Name: "old", Precision: coltype.Millisecond,
		Columns: []table.Field{{Name: "ts", Type: coltype.Timestamp, Length: 8}},
	}
	if err := db.CreateSchema(old); err != nil {
		t.Fatal(err)
	}

	cfg := insertConfig(config.InterfaceSQL)
	cfg.Insert.Drop = false
	run(t, db, cfg)
	if _, err := db.Schema("bench", "old"); err != nil {
		t.Fatal("table should survive without drop")
	}

	cfg.Insert.Drop = true
	run(t, db, cfg)
	if _, err := db.Schema("bench", "old"); err == nil {
		t.Fatal("table should be gone after drop")
	}
	if n := len(db.Rows("bench", "d0")); n != 5 {
		t.Fatalf("got %d rows", n)
	}
}

func TestFailedChildIsCounted(t *testing.T) {
	db := taostest.New()
	db.FailTables["d1"] = true
	report := run(t, db, insertConfig(config.InterfaceSQL))
	if report.Result.Success != 10 || report.Result.Failure != 5 {
		t.Fatalf("bad tally %+v", report.Result)
	}
	if runctx.ExitCode(report, nil) != runctx.ExitFailures {
		t.Fatal("failed rows should give the failures exit code")
	}
}
