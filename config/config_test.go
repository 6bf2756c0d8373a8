package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/utils"
)

const insertYAML = `
mode: insert
insert:
  database: bench
  precision: us
  interface: stmt
  threads: 4
  superTable:
    name: meters
    childCount: 37
    rowsPerTable: 100
    startTimestamp: "2024-01-01T00:00:00Z"
    disorderRatio: 10
    disorderRange: 5
    columns:
      - {name: current, type: float, min: 0, max: 20}
      - {type: int, count: 3}
      - {name: note, type: nchar, len: 8, values: [a, b]}
    tags:
      - {name: location, type: binary, len: 24}
      - {name: groupid, type: int}
`

func TestParseInsert(t *testing.T) {
	cfg, err := Parse([]byte(insertYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Insert.Threads != 4 || cfg.Insert.SuperTable.ChildCount != 37 {
		t.Fatalf("bad insert section %+v", cfg.Insert)
	}
	// defaults survive keys the document leaves out
	if cfg.Dump.PageSize != 16384 || !cfg.Insert.Escape {
		t.Fatal("defaults were lost")
	}
	s, err := cfg.Insert.Schema()
	if err != nil {
		t.Fatal(err)
	}
	if s.Precision != coltype.Microsecond {
		t.Fatalf("precision %s", s.Precision)
	}
	names := s.ColumnNames()
	want := []string{"ts", "current", "c1", "c2", "c3", "note"}
	if len(names) != len(want) {
		t.Fatalf("columns %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("columns %v, want %v", names, want)
		}
	}
	if s.Columns[1].Max != 20 || s.Columns[5].Length != 8 || len(s.Columns[5].Values) != 2 {
		t.Fatalf("bad field specs %+v", s.Columns)
	}
	if len(s.Tags) != 2 || !s.Tags[0].IsTag {
		t.Fatalf("bad tags %+v", s.Tags)
	}
	start, err := cfg.Insert.StartTime(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if start.Year() != 2024 {
		t.Fatalf("start %s", start)
	}
}

func TestScopeExclusive(t *testing.T) {
	_, err := Parse([]byte("mode: dump\ndump:\n  allDatabases: true\n  database: db1\n"))
	if !errors.Is(err, utils.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	_, err = Parse([]byte("mode: dump\ndump:\n  threads: 2\n"))
	if !errors.Is(err, utils.ErrConfig) {
		t.Fatalf("expected config error for missing scope, got %v", err)
	}
	cfg, err := Parse([]byte("mode: dump\ndump:\n  databases: \"a, b,,c\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if l := cfg.Dump.DatabaseList(); len(l) != 3 || l[1] != "b" {
		t.Fatalf("database list %v", l)
	}
}

func TestTimeRange(t *testing.T) {
	_, err := Parse([]byte(`
mode: dump
dump:
  database: db
  startTime: "2024-02-01T00:00:00Z"
  endTime: "2024-01-01T00:00:00Z"
`))
	if !errors.Is(err, utils.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	cfg, err := Parse([]byte(`
mode: dump
dump:
  database: db
  tables: [meters]
  startTime: "2024-01-01T00:00:00Z"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dump.Start.IsZero() || !cfg.Dump.End.IsZero() {
		t.Fatal("time range not parsed")
	}
}

func TestThreadsAndDisorder(t *testing.T) {
	for _, doc := range []string{
		"mode: dump\ndump:\n  database: db\n  threads: 0\n",
		"mode: restore\nrestore:\n  threads: -1\n",
		"mode: insert\ninsert:\n  superTable:\n    disorderRatio: 10\n    columns: [{type: int}]\n",
		"mode: insert\ninsert:\n  superTable:\n    disorderRatio: 101\n    disorderRange: 1\n    columns: [{type: int}]\n",
		"mode: insert\ninsert:\n  superTable:\n    useSampleTs: true\n    columns: [{type: int}]\n",
		"mode: insert\ninsert:\n  superTable:\n    columns: [{type: decimal}]\n",
		"mode: copy\n",
	} {
		if _, err := Parse([]byte(doc)); !errors.Is(err, utils.ErrConfig) {
			t.Fatalf("expected config error for %q, got %v", doc, err)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mover.yaml")
	if err := os.WriteFile(path, []byte("mode: restore\nstorage:\n  path: /tmp/x\nrestore:\n  renameDatabases: {old: new}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Restore.RenameDatabases["old"] != "new" || cfg.Storage.Path != "/tmp/x" {
		t.Fatalf("bad restore config %+v", cfg.Restore)
	}
	if _, err = Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, utils.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestS3NeedsBucket(t *testing.T) {
	t.Setenv("S3_BUCKET_NAME", "")
	_, err := Parse([]byte("mode: restore\nstorage:\n  kind: s3\n  bucket: \"\"\n"))
	if !errors.Is(err, utils.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
