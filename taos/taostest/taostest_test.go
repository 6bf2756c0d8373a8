package taostest

import (
	"context"
	"errors"
	"testing"

	"github.com/danthegoodman1/tsmover/codec/bind"
	"github.com/danthegoodman1/tsmover/codec/sqltext"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/taos"
)

func meters() *table.Schema {
	return &table.Schema{
		DB: "power", Name: "meters", Precision: coltype.Millisecond,
		Columns: []table.Field{
			{Name: "ts", Type: coltype.Timestamp, Length: 8},
			{Name: "current", Type: coltype.Float, Length: 4, Nullable: true},
			{Name: "note", Type: coltype.Binary, Length: 8, Nullable: true},
		},
		Tags: []table.Field{
			{Name: "loc", Type: coltype.NChar, Length: 8, IsTag: true, Nullable: true},
		},
	}
}

func TestExecRoundTrip(t *testing.T) {
	db := New()
	ctx := context.Background()
	c, _ := db.Connect(ctx)
	s := meters()
	stmts := []string{
		table.CreateDatabaseStatement("power", coltype.Microsecond, true),
		s.CreateStatement(true),
	}
	child, err := s.CreateChildStatement("d0", []string{"'sf'"}, true)
	if err != nil {
		t.Fatal(err)
	}
	stmts = append(stmts, child)
	for _, q := range stmts {
		if _, err = c.Exec(ctx, q); err != nil {
			t.Fatalf("%s: %s", q, err)
		}
	}
	rows := [][]coltype.Value{
		{coltype.NewInt(2), coltype.NewFloat(1.5), coltype.NewString("it's")},
		{coltype.NewInt(1), coltype.NullValue(), coltype.NullValue()},
	}
	q, err := sqltext.Insert(s, "d0", rows, true)
	if err != nil {
		t.Fatal(err)
	}
	if n, err := c.Exec(ctx, q); err != nil || n != 2 {
		t.Fatalf("insert: %d %v", n, err)
	}
	q, err = sqltext.InsertUsing(s, "d1", []coltype.Value{coltype.NewString("la")}, rows[:1], true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = c.Exec(ctx, q); err != nil {
		t.Fatal(err)
	}

	got := db.Rows("power", "d0")
	if len(got) != 2 || got[0][0].Int != 1 || got[1][2].AsString() != "it's" {
		t.Fatalf("got %v", got)
	}
	dbs, _ := c.Databases(ctx)
	if len(dbs) != 1 || dbs[0].Precision != coltype.Microsecond {
		t.Fatalf("got %+v", dbs)
	}
	refs, _ := c.Tables(ctx, "power")
	if len(refs) != 3 || !refs[0].IsSuper || refs[2].SuperTable != "meters" {
		t.Fatalf("got %+v", refs)
	}
	desc, err := taos.Describe(ctx, c, "power", "meters", coltype.Microsecond)
	if err != nil {
		t.Fatal(err)
	}
	if desc.CreateStatement(true) != s.CreateStatement(true) {
		t.Fatalf("got %s", desc.CreateStatement(true))
	}
	children, _ := c.Children(ctx, desc)
	if len(children) != 2 || children[1].Tags[0].AsString() != "la" {
		t.Fatalf("got %+v", children)
	}
	n, _ := c.Count(ctx, "power", "meters", taos.AllTime)
	if n != 3 {
		t.Fatalf("count %d", n)
	}
	page, _ := c.Select(ctx, desc, "d0", taos.AllTime, 1, 1)
	if len(page) != 1 || page[0][0].Int != 2 {
		t.Fatalf("got %v", page)
	}
}

func TestStmt(t *testing.T) {
	db := New()
	ctx := context.Background()
	db.CreateDatabase("power", coltype.Millisecond)
	s := meters()
	if err := db.CreateSchema(s); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateChild("power", "meters", "d0", []coltype.Value{coltype.NewString("sf")}); err != nil {
		t.Fatal(err)
	}
	c, _ := db.Connect(ctx)
	st, _ := c.Prepare(ctx, s)
	if _, err := st.Execute(ctx); !errors.Is(err, taos.ErrNoTable) {
		t.Fatal("expected no table")
	}
	if err := st.SetTableName("d0"); err != nil {
		t.Fatal(err)
	}
	cols, err := bind.Encode(s.Columns, [][]coltype.Value{
		{coltype.NewInt(10), coltype.NewFloat(2), coltype.NullValue()},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = st.BindBatch(cols); err != nil {
		t.Fatal(err)
	}
	if err = st.AddBatch(); err != nil {
		t.Fatal(err)
	}
	if n, err := st.Execute(ctx); err != nil || n != 1 {
		t.Fatalf("execute: %d %v", n, err)
	}
	if rows := db.Rows("power", "d0"); len(rows) != 1 || !rows[0][2].IsNull() {
		t.Fatalf("got %v", rows)
	}

	db.FailTables["d0"] = true
	_ = st.BindBatch(cols)
	_ = st.AddBatch()
	if _, err = st.Execute(ctx); !errors.Is(err, ErrInjected) {
		t.Fatal("expected injected failure")
	}
}

func TestUnsupported(t *testing.T) {
	c, _ := New().Connect(context.Background())
	if _, err := c.Exec(context.Background(), "ALTER TABLE x ADD COLUMN y INT"); !errors.Is(err, ErrUnsupported) {
		t.Fatal("expected unsupported")
	}
}
