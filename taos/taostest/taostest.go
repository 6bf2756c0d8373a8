// Package taostest is an in-memory stand-in for the database. It understands the statements this module
// generates: CREATE DATABASE, DROP DATABASE, CREATE STABLE, CREATE TABLE (plain or USING) and INSERT, with or without USING.
package taostest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/codec/bind"
	"github.com/danthegoodman1/tsmover/codec/sqltext"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/taos"
)

type (
	DB struct {
		mu      sync.Mutex
		Version string
		dbs     map[string]*database
		dbOrder []string
		// Schemaless collects every schemaless payload written
		Schemaless []Payload
		// FailTables makes any write to the named tables fail
		FailTables map[string]bool
		// Opened counts connections handed out
		Opened int
		Execs  []string
	}

	Payload struct {
		DB        string
		Protocol  codec.Protocol
		Precision coltype.Precision
		Body      string
	}

	database struct {
		name      string
		precision coltype.Precision
		tables    map[string]*tbl
		order     []string
	}

	tbl struct {
		schema *table.Schema
		super  string
		tags   []coltype.Value
		rows   [][]coltype.Value
	}

	conn struct {
		db     *DB
		closed bool
	}

	stmt struct {
		c       *conn
		schema  *table.Schema
		name    string
		bound   []*bind.Column
		pending [][]coltype.Value
	}
)

var (
	ErrUnsupported = errors.New("statement not understood by the fake")
	ErrInjected    = errors.New("injected failure")
	ErrExists      = errors.New("table exists with a different definition")
	ErrClosed      = errors.New("connection closed")
)

func New() *DB {
	return &DB{Version: "3.0.4.0", dbs: map[string]*database{}, FailTables: map[string]bool{}}
}

func (d *DB) Connect(context.Context) (taos.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Opened++
	return &conn{db: d}, nil
}

func (d *DB) WriteSchemaless(_ context.Context, db string, protocol codec.Protocol, p coltype.Precision, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.dbs[db]; !ok {
		return fmt.Errorf("%w: %s", taos.ErrUnknownDB, db)
	}
	d.Schemaless = append(d.Schemaless, Payload{DB: db, Protocol: protocol, Precision: p, Body: string(payload)})
	return nil
}

// SchemalessLines counts the non-empty lines written for db.
func (d *DB) SchemalessLines(db string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.Schemaless {
		if p.DB != db {
			continue
		}
		for _, l := range strings.Split(p.Body, "\n") {
			if strings.TrimSpace(l) != "" {
				n++
			}
		}
	}
	return n
}

func (d *DB) createDatabase(name string, p coltype.Precision) {
	if _, ok := d.dbs[name]; ok {
		return
	}
	if p == "" {
		p = coltype.Millisecond
	}
	d.dbs[name] = &database{name: name, precision: p, tables: map[string]*tbl{}}
	d.dbOrder = append(d.dbOrder, name)
}

// CreateDatabase seeds a database.
func (d *DB) CreateDatabase(name string, p coltype.Precision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.createDatabase(name, p)
}

func (d *DB) database(name string) (*database, error) {
	db, ok := d.dbs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", taos.ErrUnknownDB, name)
	}
	return db, nil
}

func (db *database) add(name string, t *tbl) error {
	if old, ok := db.tables[name]; ok {
		if old.super != t.super {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		return nil
	}
	db.tables[name] = t
	db.order = append(db.order, name)
	return nil
}

func (db *database) lookup(name string) (*tbl, error) {
	t, ok := db.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", taos.ErrUnknownTable, db.name, name)
	}
	return t, nil
}

// schemaOf is the column and tag layout rows of t follow.
func (db *database) schemaOf(t *tbl) *table.Schema {
	if t.super != "" {
		return db.tables[t.super].schema
	}
	return t.schema
}

// CreateSchema seeds a super or plain table.
func (d *DB) CreateSchema(s *table.Schema) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, err := d.database(s.DB)
	if err != nil {
		return err
	}
	c := *s
	return db.add(s.Name, &tbl{schema: &c})
}

// CreateChild seeds a child table of super table stb.
func (d *DB) CreateChild(dbName, stb, name string, tags []coltype.Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createChild(dbName, stb, name, tags)
}

func (d *DB) createChild(dbName, stb, name string, tags []coltype.Value) error {
	db, err := d.database(dbName)
	if err != nil {
		return err
	}
	super, err := db.lookup(stb)
	if err != nil {
		return err
	}
	if !super.schema.IsSuper() {
		return fmt.Errorf("%w: %s", taos.ErrNotSuperTable, stb)
	}
	if len(tags) != len(super.schema.Tags) {
		return fmt.Errorf("child %s: %d tags for %d", name, len(tags), len(super.schema.Tags))
	}
	return db.add(name, &tbl{super: stb, tags: tags})
}

// Insert writes rows into a plain or child table. Rows with a timestamp already present replace the old row.
func (d *DB) Insert(dbName, name string, rows [][]coltype.Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.insert(dbName, name, rows)
}

func (d *DB) insert(dbName, name string, rows [][]coltype.Value) error {
	if d.FailTables[name] {
		return fmt.Errorf("%w: %s", ErrInjected, name)
	}
	db, err := d.database(dbName)
	if err != nil {
		return err
	}
	t, err := db.lookup(name)
	if err != nil {
		return err
	}
	if t.schema != nil && t.schema.IsSuper() {
		return fmt.Errorf("cannot insert into super table %s", name)
	}
	s := db.schemaOf(t)
	for _, r := range rows {
		if err = s.Check(table.Row{Table: name, Values: r}); err != nil {
			return err
		}
		if r[0].IsNull() {
			return fmt.Errorf("null timestamp for %s", name)
		}
		ts := r[0].Int
		i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i][0].Int >= ts })
		if i < len(t.rows) && t.rows[i][0].Int == ts {
			t.rows[i] = r
			continue
		}
		t.rows = append(t.rows, nil)
		copy(t.rows[i+1:], t.rows[i:])
		t.rows[i] = r
	}
	return nil
}

// Rows returns the stored rows of a table in timestamp order.
func (d *DB) Rows(dbName, name string) [][]coltype.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, err := d.database(dbName)
	if err != nil {
		return nil
	}
	t, err := db.lookup(name)
	if err != nil {
		return nil
	}
	return append([][]coltype.Value(nil), t.rows...)
}

// Schema returns the definition a table follows, with the database as stored.
func (d *DB) Schema(dbName, name string) (*table.Schema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, err := d.database(dbName)
	if err != nil {
		return nil, err
	}
	t, err := db.lookup(name)
	if err != nil {
		return nil, err
	}
	return db.schemaOf(t), nil
}

// Tags returns the tag values of a child table.
func (d *DB) Tags(dbName, name string) ([]coltype.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, err := d.database(dbName)
	if err != nil {
		return nil, err
	}
	t, err := db.lookup(name)
	if err != nil {
		return nil, err
	}
	return t.tags, nil
}

func (d *DB) Tables(dbName string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, err := d.database(dbName)
	if err != nil {
		return nil
	}
	return append([]string(nil), db.order...)
}

func (d *DB) Databases() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dbOrder...)
}

func (c *conn) Exec(_ context.Context, query string) (int64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	d := c.db
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Execs = append(d.Execs, query)
	return d.exec(query)
}

func (c *conn) ServerVersion(context.Context) (string, error) {
	return c.db.Version, nil
}

func (c *conn) Databases(context.Context) ([]taos.Database, error) {
	d := c.db
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]taos.Database, 0, len(d.dbOrder))
	for _, name := range d.dbOrder {
		out = append(out, taos.Database{Name: name, Precision: d.dbs[name].precision})
	}
	return out, nil
}

func (c *conn) Tables(_ context.Context, dbName string) ([]taos.TableRef, error) {
	d := c.db
	d.mu.Lock()
	defer d.mu.Unlock()
	db, err := d.database(dbName)
	if err != nil {
		return nil, err
	}
	var supers, rest []taos.TableRef
	for _, name := range db.order {
		t := db.tables[name]
		if t.schema != nil && t.schema.IsSuper() {
			supers = append(supers, taos.TableRef{Name: name, IsSuper: true})
			continue
		}
		rest = append(rest, taos.TableRef{Name: name, SuperTable: t.super})
	}
	return append(supers, rest...), nil
}

func (c *conn) Describe(_ context.Context, dbName, name string) ([]table.DescribeRow, error) {
	d := c.db
	d.mu.Lock()
	defer d.mu.Unlock()
	db, err := d.database(dbName)
	if err != nil {
		return nil, err
	}
	t, err := db.lookup(name)
	if err != nil {
		return nil, err
	}
	return db.schemaOf(t).DescribeRows(), nil
}

func (c *conn) Children(_ context.Context, s *table.Schema) ([]taos.Child, error) {
	d := c.db
	d.mu.Lock()
	defer d.mu.Unlock()
	db, err := d.database(s.DB)
	if err != nil {
		return nil, err
	}
	var out []taos.Child
	for _, name := range db.order {
		if t := db.tables[name]; t.super == s.Name {
			out = append(out, taos.Child{Name: name, Tags: t.tags})
		}
	}
	return out, nil
}

func (c *conn) Count(_ context.Context, dbName, name string, tr taos.TimeRange) (int64, error) {
	d := c.db
	d.mu.Lock()
	defer d.mu.Unlock()
	db, err := d.database(dbName)
	if err != nil {
		return 0, err
	}
	t, err := db.lookup(name)
	if err != nil {
		return 0, err
	}
	tables := []*tbl{t}
	if t.schema != nil && t.schema.IsSuper() {
		tables = nil
		for _, other := range db.tables {
			if other.super == name {
				tables = append(tables, other)
			}
		}
	}
	var n int64
	for _, t := range tables {
		for _, r := range t.rows {
			if tr.Contains(r[0].Int) {
				n++
			}
		}
	}
	return n, nil
}

func (c *conn) Select(_ context.Context, s *table.Schema, name string, tr taos.TimeRange, limit, offset int64) ([][]coltype.Value, error) {
	d := c.db
	d.mu.Lock()
	defer d.mu.Unlock()
	db, err := d.database(s.DB)
	if err != nil {
		return nil, err
	}
	t, err := db.lookup(name)
	if err != nil {
		return nil, err
	}
	var (
		out  [][]coltype.Value
		seen int64
	)
	for _, r := range t.rows {
		if !tr.Contains(r[0].Int) {
			continue
		}
		if seen >= offset && int64(len(out)) < limit {
			out = append(out, append([]coltype.Value(nil), r...))
		}
		seen++
	}
	return out, nil
}

func (c *conn) Prepare(_ context.Context, s *table.Schema) (taos.Stmt, error) {
	return &stmt{c: c, schema: s}, nil
}

func (c *conn) Close() error {
	c.closed = true
	return nil
}

func (st *stmt) SetTableName(name string) error {
	if len(st.pending) > 0 {
		return fmt.Errorf("%d rows pending for %s", len(st.pending), st.name)
	}
	st.name = name
	return nil
}

func (st *stmt) BindBatch(cols []*bind.Column) error {
	if len(cols) != len(st.schema.Columns) {
		return fmt.Errorf("%d bound columns for %d schema columns", len(cols), len(st.schema.Columns))
	}
	st.bound = cols
	return nil
}

func (st *stmt) AddBatch() error {
	if st.bound == nil {
		return taos.ErrNotBound
	}
	rows, err := bind.Decode(st.bound)
	if err != nil {
		return err
	}
	st.pending = append(st.pending, rows...)
	st.bound = nil
	return nil
}

func (st *stmt) Execute(context.Context) (int64, error) {
	if st.c.closed {
		return 0, ErrClosed
	}
	if st.name == "" {
		return 0, taos.ErrNoTable
	}
	rows := st.pending
	st.pending = nil
	if err := st.c.db.Insert(st.schema.DB, st.name, rows); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (st *stmt) Close() error {
	st.pending, st.bound = nil, nil
	return nil
}

// exec runs one statement with d.mu held.
func (d *DB) exec(query string) (int64, error) {
	q := strings.TrimSuffix(strings.TrimSpace(query), ";")
	upper := strings.ToUpper(q)
	switch {
	case strings.HasPrefix(upper, "CREATE DATABASE"):
		return 0, d.execCreateDatabase(q)
	case strings.HasPrefix(upper, "DROP DATABASE"):
		return 0, d.execDropDatabase(q)
	case strings.HasPrefix(upper, "CREATE STABLE"), strings.HasPrefix(upper, "CREATE TABLE"):
		return 0, d.execCreateTable(q)
	case strings.HasPrefix(upper, "INSERT INTO"):
		return d.execInsert(q)
	case strings.HasPrefix(upper, "USE "):
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %.40s", ErrUnsupported, q)
}

func (d *DB) execCreateDatabase(q string) error {
	rest := skipKeywords(q, "CREATE", "DATABASE", "IF", "NOT", "EXISTS")
	name, rest, err := readIdent(rest)
	if err != nil {
		return err
	}
	p := coltype.Millisecond
	if fields := strings.Fields(rest); len(fields) >= 2 && strings.EqualFold(fields[0], "PRECISION") {
		if p, err = coltype.ParsePrecision(strings.Trim(fields[1], `'"`)); err != nil {
			return err
		}
	}
	d.createDatabase(name, p)
	return nil
}

func (d *DB) execDropDatabase(q string) error {
	name, _, err := readIdent(skipKeywords(q, "DROP", "DATABASE", "IF", "EXISTS"))
	if err != nil {
		return err
	}
	if _, ok := d.dbs[name]; !ok {
		return nil
	}
	delete(d.dbs, name)
	for i, n := range d.dbOrder {
		if n == name {
			d.dbOrder = append(d.dbOrder[:i], d.dbOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (d *DB) execCreateTable(q string) error {
	rest := skipKeywords(q, "CREATE", "STABLE", "TABLE", "IF", "NOT", "EXISTS")
	dbName, name, rest, err := readQualified(rest)
	if err != nil {
		return err
	}
	db, err := d.database(dbName)
	if err != nil {
		return err
	}
	if kw, after := nextWord(rest); strings.EqualFold(kw, "USING") {
		_, stb, after, err := readQualified(after)
		if err != nil {
			return err
		}
		super, err := db.lookup(stb)
		if err != nil {
			return err
		}
		tags, err := readTags(super.schema, after)
		if err != nil {
			return err
		}
		return d.createChild(dbName, stb, name, tags)
	}
	inner, rest, err := readGroup(rest)
	if err != nil {
		return err
	}
	s := &table.Schema{DB: dbName, Name: name, Precision: db.precision}
	if s.Columns, err = parseFields(inner, false); err != nil {
		return err
	}
	if kw, after := nextWord(rest); strings.EqualFold(kw, "TAGS") {
		inner, _, err = readGroup(after)
		if err != nil {
			return err
		}
		if s.Tags, err = parseFields(inner, true); err != nil {
			return err
		}
	}
	for i := range s.Columns[1:] {
		s.Columns[i+1].Nullable = true
	}
	if err = s.Validate(); err != nil {
		return err
	}
	return db.add(name, &tbl{schema: s})
}

func (d *DB) execInsert(q string) (int64, error) {
	rest := skipKeywords(q, "INSERT", "INTO")
	dbName, name, rest, err := readQualified(rest)
	if err != nil {
		return 0, err
	}
	db, err := d.database(dbName)
	if err != nil {
		return 0, err
	}
	kw, after := nextWord(rest)
	if strings.EqualFold(kw, "USING") {
		_, stb, after2, err := readQualified(after)
		if err != nil {
			return 0, err
		}
		super, err := db.lookup(stb)
		if err != nil {
			return 0, err
		}
		kw2, after3 := nextWord(after2)
		if !strings.EqualFold(kw2, "TAGS") {
			return 0, fmt.Errorf("%w: USING without TAGS", ErrUnsupported)
		}
		inner, after4, err := readGroup(after3)
		if err != nil {
			return 0, err
		}
		tags, err := sqltext.ParseValues(super.schema.Tags, inner)
		if err != nil {
			return 0, err
		}
		if _, ok := db.tables[name]; !ok {
			if err = d.createChild(dbName, stb, name, tags); err != nil {
				return 0, err
			}
		}
		kw, after = nextWord(after4)
	}
	if !strings.EqualFold(kw, "VALUES") {
		return 0, fmt.Errorf("%w: expected VALUES", ErrUnsupported)
	}
	t, err := db.lookup(name)
	if err != nil {
		return 0, err
	}
	s := db.schemaOf(t)
	var rows [][]coltype.Value
	for rest = strings.TrimSpace(after); rest != ""; rest = strings.TrimSpace(rest) {
		var inner string
		if inner, rest, err = readGroup(rest); err != nil {
			return 0, err
		}
		vals, err := sqltext.ParseValues(s.Columns, inner)
		if err != nil {
			return 0, err
		}
		rows = append(rows, vals)
	}
	if err = d.insert(dbName, name, rows); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func readTags(s *table.Schema, rest string) ([]coltype.Value, error) {
	kw, after := nextWord(rest)
	if !strings.EqualFold(kw, "TAGS") {
		return nil, fmt.Errorf("%w: USING without TAGS", ErrUnsupported)
	}
	inner, _, err := readGroup(after)
	if err != nil {
		return nil, err
	}
	return sqltext.ParseValues(s.Tags, inner)
}

func parseFields(inner string, tags bool) ([]table.Field, error) {
	var out []table.Field
	for _, part := range splitTop(inner) {
		name, typ, err := readIdent(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		t, err := coltype.Parse(typ)
		if err != nil {
			return nil, err
		}
		f := table.Field{Name: name, Type: t, IsTag: tags, Nullable: tags}
		if i := strings.IndexByte(typ, '('); i >= 0 {
			if _, err = fmt.Sscanf(typ[i:], "(%d)", &f.Length); err != nil {
				return nil, fmt.Errorf("bad length in %q", typ)
			}
		}
		out = append(out, f.WithDefaults())
	}
	return out, nil
}

func skipKeywords(s string, words ...string) string {
	for {
		w, rest := nextWord(s)
		matched := false
		for _, k := range words {
			if strings.EqualFold(w, k) {
				matched = true
				break
			}
		}
		if !matched {
			return s
		}
		s = rest
	}
}

func nextWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " (")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

func readIdent(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", table.ErrEmptyIdentifier
	}
	if s[0] == '`' {
		var b strings.Builder
		for i := 1; i < len(s); i++ {
			if s[i] == '`' {
				if i+1 < len(s) && s[i+1] == '`' {
					b.WriteByte('`')
					i++
					continue
				}
				return b.String(), s[i+1:], nil
			}
			b.WriteByte(s[i])
		}
		return "", "", fmt.Errorf("unterminated identifier %q", s)
	}
	i := strings.IndexAny(s, " .(,")
	if i < 0 {
		return s, "", nil
	}
	return s[:i], s[i:], nil
}

func readQualified(s string) (db, name, rest string, err error) {
	first, rest, err := readIdent(s)
	if err != nil {
		return "", "", "", err
	}
	if !strings.HasPrefix(rest, ".") {
		return "", "", "", fmt.Errorf("%w: unqualified table %s", ErrUnsupported, first)
	}
	name, rest, err = readIdent(rest[1:])
	return first, name, rest, err
}

// readGroup returns the text inside the leading parenthesis group of s and what follows it.
func readGroup(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") {
		return "", "", fmt.Errorf("%w: expected '(' at %.20q", ErrUnsupported, s)
	}
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return s[1:i], s[i+1:], nil
			}
		}
	}
	return "", "", fmt.Errorf("%w: unbalanced parentheses", ErrUnsupported)
}

// splitTop splits on commas outside parentheses.
func splitTop(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}
