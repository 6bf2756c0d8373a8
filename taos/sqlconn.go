package taos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/danthegoodman1/tsmover/codec/bind"
	"github.com/danthegoodman1/tsmover/codec/sqltext"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/utils"
	_ "github.com/taosdata/driver-go/v3/taosRestful"
	"github.com/taosdata/driver-go/v3/ws/stmt"
)

const restDriverName = "taosRestful"

type (
	// SQLConnector opens sessions through the database/sql driver of the DSN's transport. WebSocket DSNs also
	// prepare inserts on the statement service.
	SQLConnector struct {
		db  *sql.DB
		dsn DSN
	}

	sqlConn struct {
		conn *sql.Conn
		dsn  DSN
		// stmtConns holds the statement sessions opened by Prepare, by database
		stmtConns map[string]*stmt.Connector
	}

	// restStmt batches bound columns and sends them as one multi-row INSERT. Used on REST DSNs, which have no
	// parameter binding.
	restStmt struct {
		conn    *sqlConn
		schema  *table.Schema
		name    string
		bound   []*bind.Column
		pending [][]coltype.Value
	}
)

func NewSQLConnector(dsn string) (*SQLConnector, error) {
	d, err := ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", utils.ErrConfig, err)
	}
	db, err := sql.Open(d.Driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: error in sql.Open: %s", utils.ErrConnectivity, err)
	}
	return &SQLConnector{db: db, dsn: d}, nil
}

func (c *SQLConnector) Connect(ctx context.Context) (Conn, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: error in db.Conn: %s", utils.ErrConnectivity, err)
	}
	if err = conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: error in PingContext: %s", utils.ErrConnectivity, err)
	}
	return &sqlConn{conn: conn, dsn: c.dsn}, nil
}

func (c *SQLConnector) Close() error {
	return c.db.Close()
}

func (c *sqlConn) Exec(ctx context.Context, query string) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("error in ExecContext: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (c *sqlConn) query(ctx context.Context, query string) ([]string, [][]any, error) {
	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("error in QueryContext: %w", err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("error in rows.Columns: %w", err)
	}
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err = rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("error in rows.Scan: %w", err)
		}
		out = append(out, vals)
	}
	if err = rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error in rows.Err: %w", err)
	}
	return cols, out, nil
}

func columnIndex(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func (c *sqlConn) ServerVersion(ctx context.Context) (string, error) {
	_, rows, err := c.query(ctx, "SELECT SERVER_VERSION()")
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", fmt.Errorf("empty server version result")
	}
	return fmt.Sprint(rows[0][0]), nil
}

func (c *sqlConn) Databases(ctx context.Context) ([]Database, error) {
	cols, rows, err := c.query(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	name, prec := columnIndex(cols, "name"), columnIndex(cols, "precision")
	if name < 0 {
		return nil, fmt.Errorf("SHOW DATABASES has no name column")
	}
	out := make([]Database, 0, len(rows))
	for _, r := range rows {
		d := Database{Name: fmt.Sprint(r[name]), Precision: coltype.Millisecond}
		if prec >= 0 {
			p, err := coltype.ParsePrecision(fmt.Sprint(r[prec]))
			if err != nil {
				return nil, fmt.Errorf("database %s: %w", d.Name, err)
			}
			d.Precision = p
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *sqlConn) Tables(ctx context.Context, db string) ([]TableRef, error) {
	lit := coltype.QuoteSQL(db)
	_, supers, err := c.query(ctx, "SELECT stable_name FROM information_schema.ins_stables WHERE db_name = "+lit)
	if err != nil {
		return nil, err
	}
	var out []TableRef
	for _, r := range supers {
		out = append(out, TableRef{Name: fmt.Sprint(r[0]), IsSuper: true})
	}
	_, tables, err := c.query(ctx, "SELECT table_name, stable_name FROM information_schema.ins_tables WHERE db_name = "+lit)
	if err != nil {
		return nil, err
	}
	for _, r := range tables {
		ref := TableRef{Name: fmt.Sprint(r[0])}
		if r[1] != nil {
			ref.SuperTable = fmt.Sprint(r[1])
		}
		out = append(out, ref)
	}
	return out, nil
}

func (c *sqlConn) Describe(ctx context.Context, db, name string) ([]table.DescribeRow, error) {
	_, rows, err := c.query(ctx, "DESCRIBE "+table.Qualified(db, name, true))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownTable, db, name)
	}
	out := make([]table.DescribeRow, len(rows))
	for i, r := range rows {
		if out[i], err = table.DescribeRowFromNative(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *sqlConn) Children(ctx context.Context, s *table.Schema) ([]Child, error) {
	if !s.IsSuper() {
		return nil, fmt.Errorf("%w: %s", ErrNotSuperTable, s.Name)
	}
	_, rows, err := c.query(ctx, ChildrenQuery(s))
	if err != nil {
		return nil, err
	}
	out := make([]Child, 0, len(rows))
	for _, r := range rows {
		tags, err := ValuesFromNative(s.Tags, r[1:], s.Precision)
		if err != nil {
			return nil, fmt.Errorf("tags of %v: %w", r[0], err)
		}
		out = append(out, Child{Name: fmt.Sprint(r[0]), Tags: tags})
	}
	return out, nil
}

func (c *sqlConn) Count(ctx context.Context, db, name string, tr TimeRange) (int64, error) {
	_, rows, err := c.query(ctx, CountQuery(db, name, "_c0", tr))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	v, err := coltype.FromNative(coltype.BigInt, rows[0][0], coltype.Millisecond)
	if err != nil {
		return 0, fmt.Errorf("error in count result: %w", err)
	}
	return v.Int, nil
}

func (c *sqlConn) Select(ctx context.Context, s *table.Schema, name string, tr TimeRange, limit, offset int64) ([][]coltype.Value, error) {
	_, rows, err := c.query(ctx, SelectQuery(s, name, tr, limit, offset))
	if err != nil {
		return nil, err
	}
	out := make([][]coltype.Value, len(rows))
	for i, r := range rows {
		if out[i], err = ValuesFromNative(s.Columns, r, s.Precision); err != nil {
			return nil, fmt.Errorf("row %d of %s: %w", offset+int64(i), name, err)
		}
	}
	return out, nil
}

func (c *sqlConn) Prepare(_ context.Context, s *table.Schema) (Stmt, error) {
	if c.dsn.WebSocket() {
		return c.prepareWS(s)
	}
	return &restStmt{conn: c, schema: s}, nil
}

func (c *sqlConn) Close() error {
	for db, sc := range c.stmtConns {
		if err := sc.Close(); err != nil {
			logger.Warn().Err(err).Str("db", db).Msg("error closing statement session")
		}
	}
	c.stmtConns = nil
	return c.conn.Close()
}

func (st *restStmt) SetTableName(name string) error {
	if len(st.pending) > 0 {
		return fmt.Errorf("%d rows pending for %s", len(st.pending), st.name)
	}
	st.name = name
	return nil
}

func (st *restStmt) BindBatch(cols []*bind.Column) error {
	if len(cols) != len(st.schema.Columns) {
		return fmt.Errorf("%d bound columns for %d schema columns", len(cols), len(st.schema.Columns))
	}
	st.bound = cols
	return nil
}

func (st *restStmt) AddBatch() error {
	if st.bound == nil {
		return ErrNotBound
	}
	rows, err := bind.Decode(st.bound)
	if err != nil {
		return err
	}
	st.pending = append(st.pending, rows...)
	st.bound = nil
	return nil
}

func (st *restStmt) Execute(ctx context.Context) (int64, error) {
	if st.name == "" {
		return 0, ErrNoTable
	}
	if len(st.pending) == 0 {
		return 0, nil
	}
	q, err := sqltext.Insert(st.schema, st.name, st.pending, true)
	st.pending = st.pending[:0]
	if err != nil {
		return 0, err
	}
	return st.conn.Exec(ctx, q)
}

func (st *restStmt) Close() error {
	st.pending = nil
	st.bound = nil
	return nil
}
