package taos

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/codec/bind"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/gologger"
	"github.com/danthegoodman1/tsmover/table"
)

var logger = gologger.NewLogger()

type (
	Database struct {
		Name      string
		Precision coltype.Precision
	}

	// TableRef names a table of a database. SuperTable is empty for plain tables and for super tables themselves.
	TableRef struct {
		Name       string
		SuperTable string
		IsSuper    bool
	}

	// Child is one child table of a super table with its tag values in tag order.
	Child struct {
		Name string
		Tags []coltype.Value
	}

	// TimeRange bounds the primary timestamp, both ends inclusive.
	TimeRange struct {
		Start int64
		End   int64
	}

	// Conn is one database session. It is owned by a single worker and not safe for concurrent use.
	Conn interface {
		Exec(ctx context.Context, query string) (int64, error)
		ServerVersion(ctx context.Context) (string, error)
		Databases(ctx context.Context) ([]Database, error)
		Tables(ctx context.Context, db string) ([]TableRef, error)
		Describe(ctx context.Context, db, name string) ([]table.DescribeRow, error)
		Children(ctx context.Context, s *table.Schema) ([]Child, error)
		Count(ctx context.Context, db, name string, tr TimeRange) (int64, error)
		// Select reads at most limit rows of the columns of s from table name, ordered by timestamp.
		Select(ctx context.Context, s *table.Schema, name string, tr TimeRange, limit, offset int64) ([][]coltype.Value, error)
		Prepare(ctx context.Context, s *table.Schema) (Stmt, error)
		Close() error
	}

	// Stmt inserts column batches into the tables of one schema.
	Stmt interface {
		SetTableName(name string) error
		BindBatch(cols []*bind.Column) error
		AddBatch() error
		Execute(ctx context.Context) (int64, error)
		Close() error
	}

	Connector interface {
		Connect(ctx context.Context) (Conn, error)
	}

	SchemalessWriter interface {
		WriteSchemaless(ctx context.Context, db string, protocol codec.Protocol, p coltype.Precision, payload []byte) error
	}

	SchemalessClient interface {
		SchemalessWriter
		Close() error
	}
)

var (
	AllTime = TimeRange{Start: math.MinInt64, End: math.MaxInt64}

	ErrNoTable       = errors.New("table not set on statement")
	ErrNotBound      = errors.New("no batch bound")
	ErrUnknownDB     = errors.New("unknown database")
	ErrUnknownTable  = errors.New("unknown table")
	ErrBadDSN        = errors.New("malformed dsn")
	ErrSchemaless    = errors.New("schemaless write rejected")
	ErrNotSuperTable = errors.New("not a super table")

	systemDatabases = []string{"information_schema", "performance_schema", "log"}
)

// IsSystemDatabase reports whether db belongs to the server rather than to users.
func IsSystemDatabase(db string) bool {
	for _, s := range systemDatabases {
		if strings.EqualFold(s, db) {
			return true
		}
	}
	return false
}

func (tr TimeRange) Bounded() bool {
	return tr.Start != math.MinInt64 || tr.End != math.MaxInt64
}

func (tr TimeRange) Contains(ts int64) bool {
	return ts >= tr.Start && ts <= tr.End
}

// Where renders the timestamp filter for column ts, or an empty string when unbounded.
func (tr TimeRange) Where(ts string) string {
	var conds []string
	if tr.Start != math.MinInt64 {
		conds = append(conds, ts+" >= "+strconv.FormatInt(tr.Start, 10))
	}
	if tr.End != math.MaxInt64 {
		conds = append(conds, ts+" <= "+strconv.FormatInt(tr.End, 10))
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// Describe loads the schema of db.name.
func Describe(ctx context.Context, c Conn, db, name string, p coltype.Precision) (*table.Schema, error) {
	rows, err := c.Describe(ctx, db, name)
	if err != nil {
		return nil, fmt.Errorf("error in Describe for %s.%s: %w", db, name, err)
	}
	return table.FromDescribe(db, name, rows, p)
}

// SelectQuery is the paged read used for dumping one table.
func SelectQuery(s *table.Schema, name string, tr TimeRange, limit, offset int64) string {
	cols := make([]string, len(s.Columns))
	for i, f := range s.Columns {
		cols[i] = table.Quote(f.Name, true)
	}
	ts := table.Quote(s.Columns[0].Name, true)
	return "SELECT " + strings.Join(cols, ",") + " FROM " + table.Qualified(s.DB, name, true) + tr.Where(ts) +
		" ORDER BY " + ts + " LIMIT " + strconv.FormatInt(limit, 10) + " OFFSET " + strconv.FormatInt(offset, 10)
}

func CountQuery(db, name, ts string, tr TimeRange) string {
	return "SELECT COUNT(*) FROM " + table.Qualified(db, name, true) + tr.Where(ts)
}

// ChildrenQuery reads the tag values of every child table of super table s.
func ChildrenQuery(s *table.Schema) string {
	cols := []string{"TBNAME"}
	for _, f := range s.Tags {
		cols = append(cols, table.Quote(f.Name, true))
	}
	return "SELECT TAGS " + strings.Join(cols, ",") + " FROM " + table.Qualified(s.DB, s.Name, true)
}

// ValuesFromNative converts one driver result row into values for fields.
func ValuesFromNative(fields []table.Field, row []any, p coltype.Precision) ([]coltype.Value, error) {
	if len(row) != len(fields) {
		return nil, fmt.Errorf("result has %d columns, expected %d", len(row), len(fields))
	}
	out := make([]coltype.Value, len(fields))
	for i, f := range fields {
		v, err := coltype.FromNative(f.Type, row[i], p)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		out[i] = v
	}
	return out, nil
}
