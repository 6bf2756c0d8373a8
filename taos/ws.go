package taos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/codec/bind"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/taosdata/driver-go/v3/common"
	"github.com/taosdata/driver-go/v3/common/param"
	_ "github.com/taosdata/driver-go/v3/taosWS"
	"github.com/taosdata/driver-go/v3/ws/schemaless"
	"github.com/taosdata/driver-go/v3/ws/stmt"
)

const (
	wsDriverName = "taosWS"

	wsStmtPath       = "/rest/stmt"
	wsSchemalessPath = "/rest/schemaless"
	wsTimeout        = 60 * time.Second
)

var ErrNotBindable = errors.New("type cannot be bound as a column")

type (
	// wsStmt binds column batches through the WebSocket statement service.
	wsStmt struct {
		stmt   *stmt.Stmt
		schema *table.Schema
		bound  bool
	}

	// WSSchemaless writes schemaless payloads over one WebSocket session per database.
	WSSchemaless struct {
		dsn DSN

		mu       sync.Mutex
		sessions map[string]*schemaless.Schemaless
	}
)

func wsPrecision(p coltype.Precision) int {
	switch p {
	case coltype.Microsecond:
		return common.PrecisionMicroSecond
	case coltype.Nanosecond:
		return common.PrecisionNanoSecond
	}
	return common.PrecisionMilliSecond
}

// InsertTemplate is the statement a prepared insert into a table of s binds against.
func InsertTemplate(s *table.Schema) string {
	marks := strings.TrimSuffix(strings.Repeat("?,", len(s.Columns)), ",")
	return "INSERT INTO ? VALUES (" + marks + ")"
}

// BindParams converts bound columns into the driver's column-major parameters and their column types.
func BindParams(fields []table.Field, cols []*bind.Column, p coltype.Precision) ([]*param.Param, *param.ColumnType, error) {
	if len(cols) != len(fields) {
		return nil, nil, fmt.Errorf("%d bound columns for %d fields", len(cols), len(fields))
	}
	types := param.NewColumnType(len(fields))
	params := make([]*param.Param, len(fields))
	for i, f := range fields {
		col := cols[i]
		if err := addColumnType(types, f); err != nil {
			return nil, nil, err
		}
		prm := param.NewParam(col.RowCount)
		for r := 0; r < col.RowCount; r++ {
			v, err := col.Value(r)
			if err != nil {
				return nil, nil, &bind.RowError{Row: r, Column: f.Name, Err: err}
			}
			if v.IsNull() {
				prm.AddNull()
				continue
			}
			addValue(prm, f.Type, v, p)
		}
		params[i] = prm
	}
	return params, types, nil
}

func addColumnType(ct *param.ColumnType, f table.Field) error {
	switch f.Type {
	case coltype.Timestamp:
		ct.AddTimestamp()
	case coltype.Bool:
		ct.AddBool()
	case coltype.TinyInt:
		ct.AddTinyint()
	case coltype.SmallInt:
		ct.AddSmallint()
	case coltype.Int:
		ct.AddInt()
	case coltype.BigInt:
		ct.AddBigint()
	case coltype.UTinyInt:
		ct.AddUTinyint()
	case coltype.USmallInt:
		ct.AddUSmallint()
	case coltype.UInt:
		ct.AddUInt()
	case coltype.UBigInt:
		ct.AddUBigint()
	case coltype.Float:
		ct.AddFloat()
	case coltype.Double:
		ct.AddDouble()
	case coltype.Binary:
		ct.AddBinary(f.Length)
	case coltype.NChar:
		ct.AddNchar(f.Length)
	default:
		return fmt.Errorf("%w: %w: %s is %s", utils.ErrSchemaMismatch, ErrNotBindable, f.Name, f.Type)
	}
	return nil
}

func addValue(prm *param.Param, t coltype.Type, v coltype.Value, p coltype.Precision) {
	switch t {
	case coltype.Timestamp:
		prm.AddTimestamp(p.ToTime(v.Int), wsPrecision(p))
	case coltype.Bool:
		prm.AddBool(v.AsBool())
	case coltype.TinyInt:
		prm.AddTinyint(int(v.Int))
	case coltype.SmallInt:
		prm.AddSmallint(int(v.Int))
	case coltype.Int:
		prm.AddInt(int(v.Int))
	case coltype.BigInt:
		prm.AddBigint(int(v.Int))
	case coltype.UTinyInt:
		prm.AddUTinyint(uint(v.AsUint()))
	case coltype.USmallInt:
		prm.AddUSmallint(uint(v.AsUint()))
	case coltype.UInt:
		prm.AddUInt(uint(v.AsUint()))
	case coltype.UBigInt:
		prm.AddUBigint(uint(v.AsUint()))
	case coltype.Float:
		prm.AddFloat(float32(v.Float))
	case coltype.Double:
		prm.AddDouble(v.Float)
	case coltype.Binary:
		prm.AddBinary(v.Bytes)
	case coltype.NChar:
		prm.AddNchar(v.AsString())
	}
}

// stmtConnector opens the WebSocket statement session of db, one per database and connection.
func (c *sqlConn) stmtConnector(db string) (*stmt.Connector, error) {
	if sc, ok := c.stmtConns[db]; ok {
		return sc, nil
	}
	cfg := stmt.NewConfig(c.dsn.URL(wsStmtPath), 0)
	_ = cfg.SetConnectUser(c.dsn.User)
	_ = cfg.SetConnectPass(c.dsn.Password)
	_ = cfg.SetConnectDB(db)
	_ = cfg.SetMessageTimeout(wsTimeout)
	cfg.SetErrorHandler(func(_ *stmt.Connector, err error) {
		logger.Error().Err(err).Str("db", db).Msg("statement session error")
	})
	sc, err := stmt.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: error in stmt.NewConnector: %s", utils.ErrConnectivity, err)
	}
	if c.stmtConns == nil {
		c.stmtConns = map[string]*stmt.Connector{}
	}
	c.stmtConns[db] = sc
	return sc, nil
}

func (c *sqlConn) prepareWS(s *table.Schema) (Stmt, error) {
	types := param.NewColumnType(len(s.Columns))
	for _, f := range s.Columns {
		if err := addColumnType(types, f); err != nil {
			return nil, err
		}
	}
	sc, err := c.stmtConnector(s.DB)
	if err != nil {
		return nil, err
	}
	st, err := sc.Init()
	if err != nil {
		return nil, fmt.Errorf("%w: error in Init: %s", utils.ErrConnectivity, err)
	}
	if err = st.Prepare(InsertTemplate(s)); err != nil {
		st.Close()
		return nil, fmt.Errorf("error in Prepare: %w", err)
	}
	return &wsStmt{stmt: st, schema: s}, nil
}

func (st *wsStmt) SetTableName(name string) error {
	if err := st.stmt.SetTableName(table.Quote(name, true)); err != nil {
		return fmt.Errorf("error in SetTableName: %w", err)
	}
	return nil
}

func (st *wsStmt) BindBatch(cols []*bind.Column) error {
	params, types, err := BindParams(st.schema.Columns, cols, st.schema.Precision)
	if err != nil {
		return err
	}
	if err = st.stmt.BindParam(params, types); err != nil {
		return fmt.Errorf("error in BindParam: %w", err)
	}
	st.bound = true
	return nil
}

func (st *wsStmt) AddBatch() error {
	if !st.bound {
		return ErrNotBound
	}
	st.bound = false
	if err := st.stmt.AddBatch(); err != nil {
		return fmt.Errorf("error in AddBatch: %w", err)
	}
	return nil
}

func (st *wsStmt) Execute(context.Context) (int64, error) {
	if err := st.stmt.Exec(); err != nil {
		return 0, fmt.Errorf("error in Exec: %w", err)
	}
	return int64(st.stmt.GetAffectedRows()), nil
}

func (st *wsStmt) Close() error {
	return st.stmt.Close()
}

func NewWSSchemaless(d DSN) *WSSchemaless {
	return &WSSchemaless{dsn: d, sessions: map[string]*schemaless.Schemaless{}}
}

// wsProtocol maps a schemaless protocol to the driver's protocol code.
func wsProtocol(p codec.Protocol) (int, error) {
	switch p {
	case codec.ProtocolLine:
		return schemaless.InfluxDBLineProtocol, nil
	case codec.ProtocolTelnet:
		return schemaless.OpenTSDBTelnetLineProtocol, nil
	case codec.ProtocolJSON:
		return schemaless.OpenTSDBJsonFormatProtocol, nil
	}
	return 0, fmt.Errorf("unknown protocol %q", p)
}

func (s *WSSchemaless) session(db string) (*schemaless.Schemaless, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[db]; ok {
		return sess, nil
	}
	sess, err := schemaless.NewSchemaless(schemaless.NewConfig(s.dsn.URL(wsSchemalessPath), 0,
		schemaless.SetUser(s.dsn.User),
		schemaless.SetPassword(s.dsn.Password),
		schemaless.SetDb(db),
		schemaless.SetReadTimeout(wsTimeout),
		schemaless.SetWriteTimeout(wsTimeout),
		schemaless.SetErrorHandler(func(err error) {
			logger.Error().Err(err).Str("db", db).Msg("schemaless session error")
		}),
	))
	if err != nil {
		return nil, fmt.Errorf("%w: error in NewSchemaless: %s", utils.ErrConnectivity, err)
	}
	s.sessions[db] = sess
	return sess, nil
}

func (s *WSSchemaless) WriteSchemaless(ctx context.Context, db string, protocol codec.Protocol, p coltype.Precision, payload []byte) error {
	code, err := wsProtocol(protocol)
	if err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	sess, err := s.session(db)
	if err != nil {
		return err
	}
	if err = sess.Insert(string(payload), code, string(p), 0, 0); err != nil {
		return fmt.Errorf("%w: %s", ErrSchemaless, err)
	}
	return nil
}

func (s *WSSchemaless) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for db, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, db)
	}
	return nil
}
