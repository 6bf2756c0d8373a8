package bench

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/codec/bind"
	"github.com/danthegoodman1/tsmover/codec/sml"
	"github.com/danthegoodman1/tsmover/codec/sqltext"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/config"
	"github.com/danthegoodman1/tsmover/generator"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/taos"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/danthegoodman1/tsmover/workerpool"
	"github.com/rs/zerolog"
)

type (
	// writer fills the child tables one worker owns through the configured interface.
	writer struct {
		b    *Bench
		pw   *workerpool.Worker
		conn taos.Conn
		gen  *generator.Generator

		prepared [][]coltype.Value
		stmt     taos.Stmt
		buf      *codec.Buffer
	}

	// sendFunc writes one batch of a child's rows and returns how many were accepted. first is set on the
	// child's first batch.
	sendFunc func(ctx context.Context, c Child, rows [][]coltype.Value, first bool) (int64, error)
)

func (b *Bench) newWriter(ctx context.Context, pw *workerpool.Worker) (*writer, error) {
	w := &writer{
		b:        b,
		pw:       pw,
		gen:      generator.New(b.cfg.Seed+int64(pw.ID)+1, b.cfg.Chinese),
		prepared: b.sample,
	}
	if w.prepared == nil {
		rows, err := w.gen.Prepare(b.schema, b.cfg.SuperTable.PreparedRows)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", utils.ErrConfig, err)
		}
		w.prepared = rows
	}
	if b.schemaless() {
		w.buf = codec.NewBuffer(b.batch * pointCapacity(b.schema))
		return w, nil
	}
	conn, err := b.rc.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	w.conn = conn
	if b.cfg.Interface == config.InterfaceStmt {
		if w.stmt, err = conn.Prepare(ctx, b.schema); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: error preparing insert: %s", utils.ErrConnectivity, err)
		}
	}
	return w, nil
}

func (w *writer) close() error {
	if w.stmt != nil {
		w.stmt.Close()
	}
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

func (w *writer) sender() sendFunc {
	switch w.b.cfg.Interface {
	case config.InterfaceStmt:
		return w.sendStmt
	case config.InterfaceLine, config.InterfaceTelnet, config.InterfaceJSON:
		return w.sendSchemaless
	}
	return w.sendSQL
}

// row builds row seq of a child from the prepared rows. Sampled timestamps are kept when asked for.
func (w *writer) row(seq int64) []coltype.Value {
	st := w.b.cfg.SuperTable
	src := w.prepared[seq%int64(len(w.prepared))]
	if st.UseSampleTs {
		return src
	}
	row := make([]coltype.Value, len(src))
	copy(row, src)
	ts := w.b.start + bind.RandTail(w.gen.Rand(), st.TimestampStep, int(seq), st.DisorderRatio, st.DisorderRange)
	row[0] = coltype.NewInt(ts)
	return row
}

// fill writes every row of one child table. Failed batches count their rows as failures and the child
// continues, connectivity errors stop the worker.
func (w *writer) fill(ctx context.Context, c Child) error {
	l := zerolog.Ctx(ctx).With().Str("table", c.Name).Logger()
	send := w.sender()
	if w.stmt != nil {
		if err := w.createChild(ctx, c); err != nil {
			l.Error().Err(err).Msg("error creating child table")
			w.pw.Failed(w.b.rows)
			return nil
		}
	}
	var written int64
	for done := int64(0); done < w.b.rows; {
		n := min(int64(w.b.batch), w.b.rows-done)
		rows := make([][]coltype.Value, n)
		for i := range rows {
			rows[i] = w.row(done + int64(i))
		}
		ok, err := send(ctx, c, rows, done == 0)
		if err != nil {
			if utils.IsFatal(err) {
				return err
			}
			l.Error().Err(err).Int64("rows", n).Msg("batch failed")
		}
		w.pw.Succeeded(ok)
		if short := n - ok; short > 0 {
			w.pw.Failed(short)
		}
		written += ok
		done += n
	}
	l.Debug().Int64("rows", written).Msg("child filled")
	return nil
}

func (w *writer) createChild(ctx context.Context, c Child) error {
	s := w.b.schema
	lits, err := sqltext.Literals(s.Tags, c.Tags)
	if err != nil {
		return err
	}
	stmt, err := s.CreateChildStatement(c.Name, lits, w.b.cfg.Escape)
	if err != nil {
		return err
	}
	_, err = w.conn.Exec(ctx, stmt)
	return err
}

// sendSQL renders one INSERT. The first batch of a child carries USING ... TAGS so the server creates it.
func (w *writer) sendSQL(ctx context.Context, c Child, rows [][]coltype.Value, first bool) (int64, error) {
	var (
		stmt string
		err  error
	)
	if first {
		stmt, err = sqltext.InsertUsing(w.b.schema, c.Name, c.Tags, rows, w.b.cfg.Escape)
	} else {
		stmt, err = sqltext.Insert(w.b.schema, c.Name, rows, w.b.cfg.Escape)
	}
	if err != nil {
		return 0, err
	}
	n, err := w.conn.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (w *writer) sendStmt(ctx context.Context, c Child, rows [][]coltype.Value, _ bool) (int64, error) {
	cols, err := bind.Encode(w.b.schema.Columns, rows)
	if err != nil {
		return 0, err
	}
	if err = w.stmt.SetTableName(c.Name); err != nil {
		return 0, err
	}
	if err = w.stmt.BindBatch(cols); err != nil {
		return 0, err
	}
	if err = w.stmt.AddBatch(); err != nil {
		return 0, err
	}
	return w.stmt.Execute(ctx)
}

// sendSchemaless encodes the rows as points and posts them in one payload. Rows that do not encode fail alone.
func (w *writer) sendSchemaless(ctx context.Context, c Child, rows [][]coltype.Value, _ bool) (int64, error) {
	var (
		s     = w.b.schema
		proto = w.b.protocol()
		ectx  = &codec.EncodingContext{Format: codec.FormatSchemaless, Protocol: proto, Buf: w.buf}
		objs  [][]byte
		n     int64
	)
	w.buf.Reset()
	for _, vals := range rows {
		p := sml.Point{
			Metric: s.Name, Table: c.Name,
			Tags: s.Tags, TagValues: c.Tags,
			Columns: s.Columns, Values: vals,
			Precision: s.Precision,
		}
		var err error
		if proto == codec.ProtocolJSON {
			var obj []byte
			if obj, err = sml.JSON(p); err == nil {
				objs = append(objs, obj)
			}
		} else {
			err = sml.Encode(ectx, p)
		}
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("table", c.Name).Msg("row not encoded")
			continue
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	payload := w.buf.Bytes()
	if proto == codec.ProtocolJSON {
		payload = sml.JSONArray(objs)
	}
	if err := w.b.rc.Schemaless.WriteSchemaless(ctx, w.b.cfg.Database, proto, s.Precision, payload); err != nil {
		return 0, err
	}
	return n, nil
}

// pointCapacity bounds one encoded point of s, field names and type suffixes included.
func pointCapacity(s *table.Schema) int {
	n := 2*table.RowLen(s.Columns) + 2*table.RowLen(s.Tags) + len(s.Name) + 64
	for _, f := range s.Columns {
		n += len(f.Name) + 32
	}
	for _, f := range s.Tags {
		n += len(f.Name) + 32
	}
	return n + 192
}
