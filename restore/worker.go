package restore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danthegoodman1/tsmover/codec/avrofile"
	"github.com/danthegoodman1/tsmover/codec/bind"
	"github.com/danthegoodman1/tsmover/codec/sqltext"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/parquet_accumulator"
	"github.com/danthegoodman1/tsmover/part"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/taos"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/danthegoodman1/tsmover/workerpool"
	"github.com/rs/zerolog"
)

var ErrIncompatible = errors.New("dumped fields do not match the table")

type (
	// worker is the state one pool worker owns: its connection, its prepared statement and the schema of the
	// table it last wrote.
	worker struct {
		r    *Restorer
		pw   *workerpool.Worker
		conn taos.Conn

		cachedKey string
		cached    *table.Schema
		stmt      taos.Stmt
	}

	// batch collects consecutive rows of one table.
	batch struct {
		db        string
		table     string
		precision coltype.Precision
		// fields are the columns as the file describes them, nil when the file carries no types
		fields []table.Field
		rows   [][]coltype.Value
	}
)

func (w *worker) close() error {
	if w.stmt != nil {
		w.stmt.Close()
	}
	return w.conn.Close()
}

// schema describes db.name, reusing the last answer while the name does not change.
func (w *worker) schema(ctx context.Context, db, name string, p coltype.Precision) (*table.Schema, error) {
	key := db + "." + name
	if w.cached != nil && w.cachedKey == key {
		return w.cached, nil
	}
	s, err := taos.Describe(ctx, w.conn, db, name, p)
	if err != nil {
		return nil, err
	}
	w.cachedKey, w.cached = key, s
	if w.stmt != nil {
		w.stmt.Close()
		w.stmt = nil
	}
	return s, nil
}

func compatible(dumped, live []table.Field) error {
	if len(dumped) != len(live) {
		return fmt.Errorf("%w: %d fields dumped, table has %d", ErrIncompatible, len(dumped), len(live))
	}
	for i := range dumped {
		if dumped[i].Type != live[i].Type {
			return fmt.Errorf("%w: field %d is %s, table has %s", ErrIncompatible, i, dumped[i].Type, live[i].Type)
		}
	}
	return nil
}

func (w *worker) open(ctx context.Context, f part.FileName) (io.ReadCloser, error) {
	rd, err := w.r.rc.DataStore.Open(ctx, f.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", utils.ErrItem, err)
	}
	return rd, nil
}

func (w *worker) readAvro(ctx context.Context, f part.FileName, kind avrofile.Kind, each func(avrofile.Header, avrofile.Record) error) error {
	rd, err := w.open(ctx, f)
	if err != nil {
		return err
	}
	defer rd.Close()
	ar, err := avrofile.NewReader(rd, kind)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", utils.ErrItem, f, err)
	}
	h := ar.Header()
	for ar.Next() {
		rec, err := ar.Record()
		if err != nil {
			w.pw.Failed(1)
			zerolog.Ctx(ctx).Error().Err(err).Str("file", f.String()).Msg("bad record")
			continue
		}
		if err = each(h, rec); err != nil {
			return err
		}
	}
	if err = ar.Err(); err != nil {
		return fmt.Errorf("%w: %s: %s", utils.ErrItem, f, err)
	}
	return nil
}

// replayTags creates one child table per record.
func (r *Restorer) replayTags(ctx context.Context, w *worker, f part.FileName) error {
	l := zerolog.Ctx(ctx)
	return w.readAvro(ctx, f, avrofile.KindTags, func(h avrofile.Header, rec avrofile.Record) error {
		src := sourceDB(h, f)
		db, hdr := r.target(src), r.header(src)
		s, err := w.schema(ctx, db, rec.SuperTable, h.Precision)
		if err == nil {
			err = compatible(h.Fields, s.Tags)
		}
		var stmt string
		if err == nil {
			var lits []string
			if lits, err = sqltext.Literals(s.Tags, rec.Values); err == nil {
				stmt, err = s.CreateChildStatement(rec.Table, lits, hdr.Escape)
			}
		}
		if err == nil {
			_, err = w.conn.Exec(ctx, stmt)
		}
		if err != nil {
			l.Error().Err(err).Str("table", rec.Table).Str("superTable", rec.SuperTable).Msg("error creating child table")
			w.pw.Failed(1)
			return nil
		}
		w.pw.Succeeded(1)
		return nil
	})
}

// replayNtb creates the plain tables of a definition file. Rows of one table are consecutive.
func (r *Restorer) replayNtb(ctx context.Context, w *worker, f part.FileName) error {
	var (
		l     = zerolog.Ctx(ctx)
		cur   string
		rows  []table.DescribeRow
		hdr   avrofile.Header
		flush = func() {
			if cur == "" {
				return
			}
			src := sourceDB(hdr, f)
			s, err := table.FromDescribe(r.target(src), cur, rows, hdr.Precision)
			if err == nil {
				_, err = w.conn.Exec(ctx, s.CreateStatement(r.header(src).Escape))
			}
			if err != nil {
				l.Error().Err(err).Str("table", cur).Msg("error creating table")
				w.pw.Failed(1)
			} else {
				w.pw.Succeeded(1)
			}
			cur, rows = "", nil
		}
	)
	err := w.readAvro(ctx, f, avrofile.KindNtb, func(h avrofile.Header, rec avrofile.Record) error {
		hdr = h
		if rec.Table != cur {
			flush()
			cur = rec.Table
		}
		d, err := rec.DescribeRow()
		if err != nil {
			return fmt.Errorf("%w: %s", utils.ErrItem, err)
		}
		rows = append(rows, d)
		return nil
	})
	flush()
	return err
}

// replayData inserts the rows of an avro data file in batches of at most BatchSize rows of one table.
func (r *Restorer) replayData(ctx context.Context, w *worker, f part.FileName) error {
	b := &batch{}
	err := w.readAvro(ctx, f, avrofile.KindData, func(h avrofile.Header, rec avrofile.Record) error {
		db := r.target(sourceDB(h, f))
		if rec.Table != b.table || db != b.db || len(b.rows) >= r.cfg.BatchSize {
			w.flush(ctx, b)
			b.db, b.table, b.precision, b.fields = db, rec.Table, h.Precision, h.Fields
		}
		b.rows = append(b.rows, rec.Values)
		return nil
	})
	// rows read before a broken block are still written
	w.flush(ctx, b)
	return err
}

// replayParquet reads a parquet file into memory and inserts its rows like replayData. Parquet files carry no
// column types, so values are decoded against the live table.
func (r *Restorer) replayParquet(ctx context.Context, w *worker, f part.FileName) error {
	l := zerolog.Ctx(ctx)
	rd, err := w.open(ctx, f)
	if err != nil {
		return err
	}
	buf, err := io.ReadAll(rd)
	rd.Close()
	if err != nil {
		return fmt.Errorf("%w: %s: %s", utils.ErrItem, f, err)
	}
	pr, err := parquet_accumulator.NewBytesReader(buf)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", utils.ErrItem, f, err)
	}
	defer pr.Close()

	db := r.target(f.DB)
	b := &batch{db: db}
	for {
		raw, err := pr.Next(r.cfg.BatchSize)
		if err != nil {
			w.flush(ctx, b)
			return fmt.Errorf("%w: %s: %s", utils.ErrItem, f, err)
		}
		if len(raw) == 0 {
			break
		}
		for _, rr := range raw {
			if rr.Table != b.table || len(b.rows) >= r.cfg.BatchSize {
				w.flush(ctx, b)
				b.table = rr.Table
			}
			s, err := w.schema(ctx, db, rr.Table, "")
			var vals []coltype.Value
			if err == nil {
				vals, err = parquet_accumulator.Decode(s.Columns, rr.Values)
			}
			if err != nil {
				l.Error().Err(err).Str("table", rr.Table).Msg("bad parquet row")
				w.pw.Failed(1)
				continue
			}
			b.rows = append(b.rows, vals)
		}
	}
	w.flush(ctx, b)
	return nil
}

// flush writes the pending rows of b through the worker's prepared statement. Rows that do not fit the table
// fail alone, a failed execution fails the whole batch.
func (w *worker) flush(ctx context.Context, b *batch) {
	if len(b.rows) == 0 {
		return
	}
	rows := b.rows
	b.rows = nil
	l := zerolog.Ctx(ctx).With().Str("table", b.table).Logger()

	s, err := w.schema(ctx, b.db, b.table, b.precision)
	if err == nil && b.fields != nil {
		err = compatible(b.fields, s.Columns)
	}
	if err != nil {
		l.Error().Err(err).Int("rows", len(rows)).Msg("cannot insert batch")
		w.pw.Failed(int64(len(rows)))
		return
	}

	good := rows[:0]
	for _, vals := range rows {
		if err := s.Check(table.Row{Table: b.table, Values: vals}); err != nil {
			l.Error().Err(err).Msg("row rejected")
			w.pw.Failed(1)
			continue
		}
		good = append(good, vals)
	}
	if len(good) == 0 {
		return
	}
	n, err := w.execute(ctx, s, b.table, good)
	if err != nil {
		l.Error().Err(err).Int("rows", len(good)).Msg("batch failed")
		w.pw.Failed(int64(len(good)))
		return
	}
	w.pw.Succeeded(n)
	if short := int64(len(good)) - n; short > 0 {
		w.pw.Failed(short)
	}
}

func (w *worker) execute(ctx context.Context, s *table.Schema, name string, rows [][]coltype.Value) (int64, error) {
	if w.stmt == nil {
		st, err := w.conn.Prepare(ctx, s)
		if err != nil {
			return 0, fmt.Errorf("error preparing insert for %s: %w", s.Name, err)
		}
		w.stmt = st
	}
	cols, err := bind.Encode(s.Columns, rows)
	if err != nil {
		return 0, err
	}
	if err = w.stmt.SetTableName(name); err != nil {
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
