package dump

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/danthegoodman1/tsmover/codec/avrofile"
	"github.com/danthegoodman1/tsmover/datastore"
	"github.com/danthegoodman1/tsmover/parquet_accumulator"
	"github.com/danthegoodman1/tsmover/part"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/taos"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/danthegoodman1/tsmover/workerpool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	schemaFileID = "schema"
	ntbFileID    = "tables"
)

type (
	// outFile is a file being written. It is committed with a manifest record or aborted, never left half written.
	outFile struct {
		name   part.FileName
		table  string
		sw     *datastore.SummingWriter
		rows   int64
		finish func() error
	}

	rowWriter interface {
		AppendRows(rows []table.Row) error
	}
)

func (d *Dumper) create(ctx context.Context, name part.FileName, tbl string) (*outFile, error) {
	w, err := d.rc.DataStore.Create(ctx, name.String())
	if err != nil {
		return nil, fmt.Errorf("%w: error creating %s: %s", utils.ErrItem, name, err)
	}
	return &outFile{name: name, table: tbl, sw: datastore.NewSummingWriter(w)}, nil
}

func (f *outFile) abort(ctx context.Context, cause error) error {
	if err := f.sw.Abort(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("file", f.name.String()).Msg("error aborting file")
	}
	return fmt.Errorf("%w: error writing %s: %s", utils.ErrItem, f.name, cause)
}

func (d *Dumper) commit(ctx context.Context, f *outFile) error {
	if f.finish != nil {
		if err := f.finish(); err != nil {
			return f.abort(ctx, err)
		}
	}
	if err := f.sw.Close(); err != nil {
		return fmt.Errorf("%w: error closing %s: %s", utils.ErrItem, f.name, err)
	}
	p := part.Part{
		ID:        uuid.NewString(),
		RunID:     d.rc.RunID,
		Name:      f.name.String(),
		Class:     f.name.Class,
		DB:        f.name.DB,
		Table:     f.table,
		RowCount:  f.rows,
		Bytes:     f.sw.Bytes(),
		Checksum:  f.sw.Sum64(),
		CreatedAt: d.rc.Now(),
	}
	if err := d.rc.MetaStore.RecordPart(ctx, p); err != nil {
		return fmt.Errorf("%w: error recording %s: %s", utils.ErrItem, f.name, err)
	}
	zerolog.Ctx(ctx).Debug().Str("file", p.Name).Int64("rows", p.RowCount).Int64("bytes", p.Bytes).Msg("file written")
	return nil
}

// writeFile writes a whole file with fill, which returns the number of records it wrote.
func (d *Dumper) writeFile(ctx context.Context, name part.FileName, tbl string, fill func(w io.Writer) (int64, error)) error {
	f, err := d.create(ctx, name, tbl)
	if err != nil {
		return err
	}
	if f.rows, err = fill(f.sw); err != nil {
		return f.abort(ctx, err)
	}
	return d.commit(ctx, f)
}

// writeSchemaFiles writes the SQL, tag and plain table definition files of one database. Failed files are counted,
// written ones are not: the success tally counts tables.
func (d *Dumper) writeSchemaFiles(ctx context.Context, version string, sc *dbScope) workerpool.Tally {
	var (
		t workerpool.Tally
		l = zerolog.Ctx(ctx)
	)
	check := func(err error) {
		if err != nil {
			l.Error().Err(err).Str("db", sc.DB.Name).Msg("error writing schema file")
			t.Failure++
		}
	}
	check(d.writeSQL(ctx, version, sc))
	for _, ss := range sc.Supers {
		if len(ss.Children) > 0 {
			check(d.writeTags(ctx, sc, ss))
		}
	}
	if len(sc.Plain) > 0 {
		check(d.writeNtb(ctx, sc))
	}
	return t
}

func (d *Dumper) writeSQL(ctx context.Context, version string, sc *dbScope) error {
	name := d.fileName(sc.DB.Name, schemaFileID, 0, part.ClassSQL)
	return d.writeFile(ctx, name, "", func(w io.Writer) (int64, error) {
		h := part.SQLHeader{ServerVersion: version, ToolVersion: d.rc.ToolVersion, Escape: d.cfg.Escape, Loose: d.cfg.Loose}
		if _, err := h.WriteTo(w); err != nil {
			return 0, err
		}
		stmts := []string{table.CreateDatabaseStatement(sc.DB.Name, sc.DB.Precision, d.cfg.Escape)}
		for _, ss := range sc.Supers {
			stmts = append(stmts, ss.Schema.CreateStatement(d.cfg.Escape))
		}
		_, err := io.WriteString(w, strings.Join(stmts, "\n")+"\n")
		return int64(len(stmts)), err
	})
}

func (d *Dumper) writeTags(ctx context.Context, sc *dbScope, ss *superScope) error {
	name := d.fileName(sc.DB.Name, ss.Schema.Name, 0, part.ClassTags)
	return d.writeFile(ctx, name, ss.Schema.Name, func(w io.Writer) (int64, error) {
		tw, err := avrofile.NewTagWriter(w, ss.Schema, d.avroOptions())
		if err != nil {
			return 0, err
		}
		for _, child := range ss.Children {
			if err = tw.AppendTags(child.Name, child.Tags); err != nil {
				return tw.Count(), err
			}
		}
		return tw.Count(), nil
	})
}

func (d *Dumper) writeNtb(ctx context.Context, sc *dbScope) error {
	name := d.fileName(sc.DB.Name, ntbFileID, 0, part.ClassNtb)
	return d.writeFile(ctx, name, "", func(w io.Writer) (int64, error) {
		nw, err := avrofile.NewNtbWriter(w, sc.DB.Name, sc.DB.Precision, d.avroOptions())
		if err != nil {
			return 0, err
		}
		for i, s := range sc.Plain {
			if err = nw.AppendTable(s); err != nil {
				return int64(i), err
			}
		}
		return int64(len(sc.Plain)), nil
	})
}

func (d *Dumper) openData(ctx context.Context, it Item) (*outFile, rowWriter, error) {
	f, err := d.create(ctx, it.File, it.Table)
	if err != nil {
		return nil, nil, err
	}
	if it.File.Class == part.ClassParquet {
		pw, err := parquet_accumulator.NewWriter(f.sw, it.Schema)
		if err != nil {
			return nil, nil, f.abort(ctx, err)
		}
		f.finish = pw.Close
		return f, pw, nil
	}
	aw, err := avrofile.NewDataWriter(f.sw, it.Schema, d.avroOptions())
	if err != nil {
		return nil, nil, f.abort(ctx, err)
	}
	return f, aw, nil
}

// extract pages through the rows of one item. The file is only created once the first page holds rows, so an
// empty table leaves no file behind.
func (d *Dumper) extract(ctx context.Context, conn taos.Conn, it Item) (int64, error) {
	var (
		f      *outFile
		w      rowWriter
		offset = it.Offset
	)
	for {
		if err := ctx.Err(); err != nil {
			if f != nil {
				return f.rows, f.abort(ctx, err)
			}
			return 0, err
		}
		limit := d.cfg.PageSize
		if it.Count >= 0 {
			left := it.Count - (offset - it.Offset)
			if left <= 0 {
				break
			}
			limit = min(limit, left)
		}
		page, err := conn.Select(ctx, it.Schema, it.Table, it.TimeRange, limit, offset)
		if err != nil {
			err = fmt.Errorf("error selecting from %s.%s: %w", it.DB, it.Table, err)
			if f != nil {
				return f.rows, f.abort(ctx, err)
			}
			return 0, fmt.Errorf("%w: %s", utils.ErrItem, err)
		}
		if len(page) > 0 {
			if f == nil {
				if f, w, err = d.openData(ctx, it); err != nil {
					return 0, err
				}
			}
			rows := make([]table.Row, len(page))
			for i, vals := range page {
				rows[i] = table.Row{Table: it.Table, Values: vals}
			}
			if err = w.AppendRows(rows); err != nil {
				return f.rows, f.abort(ctx, err)
			}
			f.rows += int64(len(page))
			offset += int64(len(page))
		}
		if int64(len(page)) < limit {
			break
		}
	}
	if f == nil {
		return 0, nil
	}
	return f.rows, d.commit(ctx, f)
}
