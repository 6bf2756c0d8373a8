package bench

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/codec/bind"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/config"
	"github.com/danthegoodman1/tsmover/generator"
	"github.com/danthegoodman1/tsmover/runctx"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/taos"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/danthegoodman1/tsmover/workerpool"
	"github.com/rs/zerolog"
)

type (
	// Bench creates a super table with child tables and fills them with generated or sampled rows.
	Bench struct {
		rc     *runctx.RunContext
		cfg    config.Insert
		schema *table.Schema

		start int64
		rows  int64
		batch int
		// sample holds the rows read from the sample file, shared read only by every worker
		sample [][]coltype.Value
	}

	Child struct {
		Name string
		Tags []coltype.Value
	}
)

func New(rc *runctx.RunContext) *Bench {
	return &Bench{rc: rc, cfg: rc.Config.Insert}
}

func (b *Bench) schemaless() bool {
	switch b.cfg.Interface {
	case config.InterfaceLine, config.InterfaceTelnet, config.InterfaceJSON:
		return true
	}
	return false
}

func (b *Bench) Run(ctx context.Context) (*runctx.Report, error) {
	started := b.rc.Now()
	ctx = b.rc.Context(ctx)
	l := zerolog.Ctx(ctx)
	if err := b.setup(ctx); err != nil {
		return nil, err
	}

	conn, err := b.rc.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err = b.createSchema(ctx, conn); err != nil {
		return nil, err
	}
	children, err := b.children()
	if err != nil {
		return nil, err
	}

	l.Info().Str("db", b.cfg.Database).Str("superTable", b.schema.Name).Int("children", len(children)).
		Int64("rowsPerTable", b.rows).Str("interface", b.cfg.Interface).Msg("inserting")
	res, err := b.pool().Run(ctx, children)
	report := &runctx.Report{RunID: b.rc.RunID, Mode: config.ModeInsert, Started: started, Result: res}
	report.Duration = b.rc.Now().Sub(started)
	if err != nil {
		return report, err
	}
	l.Info().Int64("success", res.Success).Int64("failure", res.Failure).Dur("took", report.Duration).
		Msg("insert finished")
	return report, nil
}

// setup resolves the schema and loads the sample rows before anything touches the database.
func (b *Bench) setup(ctx context.Context) error {
	st := b.cfg.SuperTable
	s, err := b.cfg.Schema()
	if err != nil {
		return fmt.Errorf("%w: %s", utils.ErrConfig, err)
	}
	b.schema = s
	start, err := b.cfg.StartTime(b.rc.Now())
	if err != nil {
		return fmt.Errorf("%w: %s", utils.ErrConfig, err)
	}
	b.start = s.Precision.FromTime(start)
	b.rows = st.RowsPerTable
	b.batch = st.BatchSize

	if st.SampleFile != "" {
		fields, n := s.Columns[1:], st.PreparedRows
		if st.UseSampleTs {
			if b.rows, err = generator.CountLines(st.SampleFile); err != nil {
				return fmt.Errorf("%w: %s", utils.ErrConfig, err)
			}
			fields, n = s.Columns, int(b.rows)
		}
		src, err := generator.OpenSampleSource(st.SampleFile, fields, s.MaxEncodedRowBytes())
		if err != nil {
			return fmt.Errorf("%w: %s", utils.ErrConfig, err)
		}
		defer src.Close()
		rows, err := src.Prepare(n)
		if err != nil {
			return fmt.Errorf("%w: %s", utils.ErrConfig, err)
		}
		if !st.UseSampleTs {
			for i, r := range rows {
				rows[i] = append([]coltype.Value{coltype.NullValue()}, r...)
			}
		}
		b.sample = rows
	}

	if b.cfg.Interface == config.InterfaceStmt {
		var clamped bool
		if b.batch, clamped = bind.ClampBatch(st.BatchSize, st.PreparedRows); clamped {
			zerolog.Ctx(ctx).Warn().Int("batchSize", st.BatchSize).Int("preparedRows", st.PreparedRows).
				Msg("batch size above prepared rows, clamping")
		}
	}
	return nil
}

// createSchema drops and recreates the database when asked, then creates the super table. Schemaless
// interfaces let the server derive the super table from the first rows.
func (b *Bench) createSchema(ctx context.Context, conn taos.Conn) error {
	var stmts []string
	if b.cfg.Drop {
		stmts = append(stmts, "DROP DATABASE IF EXISTS "+table.Quote(b.cfg.Database, b.cfg.Escape)+";")
	}
	stmts = append(stmts, table.CreateDatabaseStatement(b.cfg.Database, b.schema.Precision, b.cfg.Escape))
	if !b.schemaless() {
		stmts = append(stmts, b.schema.CreateStatement(b.cfg.Escape))
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: error in %q: %s", utils.ErrConnectivity, stmt, err)
		}
	}
	return nil
}

// children names the child tables and draws their tags from the tags file or the generator.
func (b *Bench) children() ([]Child, error) {
	st := b.cfg.SuperTable
	out := make([]Child, st.ChildCount)
	var next func() ([]coltype.Value, error)
	if st.TagsFile != "" {
		src, err := generator.OpenSampleSource(st.TagsFile, b.schema.Tags, b.schema.MaxEncodedTagBytes())
		if err != nil {
			return nil, fmt.Errorf("%w: %s", utils.ErrConfig, err)
		}
		defer src.Close()
		next = src.Next
	} else {
		g := generator.New(b.cfg.Seed, b.cfg.Chinese)
		next = func() ([]coltype.Value, error) { return g.Row(b.schema.Tags) }
	}
	for i := range out {
		tags, err := next()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", utils.ErrConfig, err)
		}
		out[i] = Child{Name: fmt.Sprintf("%s%d", st.ChildPrefix, i), Tags: tags}
	}
	return out, nil
}

func (b *Bench) protocol() codec.Protocol {
	return codec.Protocol(b.cfg.Interface)
}

func (b *Bench) pool() workerpool.Pool[Child] {
	return workerpool.Pool[Child]{
		Name:     "insert",
		Threads:  b.cfg.Threads,
		Describe: func(c Child) string { return c.Name },
		Start: func(ctx context.Context, pw *workerpool.Worker) (workerpool.ItemFunc[Child], func() error, error) {
			w, err := b.newWriter(ctx, pw)
			if err != nil {
				return nil, nil, err
			}
			return w.fill, w.close, nil
		},
	}
}
