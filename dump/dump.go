package dump

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/danthegoodman1/tsmover/codec/avrofile"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/config"
	"github.com/danthegoodman1/tsmover/gologger"
	"github.com/danthegoodman1/tsmover/part"
	"github.com/danthegoodman1/tsmover/partitioner"
	"github.com/danthegoodman1/tsmover/runctx"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/taos"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/danthegoodman1/tsmover/workerpool"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewLogger()

	ErrUnknownScope = errors.New("no such database or table")
)

type (
	// Dumper extracts schema and rows into files of the run's data store.
	Dumper struct {
		rc    *runctx.RunContext
		cfg   config.Dump
		epoch int64
		files int
	}

	// Item is Count rows of one table starting at Offset. A negative Count reads every row.
	Item struct {
		DB        string
		Schema    *table.Schema
		Table     string
		Offset    int64
		Count     int64
		TimeRange taos.TimeRange
		File      part.FileName
	}
)

func New(rc *runctx.RunContext) *Dumper {
	return &Dumper{rc: rc, cfg: rc.Config.Dump, epoch: rc.Now().UnixMilli()}
}

// Run walks SchemaDiscovery, ScopeEnumeration, WorkPartitioning, ParallelExtraction and Finalize. Schema files
// are written by the calling goroutine before any worker starts.
func (d *Dumper) Run(ctx context.Context) (*runctx.Report, error) {
	started := d.rc.Now()
	ctx = d.rc.Context(ctx)
	l := zerolog.Ctx(ctx)

	conn, err := d.rc.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	version, err := conn.ServerVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: error reading server version: %s", utils.ErrConnectivity, err)
	}
	l.Info().Str("serverVersion", version).Msg("connected")

	scopes, skipped, err := d.enumerate(ctx, conn)
	if err != nil {
		return nil, err
	}
	report := &runctx.Report{RunID: d.rc.RunID, Mode: config.ModeDump, Started: started}
	report.Result.Failure += skipped

	for _, sc := range scopes {
		report.Result.Add(d.writeSchemaFiles(ctx, version, sc))
	}

	if !d.cfg.SchemaOnly {
		items, err := d.plan(ctx, conn, scopes)
		if err != nil {
			return nil, err
		}
		l.Info().Int("items", len(items)).Int("threads", d.cfg.Threads).Msg("extracting rows")
		res, err := d.pool().Run(ctx, items)
		report.Result.Workers = res.Workers
		report.Result.Add(res.Tally)
		if err != nil {
			return report, err
		}
	}

	report.Duration = d.rc.Now().Sub(started)
	l.Info().Int64("success", report.Result.Success).Int64("failure", report.Result.Failure).
		Dur("took", report.Duration).Msg("dump finished")
	return report, nil
}

func (d *Dumper) timeRange(p coltype.Precision) taos.TimeRange {
	tr := taos.AllTime
	if !d.cfg.Start.IsZero() {
		tr.Start = p.FromTime(d.cfg.Start)
	}
	if !d.cfg.End.IsZero() {
		tr.End = p.FromTime(d.cfg.End)
	}
	return tr
}

// fileName names a new file. Human readable names use the table name, the default an id unique to this run.
func (d *Dumper) fileName(db, human string, seq int, class part.Class) part.FileName {
	id := human
	if !d.cfg.HumanNames {
		id = strconv.FormatInt(d.epoch, 10) + "_" + strconv.Itoa(d.files)
		d.files++
	}
	return part.FileName{DB: db, ID: id, Seq: seq, Class: class}
}

func (d *Dumper) avroOptions() avrofile.Options {
	return avrofile.Options{Loose: d.cfg.Loose, Compression: d.cfg.AvroCodec}
}

func (d *Dumper) dataClass() part.Class {
	if d.cfg.Format == config.FormatParquet {
		return part.ClassParquet
	}
	return part.ClassData
}

// plan turns the scopes into work items. A scope of one plain or child table is split into row ranges so every
// worker reads a slice of it.
func (d *Dumper) plan(ctx context.Context, conn taos.Conn, scopes []*dbScope) ([]Item, error) {
	var items []Item
	for _, sc := range scopes {
		tr := d.timeRange(sc.DB.Precision)
		for _, ss := range sc.Supers {
			for _, child := range ss.Children {
				cs := *ss.Schema
				cs.Name, cs.SuperTable, cs.Tags = child.Name, ss.Schema.Name, nil
				items = append(items, Item{
					DB: sc.DB.Name, Schema: &cs, Table: child.Name, Count: -1, TimeRange: tr,
					File: d.fileName(sc.DB.Name, child.Name, 0, d.dataClass()),
				})
			}
		}
		for _, s := range sc.Plain {
			items = append(items, Item{
				DB: sc.DB.Name, Schema: s, Table: s.Name, Count: -1, TimeRange: tr,
				File: d.fileName(sc.DB.Name, s.Name, 0, d.dataClass()),
			})
		}
	}
	if len(items) != 1 || len(d.cfg.Tables) != 1 || d.cfg.Threads < 2 {
		return items, nil
	}
	return d.split(ctx, conn, items[0])
}

func (d *Dumper) split(ctx context.Context, conn taos.Conn, it Item) ([]Item, error) {
	n, err := conn.Count(ctx, it.DB, it.Table, it.TimeRange)
	if err != nil {
		return nil, fmt.Errorf("%w: error counting %s.%s: %s", utils.ErrConnectivity, it.DB, it.Table, err)
	}
	if n == 0 {
		return nil, nil
	}
	ranges, err := partitioner.Plan(n, d.cfg.Threads)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", utils.ErrConfig, err)
	}
	zerolog.Ctx(ctx).Debug().Str("table", it.Table).Int64("rows", n).Int("ranges", len(ranges)).Msg("splitting table")
	items := make([]Item, len(ranges))
	id := it.File.ID
	for i, r := range ranges {
		items[i] = it
		items[i].Offset, items[i].Count = r.Offset, r.Count
		items[i].File = part.FileName{DB: it.DB, ID: id, Seq: r.Worker, Class: it.File.Class}
	}
	return items, nil
}

func (d *Dumper) pool() workerpool.Pool[Item] {
	return workerpool.Pool[Item]{
		Name:    "dump",
		Threads: d.cfg.Threads,
		Describe: func(it Item) string {
			return it.DB + "." + it.Table + " -> " + it.File.String()
		},
		Start: func(ctx context.Context, w *workerpool.Worker) (workerpool.ItemFunc[Item], func() error, error) {
			conn, err := d.rc.Connector.Connect(ctx)
			if err != nil {
				return nil, nil, err
			}
			handle := func(ctx context.Context, it Item) error {
				n, err := d.extract(ctx, conn, it)
				if err != nil {
					return err
				}
				if n > 0 {
					w.Succeeded(1)
				}
				zerolog.Ctx(ctx).Debug().Str("table", it.Table).Int64("rows", n).Msg("table dumped")
				return nil
			}
			return handle, conn.Close, nil
		},
	}
}
