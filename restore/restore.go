package restore

import (
	"context"
	"errors"
	"fmt"

	"github.com/danthegoodman1/tsmover/codec/avrofile"
	"github.com/danthegoodman1/tsmover/config"
	"github.com/danthegoodman1/tsmover/datastore"
	"github.com/danthegoodman1/tsmover/metastore"
	"github.com/danthegoodman1/tsmover/part"
	"github.com/danthegoodman1/tsmover/runctx"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/danthegoodman1/tsmover/workerpool"
	"github.com/rs/zerolog"
)

var (
	ErrChecksum = errors.New("file does not match its manifest checksum")
	ErrNoFiles  = errors.New("no dump files found")
)

type (
	// Restorer replays the files of a dump against the database.
	Restorer struct {
		rc  *runctx.RunContext
		cfg config.Restore

		// headers holds the SQL header of each source database. Written before any worker starts.
		headers map[string]part.SQLHeader
		// manifest is nil unless checksums are verified
		manifest map[string]part.Part
		// serverVersion is the version of the server restored into, read once before any worker starts
		serverVersion string
	}

	// phase replays one file and reports per record outcomes through w.
	phase func(ctx context.Context, w *worker, f part.FileName) error
)

func New(rc *runctx.RunContext) *Restorer {
	return &Restorer{rc: rc, cfg: rc.Config.Restore, headers: map[string]part.SQLHeader{}}
}

// Run walks FileDiscovery, WorkPartitioning, ParallelReplay and Finalize. Classes are replayed one after the
// other in part.RestoreOrder, each as its own pool run, since later classes use tables earlier ones create.
func (r *Restorer) Run(ctx context.Context) (*runctx.Report, error) {
	started := r.rc.Now()
	ctx = r.rc.Context(ctx)
	l := zerolog.Ctx(ctx)

	conn, err := r.rc.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	version, err := conn.ServerVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: error reading server version: %s", utils.ErrConnectivity, err)
	}
	l.Info().Str("serverVersion", version).Msg("connected")
	r.serverVersion = version

	names, err := r.rc.DataStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: error listing dump files: %s", utils.ErrConnectivity, err)
	}
	files, skipped := part.Discover(names)
	for _, name := range skipped {
		l.Debug().Str("file", name).Msg("not a dump file")
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %w", utils.ErrConfig, ErrNoFiles)
	}

	if r.cfg.VerifyChecksums {
		parts, err := r.rc.MetaStore.ListParts(ctx, r.cfg.RunID)
		if err != nil {
			return nil, fmt.Errorf("%w: error reading manifest: %s", utils.ErrConnectivity, err)
		}
		r.manifest = metastore.Index(parts)
		l.Info().Int("parts", len(r.manifest)).Msg("verifying checksums")
	}

	report := &runctx.Report{RunID: r.rc.RunID, Mode: config.ModeRestore, Started: started}
	report.Result.Add(r.replaySQL(ctx, conn, files[part.ClassSQL]))

	phases := map[part.Class]phase{
		part.ClassTags:    r.replayTags,
		part.ClassNtb:     r.replayNtb,
		part.ClassData:    r.replayData,
		part.ClassParquet: r.replayParquet,
	}
	for _, class := range part.RestoreOrder {
		ph, ok := phases[class]
		if !ok || len(files[class]) == 0 {
			continue
		}
		l.Info().Str("class", class.String()).Int("files", len(files[class])).Msg("replaying files")
		res, err := r.pool(class, ph).Run(ctx, files[class])
		report.Result.Add(res.Tally)
		report.Result.Workers = max(report.Result.Workers, res.Workers)
		if err != nil {
			return report, err
		}
	}

	report.Duration = r.rc.Now().Sub(started)
	l.Info().Int64("success", report.Result.Success).Int64("failure", report.Result.Failure).
		Dur("took", report.Duration).Msg("restore finished")
	return report, nil
}

func (r *Restorer) pool(class part.Class, ph phase) workerpool.Pool[part.FileName] {
	return workerpool.Pool[part.FileName]{
		Name:     "restore " + class.String(),
		Threads:  r.cfg.Threads,
		Describe: part.FileName.String,
		Start: func(ctx context.Context, pw *workerpool.Worker) (workerpool.ItemFunc[part.FileName], func() error, error) {
			conn, err := r.rc.Connector.Connect(ctx)
			if err != nil {
				return nil, nil, err
			}
			w := &worker{r: r, pw: pw, conn: conn}
			handle := func(ctx context.Context, f part.FileName) error {
				if err := r.verify(ctx, f); err != nil {
					return err
				}
				return ph(ctx, w, f)
			}
			return handle, w.close, nil
		},
	}
}

// verify compares a file with its manifest record. Files the manifest does not list are replayed with a warning.
func (r *Restorer) verify(ctx context.Context, f part.FileName) error {
	if r.manifest == nil {
		return nil
	}
	p, ok := r.manifest[f.String()]
	if !ok {
		zerolog.Ctx(ctx).Warn().Str("file", f.String()).Msg("file not in manifest")
		return nil
	}
	n, sum, err := datastore.Checksum(ctx, r.rc.DataStore, f.String())
	if err != nil {
		return fmt.Errorf("%w: %s", utils.ErrItem, err)
	}
	if n != p.Bytes || sum != p.Checksum {
		return fmt.Errorf("%w: %w: %s", utils.ErrItem, ErrChecksum, f)
	}
	return nil
}

// target is the database a source database is restored into.
func (r *Restorer) target(db string) string {
	if to, ok := r.cfg.RenameDatabases[db]; ok && to != "" {
		return to
	}
	return db
}

func (r *Restorer) header(db string) part.SQLHeader {
	if h, ok := r.headers[db]; ok {
		return h
	}
	return part.DefaultHeader
}

// sourceDB resolves the database an avro file was dumped from. The namespace identifies it and the file name
// keeps the characters sanitizing drops.
func sourceDB(h avrofile.Header, f part.FileName) string {
	if h.DB == "" || avrofile.Sanitize(f.DB) == h.DB {
		return f.DB
	}
	return h.DB
}
