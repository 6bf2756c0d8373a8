package restore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/danthegoodman1/tsmover/part"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/taos"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/danthegoodman1/tsmover/workerpool"
	"github.com/rs/zerolog"
)

var createDatabase = regexp.MustCompile(`(?i)^(CREATE\s+DATABASE\s+(?:IF\s+NOT\s+EXISTS\s+)?)(\S+?)(\s|;|$)`)

// replaySQL runs the definition files on the control connection before any worker starts, and keeps their
// headers for the classes that follow. A file counts once: it fails if any of its statements fails.
func (r *Restorer) replaySQL(ctx context.Context, conn taos.Conn, files []part.FileName) workerpool.Tally {
	var (
		t workerpool.Tally
		l = zerolog.Ctx(ctx)
	)
	for _, f := range files {
		if err := r.verify(ctx, f); err != nil {
			l.Error().Err(err).Str("file", f.String()).Msg("skipping sql file")
			t.Failure++
			continue
		}
		failed, err := r.replaySQLFile(ctx, conn, f)
		if err != nil {
			l.Error().Err(err).Str("file", f.String()).Msg("error reading sql file")
			t.Failure++
			continue
		}
		if failed > 0 {
			t.Failure++
			continue
		}
		t.Success++
	}
	return t
}

func (r *Restorer) replaySQLFile(ctx context.Context, conn taos.Conn, f part.FileName) (int, error) {
	l := zerolog.Ctx(ctx)
	rd, err := r.rc.DataStore.Open(ctx, f.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %s", utils.ErrItem, err)
	}
	defer rd.Close()
	h, stmts, err := part.ReadSQLFile(rd)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", utils.ErrItem, err)
	}
	r.headers[f.DB] = h
	r.checkVersion(ctx, f, h)
	l.Debug().Str("file", f.String()).Str("serverVersion", h.ServerVersion).Str("toolVersion", h.ToolVersion).
		Bool("escape", h.Escape).Bool("loose", h.Loose).Int("statements", len(stmts)).Msg("replaying sql file")

	to := r.target(f.DB)
	failed := 0
	for _, stmt := range stmts {
		if to != f.DB {
			stmt = renameDatabase(stmt, f.DB, to, h.Escape)
		}
		if _, err := conn.Exec(ctx, stmt); err != nil {
			l.Error().Err(err).Str("statement", stmt).Msg("statement failed")
			failed++
		}
	}
	return failed, nil
}

// renameDatabase points a definition statement at database to instead of from. Qualified names and the name
// after CREATE DATABASE are rewritten, nothing else.
func renameDatabase(stmt, from, to string, escape bool) string {
	qf, qt := table.Quote(from, escape), table.Quote(to, escape)
	if m := createDatabase.FindStringSubmatchIndex(stmt); m != nil && stmt[m[4]:m[5]] == qf {
		return stmt[:m[4]] + qt + stmt[m[5]:]
	}
	return strings.ReplaceAll(stmt, " "+qf+".", " "+qt+".")
}

// checkVersion warns when a file was dumped from a newer server than the one restored into. Versions that do
// not parse are not compared.
func (r *Restorer) checkVersion(ctx context.Context, f part.FileName, h part.SQLHeader) {
	dumped, err := utils.VersionToInt(h.ServerVersion)
	if err != nil {
		return
	}
	live, err := utils.VersionToInt(r.serverVersion)
	if err != nil {
		return
	}
	if dumped > live {
		zerolog.Ctx(ctx).Warn().Str("file", f.String()).Str("dumpedFrom", h.ServerVersion).
			Str("restoringTo", r.serverVersion).Msg("dump comes from a newer server")
	}
}
