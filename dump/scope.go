package dump

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/taos"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/rs/zerolog"
)

type (
	dbScope struct {
		DB     taos.Database
		Supers []*superScope
		Plain  []*table.Schema
	}

	superScope struct {
		Schema   *table.Schema
		Children []taos.Child
	}
)

// enumerate resolves the configured scope into databases and tables. Tables that cannot be described are skipped
// and counted.
func (d *Dumper) enumerate(ctx context.Context, conn taos.Conn) ([]*dbScope, int64, error) {
	dbs, err := conn.Databases(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: error listing databases: %s", utils.ErrConnectivity, err)
	}
	byName := make(map[string]taos.Database, len(dbs))
	for _, db := range dbs {
		byName[db.Name] = db
	}

	var selected []taos.Database
	switch {
	case d.cfg.AllDatabases:
		for _, db := range dbs {
			if !taos.IsSystemDatabase(db.Name) {
				selected = append(selected, db)
			}
		}
	case d.cfg.Database != "":
		db, ok := byName[d.cfg.Database]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %w: database %s", utils.ErrConfig, ErrUnknownScope, d.cfg.Database)
		}
		selected = append(selected, db)
	default:
		for _, name := range d.cfg.DatabaseList() {
			db, ok := byName[name]
			if !ok {
				return nil, 0, fmt.Errorf("%w: %w: database %s", utils.ErrConfig, ErrUnknownScope, name)
			}
			selected = append(selected, db)
		}
	}

	var (
		scopes  []*dbScope
		skipped int64
	)
	for _, db := range selected {
		var only []string
		if d.cfg.Database != "" {
			only = d.cfg.Tables
		}
		sc, n, err := d.scopeOf(ctx, conn, db, only)
		if err != nil {
			return nil, 0, err
		}
		skipped += n
		scopes = append(scopes, sc)
	}
	return scopes, skipped, nil
}

func (d *Dumper) scopeOf(ctx context.Context, conn taos.Conn, db taos.Database, only []string) (*dbScope, int64, error) {
	l := zerolog.Ctx(ctx)
	refs, err := conn.Tables(ctx, db.Name)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: error listing tables of %s: %s", utils.ErrConnectivity, db.Name, err)
	}
	if len(only) > 0 {
		byName := make(map[string]taos.TableRef, len(refs))
		for _, ref := range refs {
			byName[ref.Name] = ref
		}
		refs = refs[:0:0]
		for _, name := range only {
			ref, ok := byName[name]
			if !ok {
				return nil, 0, fmt.Errorf("%w: %w: table %s.%s", utils.ErrConfig, ErrUnknownScope, db.Name, name)
			}
			refs = append(refs, ref)
		}
	}

	var (
		sc      = &dbScope{DB: db}
		skipped int64
		supers  = map[string]*superScope{}
		// partial holds every child of a super table that is only in scope through named children
		partial = map[string][]taos.Child{}
	)
	loadSuper := func(name string, all bool) (*superScope, error) {
		if ss, ok := supers[name]; ok {
			return ss, nil
		}
		s, err := taos.Describe(ctx, conn, db.Name, name, db.Precision)
		if err != nil {
			return nil, err
		}
		kids, err := conn.Children(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("error listing children of %s.%s: %w", db.Name, name, err)
		}
		ss := &superScope{Schema: s}
		if all {
			ss.Children = kids
		} else {
			partial[name] = kids
		}
		supers[name] = ss
		sc.Supers = append(sc.Supers, ss)
		return ss, nil
	}

	// super tables first so a named child finds its parent already loaded
	for _, ref := range refs {
		if !ref.IsSuper {
			continue
		}
		if _, err := loadSuper(ref.Name, true); err != nil {
			l.Error().Err(err).Str("table", ref.Name).Msg("skipping super table")
			skipped++
		}
	}
	for _, ref := range refs {
		switch {
		case ref.IsSuper:
		case ref.SuperTable != "":
			if len(only) == 0 {
				continue
			}
			ss, err := loadSuper(ref.SuperTable, false)
			if err != nil {
				l.Error().Err(err).Str("table", ref.Name).Msg("skipping child table")
				skipped++
				continue
			}
			kids, ok := partial[ref.SuperTable]
			if !ok {
				continue
			}
			for _, kid := range kids {
				if kid.Name == ref.Name {
					ss.Children = append(ss.Children, kid)
				}
			}
		default:
			s, err := taos.Describe(ctx, conn, db.Name, ref.Name, db.Precision)
			if err != nil {
				l.Error().Err(err).Str("table", ref.Name).Msg("skipping table")
				skipped++
				continue
			}
			sc.Plain = append(sc.Plain, s)
		}
	}
	l.Debug().Str("db", db.Name).Int("superTables", len(sc.Supers)).Int("tables", len(sc.Plain)).Msg("scope resolved")
	return sc, skipped, nil
}
