package metastore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danthegoodman1/tsmover/config"
	"github.com/danthegoodman1/tsmover/datastore"
	"github.com/danthegoodman1/tsmover/gologger"
	"github.com/danthegoodman1/tsmover/part"
)

var (
	logger = gologger.NewLogger()

	ErrPartNotFound = errors.New("part not found in manifest")
	ErrUnknownKind  = errors.New("unknown metastore kind")
)

type (
	// MetaStore is the manifest of dump runs: one record per produced file.
	MetaStore interface {
		// RecordPart stores one produced file. Safe for concurrent use by workers.
		RecordPart(ctx context.Context, p part.Part) error
		// ListParts lists the parts of a run, or of every run when runID is empty.
		ListParts(ctx context.Context, runID string) ([]part.Part, error)

		Shutdown(ctx context.Context) error
	}
)

// Open builds the metastore named by cfg. Disk manifests live inside the dump data store.
func Open(ctx context.Context, cfg config.MetaStore, ds datastore.DataStore, runID string) (MetaStore, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", config.MetaStoreDisk:
		return NewDiskMetaStore(ctx, ds, runID)
	case config.MetaStoreCRDB:
		return NewCRDBMetaStore(ctx, cfg.DSN)
	case config.MetaStoreRedis:
		return NewRedisMetaStore(ctx, cfg.Addr, cfg.Password)
	case config.MetaStoreNone:
		return Nop{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, cfg.Kind)
}

// Index maps parts by file name. With several runs in one store the latest record for a name wins.
func Index(parts []part.Part) map[string]part.Part {
	out := make(map[string]part.Part, len(parts))
	for _, p := range parts {
		if old, ok := out[p.Name]; ok && old.CreatedAt.After(p.CreatedAt) {
			continue
		}
		out[p.Name] = p
	}
	return out
}

// Nop records nothing.
type Nop struct{}

func (Nop) RecordPart(context.Context, part.Part) error { return nil }

func (Nop) ListParts(context.Context, string) ([]part.Part, error) { return nil, nil }

func (Nop) Shutdown(context.Context) error { return nil }
