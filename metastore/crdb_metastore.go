package metastore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/danthegoodman1/tsmover/crdb"
	"github.com/danthegoodman1/tsmover/migrations"
	"github.com/danthegoodman1/tsmover/part"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

type (
	CRDBMetaStore struct {
		pool *pgxpool.Pool
	}
)

// NewCRDBMetaStore applies pending migrations and connects.
func NewCRDBMetaStore(ctx context.Context, dsn string) (*CRDBMetaStore, error) {
	logger := zerolog.Ctx(ctx)
	n, err := migrations.RunMigrations(dsn)
	if err != nil {
		return nil, fmt.Errorf("error in RunMigrations: %w", err)
	}
	logger.Debug().Int("applied", n).Msg("manifest migrations done")
	pool, err := crdb.ConnectToDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &CRDBMetaStore{pool: pool}, nil
}

func (cms *CRDBMetaStore) RecordPart(ctx context.Context, p part.Part) error {
	ctx, cancel := context.WithTimeout(ctx, crdb.StandardContextTimeout)
	defer cancel()
	err := crdbpgx.ExecuteTx(ctx, cms.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPSERT INTO parts (run_id, name, id, class, db, tbl, row_count, bytes, checksum, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			p.RunID, p.Name, p.ID, int64(p.Class), p.DB, p.Table, p.RowCount, p.Bytes,
			strconv.FormatUint(p.Checksum, 16), p.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("error in crdbpgx.ExecuteTx: %w", err)
	}
	return nil
}

func (cms *CRDBMetaStore) ListParts(ctx context.Context, runID string) ([]part.Part, error) {
	ctx, cancel := context.WithTimeout(ctx, crdb.StandardContextTimeout)
	defer cancel()
	q := `SELECT run_id, name, id, class, db, tbl, row_count, bytes, checksum, created_at FROM parts`
	var args []any
	if runID != "" {
		q += ` WHERE run_id = $1`
		args = append(args, runID)
	}
	rows, err := cms.pool.Query(ctx, q+` ORDER BY run_id, name`, args...)
	if err != nil {
		return nil, fmt.Errorf("error in pool.Query: %w", err)
	}
	defer rows.Close()
	parts := make([]part.Part, 0)
	for rows.Next() {
		var (
			p     part.Part
			class int64
			sum   string
		)
		if err = rows.Scan(&p.RunID, &p.Name, &p.ID, &class, &p.DB, &p.Table, &p.RowCount, &p.Bytes, &sum, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("error in rows.Scan: %w", err)
		}
		p.Class = part.Class(class)
		if p.Checksum, err = strconv.ParseUint(sum, 16, 64); err != nil {
			return nil, fmt.Errorf("bad checksum for %s: %w", p.Name, err)
		}
		parts = append(parts, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error in rows.Err: %w", err)
	}
	return parts, nil
}

func (cms *CRDBMetaStore) Shutdown(context.Context) error {
	cms.pool.Close()
	return nil
}
