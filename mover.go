package main

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/tsmover/bench"
	"github.com/danthegoodman1/tsmover/config"
	"github.com/danthegoodman1/tsmover/datastore"
	"github.com/danthegoodman1/tsmover/dump"
	"github.com/danthegoodman1/tsmover/metastore"
	"github.com/danthegoodman1/tsmover/restore"
	"github.com/danthegoodman1/tsmover/runctx"
	"github.com/danthegoodman1/tsmover/s3_helper"
	"github.com/danthegoodman1/tsmover/taos"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/klauspost/compress/zstd"
)

type stage interface {
	Run(ctx context.Context) (*runctx.Report, error)
}

// Run builds the run context for cfg, runs the configured mode and shuts the stores down.
func Run(ctx context.Context, cfg *config.Config) (*runctx.Report, error) {
	rc := runctx.New(cfg)
	ctx = rc.Context(ctx)

	connector, err := taos.NewSQLConnector(cfg.Connection.DSN)
	if err != nil {
		return nil, err
	}
	defer connector.Close()
	rc.Connector = connector

	if cfg.Mode == config.ModeInsert {
		sml, err := taos.NewSchemaless(cfg.Connection.DSN)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", utils.ErrConfig, err)
		}
		defer sml.Close()
		rc.Schemaless = sml
		return bench.New(rc).Run(ctx)
	}

	if rc.DataStore, err = openDataStore(cfg.Storage); err != nil {
		return nil, err
	}
	defer func() {
		if err := rc.DataStore.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("error shutting down data store")
		}
	}()
	if rc.MetaStore, err = metastore.Open(ctx, cfg.MetaStore, rc.DataStore, rc.RunID); err != nil {
		return nil, fmt.Errorf("%w: error opening metastore: %s", utils.ErrConnectivity, err)
	}

	var s stage = restore.New(rc)
	if cfg.Mode == config.ModeDump {
		s = dump.New(rc)
	}
	report, err := s.Run(ctx)
	// the manifest of a disk metastore is written here, so an aborted dump keeps the parts it finished
	if serr := rc.MetaStore.Shutdown(ctx); serr != nil {
		logger.Error().Err(serr).Msg("error shutting down metastore")
		if err == nil {
			err = fmt.Errorf("%w: %s", utils.ErrConnectivity, serr)
		}
	}
	return report, err
}

func openDataStore(cfg config.Storage) (datastore.DataStore, error) {
	var (
		ds  datastore.DataStore
		err error
	)
	switch cfg.Kind {
	case config.StorageS3:
		client, err := s3_helper.NewClient(s3_helper.Config{
			Bucket:    cfg.Bucket,
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			PathStyle: cfg.PathStyle || cfg.Endpoint != "",
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s", utils.ErrConfig, err)
		}
		ds = datastore.NewS3DataStore(client, cfg.Prefix)
	default:
		if ds, err = datastore.NewDiskDataStore(cfg.Path); err != nil {
			return nil, fmt.Errorf("%w: %s", utils.ErrConfig, err)
		}
	}
	if !cfg.Compress {
		return ds, nil
	}
	c := datastore.NewCompressed(ds)
	if cfg.ZstdLevel > 0 {
		c.Level = zstd.EncoderLevel(cfg.ZstdLevel)
	}
	return c, nil
}
