package runctx

import (
	"context"
	"time"

	"github.com/danthegoodman1/tsmover/config"
	"github.com/danthegoodman1/tsmover/datastore"
	"github.com/danthegoodman1/tsmover/gologger"
	"github.com/danthegoodman1/tsmover/metastore"
	"github.com/danthegoodman1/tsmover/taos"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/danthegoodman1/tsmover/workerpool"
)

const (
	ExitOK       = 0
	ExitAborted  = 1
	ExitFailures = 2
)

type (
	// RunContext is everything a pipeline stage needs for one run. Nothing in it is mutated by workers.
	RunContext struct {
		RunID string
		// ToolVersion is stamped into SQL headers
		ToolVersion string
		Config      *config.Config

		Connector  taos.Connector
		Schemaless taos.SchemalessWriter
		DataStore  datastore.DataStore
		MetaStore  metastore.MetaStore

		// Now is the clock, replaced in tests
		Now func() time.Time
	}

	// Report is the outcome of a pipeline run.
	Report struct {
		RunID    string
		Mode     string
		Result   workerpool.Result
		Started  time.Time
		Duration time.Duration
	}
)

func New(cfg *config.Config) *RunContext {
	return &RunContext{
		RunID:       utils.GenKSortedID(""),
		ToolVersion: "0.1.0",
		Config:      cfg,
		Now:         time.Now,
	}
}

// Context attaches the run id to ctx and its logger.
func (rc *RunContext) Context(ctx context.Context) context.Context {
	return gologger.WithRun(ctx, rc.RunID)
}

// ExitCode maps a run outcome to the process exit status: aborted runs exit 1, runs with failed items exit 2.
func ExitCode(r *Report, err error) int {
	switch {
	case err != nil:
		return ExitAborted
	case r == nil:
		return ExitAborted
	case r.Result.Failure > 0:
		return ExitFailures
	}
	return ExitOK
}
