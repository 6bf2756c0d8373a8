package workerpool

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/tsmover/gologger"
	"github.com/danthegoodman1/tsmover/partitioner"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var logger = gologger.NewLogger()

type (
	// Tally counts outcomes. Each worker owns one and the pool sums them after every worker has returned.
	Tally struct {
		Success int64
		Failure int64
	}

	Worker struct {
		ID    int
		Range partitioner.Range
		Tally Tally
	}

	// ItemFunc handles one item. A returned error counts one failure unless it is fatal.
	ItemFunc[T any] func(ctx context.Context, item T) error

	// StartFunc runs once per worker before its first item. The worker owns what it opens until close is called.
	StartFunc[T any] func(ctx context.Context, w *Worker) (handle ItemFunc[T], close func() error, err error)

	Pool[T any] struct {
		Name    string
		Threads int
		Start   StartFunc[T]
		// Describe names an item in logs
		Describe func(T) string
	}

	Result struct {
		Workers int
		Tally
	}
)

func (t *Tally) Add(o Tally) {
	t.Success += o.Success
	t.Failure += o.Failure
}

func (w *Worker) Succeeded(n int64) {
	w.Tally.Success += n
}

func (w *Worker) Failed(n int64) {
	w.Tally.Failure += n
}

// Run partitions items once and runs each range on its own goroutine, in enumeration order. A fatal error from
// a worker stops that worker only. Run waits for all of them and returns the first fatal error with the merged
// tally.
func (p Pool[T]) Run(ctx context.Context, items []T) (Result, error) {
	ranges, err := partitioner.Plan(int64(len(items)), p.Threads)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", utils.ErrConfig, err)
	}
	workers := make([]*Worker, len(ranges))
	var g errgroup.Group
	for i, r := range ranges {
		w := &Worker{ID: i, Range: r}
		workers[i] = w
		part, err := partitioner.Slice(items, r)
		if err != nil {
			return Result{}, err
		}
		g.Go(func() error {
			return p.work(gologger.WithWorker(ctx, w.ID), w, part)
		})
	}
	runErr := g.Wait()

	res := Result{Workers: len(workers)}
	for _, w := range workers {
		res.Add(w.Tally)
	}
	logger.Info().Str("pool", p.Name).Int("workers", res.Workers).Int64("success", res.Success).
		Int64("failure", res.Failure).Msg("pool finished")
	return res, runErr
}

func (p Pool[T]) work(ctx context.Context, w *Worker, items []T) error {
	l := zerolog.Ctx(ctx)
	handle, closeFn, err := p.Start(ctx, w)
	if err != nil {
		return fmt.Errorf("error starting worker %d: %w", w.ID, err)
	}
	defer func() {
		if closeFn == nil {
			return
		}
		if err := closeFn(); err != nil {
			l.Warn().Err(err).Msg("error closing worker resources")
		}
	}()
	l.Debug().Str("pool", p.Name).Str("range", w.Range.String()).Msg("worker started")
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			l.Warn().Str("pool", p.Name).Msg("worker stopped before finishing its range")
			return err
		}
		if err := handle(ctx, item); err != nil {
			if utils.IsFatal(err) || ctx.Err() != nil {
				return err
			}
			w.Failed(1)
			l.Error().Err(err).Str("item", p.describe(item)).Msg("item failed")
		}
	}
	return nil
}

func (p Pool[T]) describe(item T) string {
	if p.Describe != nil {
		return p.Describe(item)
	}
	return fmt.Sprint(item)
}
