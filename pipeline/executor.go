package pipeline

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/convergekit/converge/internal/metrics"
)

const DefaultCapacity = 10

// Progress is a snapshot of items completed by the write stage. Total is
// -1 while unknown.
type Progress struct {
	Completed int64
	Total     int64
}

type Options struct {
	// Capacity bounds the number of in-flight batches between adjacent
	// stages; the download stage suspends once the queue is full.
	Capacity int

	// Total, when known up front, is reported through OnProgress.
	Total int64

	OnProgress func(Progress)
}

// Run executes a three-stage download -> process -> write pipeline.
//
// The download stage emits batches through the yield function; the
// process stage transforms each batch; the write stage performs the
// mutating call and returns the number of items completed. Stages run
// concurrently, batches stay FIFO, and the first non-retryable error
// cancels the pipeline: no new input is accepted, in-flight work drains,
// and that first error is surfaced.
func Run[T any, U any](
	ctx context.Context,
	download func(ctx context.Context, yield func(batch []T) error) error,
	process func(ctx context.Context, batch []T) ([]U, error),
	write func(ctx context.Context, batch []U) (int, error),
	opts Options,
) error {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	total := opts.Total
	if total == 0 {
		total = -1
	}

	downloaded := make(chan []T, capacity)
	processed := make(chan []U, capacity)

	var completed atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(downloaded)
		return download(groupCtx, func(batch []T) error {
			if len(batch) == 0 {
				return nil
			}
			select {
			case downloaded <- batch:
				metrics.PipelineBatch("download")
				return nil
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		})
	})

	group.Go(func() error {
		defer close(processed)
		for batch := range downloaded {
			out, err := process(groupCtx, batch)
			if err != nil {
				return err
			}
			metrics.PipelineBatch("process")
			if len(out) == 0 {
				continue
			}
			select {
			case processed <- out:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
		return nil
	})

	group.Go(func() error {
		for batch := range processed {
			count, err := write(groupCtx, batch)
			if err != nil {
				return err
			}
			metrics.PipelineBatch("write")
			done := completed.Add(int64(count))
			if opts.OnProgress != nil {
				opts.OnProgress(Progress{Completed: done, Total: total})
			}
		}
		return nil
	})

	return group.Wait()
}
