package purge

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/internal/metrics"
	"github.com/convergekit/converge/resource"
	"github.com/convergekit/converge/warnings"
)

// batchDeleter issues bulk deletes with adaptive batch-size recovery. A
// retryable timeout bisects the failing batch and retries each half; the
// shrunken size is written back through the shared size pointer so every
// later batch in the run starts at the size that last worked. A timeout
// on a single identifier is recorded as a high-severity warning and the
// run moves on; any non-retryable error aborts the kind.
type batchDeleter struct {
	kind     resource.Kind
	remove   func(ctx context.Context, ids []resource.Identifier) (int, error)
	warnings *warnings.Collector

	// size is shared across every deleter in one purge run.
	size *int
}

// deleteAll chunks the identifiers by the current preferred size,
// re-reading it between chunks because an earlier chunk may have shrunk
// it.
func (d *batchDeleter) deleteAll(ctx context.Context, ids []resource.Identifier) (int, error) {
	deleted := 0
	for start := 0; start < len(ids); {
		end := min(start+*d.size, len(ids))
		count, err := d.deleteBatch(ctx, ids[start:end])
		deleted += count
		if err != nil {
			return deleted, err
		}
		start = end
	}
	return deleted, nil
}

func (d *batchDeleter) deleteBatch(ctx context.Context, ids []resource.Identifier) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	count, err := d.remove(ctx, ids)
	if err == nil {
		return count, nil
	}
	if !faults.IsRetryable(err) {
		return count, err
	}

	if len(ids) == 1 {
		// Batch size has bottomed out: this one item is reported, not
		// retried forever.
		d.warnings.Add(warnings.Warning{
			Severity:   warnings.SeverityHigh,
			Kind:       d.kind,
			Identifier: ids[0],
			Message:    "delete timed out at batch size 1",
			Err:        err,
		})
		return 0, nil
	}

	mid := len(ids) / 2
	if *d.size > mid {
		*d.size = mid
		metrics.BatchSplit(d.kind.String())
		log.Warn().
			Str("kind", d.kind.String()).
			Int("batch_size", *d.size).
			Msg("delete batch timed out, shrinking batch size")
	}

	deleted, err := d.deleteBatch(ctx, ids[:mid])
	if err != nil {
		return deleted, err
	}
	rest, err := d.deleteBatch(ctx, ids[mid:])
	return deleted + rest, err
}
