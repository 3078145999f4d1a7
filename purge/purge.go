package purge

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/convergekit/converge/adapter"
	"github.com/convergekit/converge/backend"
	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/graph"
	"github.com/convergekit/converge/internal/metrics"
	"github.com/convergekit/converge/pipeline"
	"github.com/convergekit/converge/resource"
	"github.com/convergekit/converge/warnings"
)

const DefaultBatchSize = 1000

type Options struct {
	// Scope selects the namespace/dataset being purged.
	Scope backend.Scope

	// Roots restricts the run to the dependency closure of these kinds.
	// Empty means every registered kind.
	Roots []resource.Kind

	// BatchSize is the initial delete batch size; adaptive recovery may
	// shrink it for the rest of the run.
	BatchSize int

	// PipelineCapacity bounds in-flight batches in the streaming path.
	PipelineCapacity int
}

// KindResult reports what happened to one kind during a purge run.
type KindResult struct {
	Name    resource.Kind
	Deleted int
	Total   int

	// Skipped marks a kind whose deletion was never attempted because a
	// kind depending on it failed to purge earlier in the run.
	Skipped bool
	Err     error
}

type Result struct {
	RunID string
	Kinds []KindResult

	// FullyPurged is false when any high-severity warning occurred;
	// callers use it to decide whether the scope's container itself may
	// be removed.
	FullyPurged bool
}

func (r Result) Failed() bool {
	for _, kind := range r.Kinds {
		if kind.Err != nil || kind.Skipped {
			return true
		}
	}
	return false
}

// Purger deletes every remote instance in scope, kind by kind, in
// reverse dependency order: nothing is deleted while a kind that depends
// on it still has instances.
type Purger struct {
	registry *adapter.Registry
	graph    *graph.DependencyGraph
	warnings *warnings.Collector
}

func New(registry *adapter.Registry, dependencies *graph.DependencyGraph, collector *warnings.Collector) *Purger {
	return &Purger{registry: registry, graph: dependencies, warnings: collector}
}

// run carries the state shared across one purge invocation: the sticky
// batch size, the kinds covered as first-class targets, and per-kind
// result accumulators (cascaded child kinds get their own entry).
type run struct {
	purger   *Purger
	scope    backend.Scope
	capacity int

	size    int
	covered map[resource.Kind]struct{}

	order   []resource.Kind
	results map[resource.Kind]*KindResult
}

func (p *Purger) Purge(ctx context.Context, opts Options) (Result, error) {
	result := Result{RunID: uuid.NewString()}
	if p == nil || p.registry == nil || p.graph == nil {
		return result, faults.NewTypedError(faults.InternalError, "purge orchestrator is not configured", nil)
	}

	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	var targets []resource.Kind
	for _, kind := range p.graph.PurgeOrder(opts.Roots...) {
		// Cascade-only kinds are deleted under their parent batches, never
		// scheduled directly.
		if p.registry.IsCascadeOnly(kind) {
			continue
		}
		targets = append(targets, kind)
	}

	state := &run{
		purger:   p,
		scope:    opts.Scope,
		capacity: opts.PipelineCapacity,
		size:     size,
		covered:  make(map[resource.Kind]struct{}, len(targets)),
		results:  make(map[resource.Kind]*KindResult),
	}
	for _, kind := range targets {
		state.covered[kind] = struct{}{}
	}

	tracer := otel.Tracer("converge/purge")
	unusable := make(map[resource.Kind]struct{})

	for _, kind := range targets {
		kindResult := state.resultFor(kind)

		if blocker, blocked := p.blockedBy(kind, unusable); blocked {
			unusable[kind] = struct{}{}
			kindResult.Skipped = true
			log.Warn().
				Str("run", result.RunID).
				Str("kind", kind.String()).
				Str("blocked_by", blocker.String()).
				Msg("skipping kind: a dependent kind failed to purge")
			continue
		}

		kindCtx, span := tracer.Start(ctx, "purge.kind",
			trace.WithAttributes(attribute.String("kind", kind.String())))
		err := state.purgeKind(kindCtx, kind)
		span.End()

		metrics.ResourcesPurged(kind.String(), kindResult.Deleted)
		if err == nil {
			log.Info().
				Str("run", result.RunID).
				Str("kind", kind.String()).
				Int("deleted", kindResult.Deleted).
				Int("total", kindResult.Total).
				Msg("kind purged")
			continue
		}

		kindResult.Err = err
		unusable[kind] = struct{}{}
		p.warnings.Add(warnings.Warning{
			Severity: warnings.SeverityHigh,
			Kind:     kind,
			Message:  "purge failed for kind",
			Err:      err,
		})
	}

	for _, kind := range state.order {
		result.Kinds = append(result.Kinds, *state.results[kind])
	}
	result.FullyPurged = !p.warnings.HasHighSeverity()
	return result, nil
}

// blockedBy reports the first direct dependent of the kind that already
// failed or was skipped in this run. Dependents purge first; while one
// still has instances left over from a failure, deleting what it
// references is unsafe.
func (p *Purger) blockedBy(kind resource.Kind, unusable map[resource.Kind]struct{}) (resource.Kind, bool) {
	for _, dependent := range p.graph.Dependents(kind) {
		if _, bad := unusable[dependent]; bad {
			return dependent, true
		}
	}
	return "", false
}

func (r *run) resultFor(kind resource.Kind) *KindResult {
	if existing, found := r.results[kind]; found {
		return existing
	}
	created := &KindResult{Name: kind}
	r.results[kind] = created
	r.order = append(r.order, kind)
	return created
}

func (r *run) deleterFor(current adapter.Adapter) *batchDeleter {
	return &batchDeleter{
		kind:     current.Kind(),
		remove:   current.Delete,
		warnings: r.purger.warnings,
		size:     &r.size,
	}
}

// purgeKind picks the deletion strategy from the adapter's capabilities:
// tree-shaped kinds delete leaf-first in passes, self-referencing kinds
// withhold type-resources for a second topologically ordered pass, and
// everything else streams through the bounded pipeline.
func (r *run) purgeKind(ctx context.Context, kind resource.Kind) error {
	current, err := r.purger.registry.Adapter(kind)
	if err != nil {
		return err
	}
	result := r.resultFor(kind)

	if tree, ok := current.(adapter.Hierarchical); ok {
		return r.hierarchicalPurge(ctx, current, tree, result)
	}
	if typed, ok := current.(adapter.SelfReferencing); ok {
		return r.typedPurge(ctx, current, typed, result)
	}
	return r.streamingPurge(ctx, current, result)
}

// streamingPurge is the default path: page identifiers out of the scope,
// optionally detach cross-references, cascade owned children, delete.
func (r *run) streamingPurge(ctx context.Context, current adapter.Adapter, result *KindResult) error {
	deleter := r.deleterFor(current)
	detacher, _ := current.(adapter.ReferenceDetacher)
	batchSize := r.size

	var total, deleted atomic.Int64

	err := pipeline.Run(ctx,
		func(ctx context.Context, yield func([]resource.Identifier) error) error {
			batch := make([]resource.Identifier, 0, batchSize)
			err := current.Iterate(ctx, r.scope, func(payload map[string]any) error {
				id, err := current.IdentityOf(payload)
				if err != nil {
					log.Debug().
						Str("kind", current.Kind().String()).
						Err(err).
						Msg("skipping remote item without identity")
					return nil
				}
				total.Add(1)
				batch = append(batch, id)
				if len(batch) < batchSize {
					return nil
				}
				full := batch
				batch = make([]resource.Identifier, 0, batchSize)
				return yield(full)
			})
			if err != nil {
				return err
			}
			return yield(batch)
		},
		func(ctx context.Context, batch []resource.Identifier) ([]resource.Identifier, error) {
			if detacher != nil {
				if err := detacher.DetachReferences(ctx, batch); err != nil {
					return nil, err
				}
			}
			return batch, nil
		},
		func(ctx context.Context, batch []resource.Identifier) (int, error) {
			if err := r.cascadeChildren(ctx, current, batch); err != nil {
				return 0, err
			}
			count, err := deleter.deleteAll(ctx, batch)
			deleted.Add(int64(count))
			return count, err
		},
		pipeline.Options{Capacity: r.capacity},
	)

	result.Total += int(total.Load())
	result.Deleted += int(deleted.Load())
	return err
}
