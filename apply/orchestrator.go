package apply

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/convergekit/converge/adapter"
	"github.com/convergekit/converge/categorize"
	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/graph"
	"github.com/convergekit/converge/internal/metrics"
	"github.com/convergekit/converge/resource"
	"github.com/convergekit/converge/warnings"
)

const DefaultBatchSize = 100

type Options struct {
	// BatchSize bounds each create/update/delete call.
	BatchSize int

	// FailFast stops the run at the first failing kind instead of
	// continuing with kinds that do not depend on it.
	FailFast bool

	// FailedKinds are kinds that already failed before orchestration
	// (e.g. during categorization); their dependents are skipped.
	FailedKinds []resource.Kind
}

// KindResult reports what happened to one kind during an apply run.
type KindResult struct {
	Name      resource.Kind
	Created   int
	Changed   int
	Deleted   int
	Unchanged int
	Total     int

	// Skipped marks a kind that was never attempted because a kind it
	// depends on failed earlier in the run.
	Skipped bool
	Err     error
}

type Result struct {
	RunID string
	Kinds []KindResult
}

// Failed reports whether any kind in the run failed or was skipped, so
// callers can exit non-zero while still rendering what did succeed.
func (r Result) Failed() bool {
	for _, kind := range r.Kinds {
		if kind.Err != nil || kind.Skipped {
			return true
		}
	}
	return false
}

// Orchestrator applies categorized changes kind by kind in dependency
// order. There is no cross-kind rollback: kinds applied before a failure
// stay applied.
type Orchestrator struct {
	registry *adapter.Registry
	graph    *graph.DependencyGraph
	warnings *warnings.Collector
}

func New(registry *adapter.Registry, dependencies *graph.DependencyGraph, collector *warnings.Collector) *Orchestrator {
	return &Orchestrator{registry: registry, graph: dependencies, warnings: collector}
}

// Apply processes every categorized kind in topological order: a kind is
// attempted only after everything it depends on. When a kind fails, kinds
// that depend on it (directly or transitively) are skipped; unrelated
// kinds still run. The returned error is non-nil only for configuration
// failures or when FailFast cut the run short; per-kind outcomes are in
// the Result either way.
func (o *Orchestrator) Apply(
	ctx context.Context,
	categorized map[resource.Kind]categorize.Categorization,
	opts Options,
) (Result, error) {
	result := Result{RunID: uuid.NewString()}
	if o == nil || o.registry == nil || o.graph == nil {
		return result, faults.NewTypedError(faults.InternalError, "apply orchestrator is not configured", nil)
	}

	tracer := otel.Tracer("converge/apply")
	unusable := make(map[resource.Kind]struct{})
	for _, kind := range opts.FailedKinds {
		unusable[kind] = struct{}{}
	}

	for _, kind := range o.graph.Order() {
		categorization, declared := categorized[kind]
		if !declared {
			continue
		}

		if blocker, blocked := o.blockedBy(kind, unusable); blocked {
			unusable[kind] = struct{}{}
			result.Kinds = append(result.Kinds, KindResult{Name: kind, Skipped: true})
			log.Warn().
				Str("run", result.RunID).
				Str("kind", kind.String()).
				Str("blocked_by", blocker.String()).
				Msg("skipping kind: a dependency failed")
			continue
		}

		kindCtx, span := tracer.Start(ctx, "apply.kind",
			trace.WithAttributes(attribute.String("kind", kind.String())))
		kindResult := o.applyKind(kindCtx, kind, categorization, opts.BatchSize)
		span.End()

		result.Kinds = append(result.Kinds, kindResult)
		if kindResult.Err == nil {
			log.Info().
				Str("run", result.RunID).
				Str("kind", kind.String()).
				Int("created", kindResult.Created).
				Int("changed", kindResult.Changed).
				Int("deleted", kindResult.Deleted).
				Int("unchanged", kindResult.Unchanged).
				Msg("kind applied")
			continue
		}

		unusable[kind] = struct{}{}
		o.warnings.Add(warnings.Warning{
			Severity: warnings.SeverityHigh,
			Kind:     kind,
			Message:  "apply failed for kind",
			Err:      kindResult.Err,
		})
		if opts.FailFast {
			return result, kindResult.Err
		}
	}

	return result, nil
}

// blockedBy reports the first direct dependency of the kind that already
// failed or was skipped in this run.
func (o *Orchestrator) blockedBy(kind resource.Kind, unusable map[resource.Kind]struct{}) (resource.Kind, bool) {
	for _, dependency := range o.graph.Dependencies(kind) {
		if _, bad := unusable[dependency]; bad {
			return dependency, true
		}
	}
	return "", false
}

// applyKind issues deletes (the delete half of replaces, plus reconcile
// deletions), then creates, then updates. Order matters: a replace must
// remove the old instance before the new one is created.
func (o *Orchestrator) applyKind(
	ctx context.Context,
	kind resource.Kind,
	categorization categorize.Categorization,
	batchSize int,
) KindResult {
	kindResult := KindResult{
		Name:      kind,
		Unchanged: len(categorization.Unchanged),
		Total: len(categorization.ToCreate) +
			len(categorization.ToUpdate) +
			len(categorization.Unchanged),
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	current, err := o.registry.Adapter(kind)
	if err != nil {
		kindResult.Err = err
		return kindResult
	}

	for start := 0; start < len(categorization.ToDelete); start += batchSize {
		end := min(start+batchSize, len(categorization.ToDelete))
		count, err := current.Delete(ctx, categorization.ToDelete[start:end])
		kindResult.Deleted += count
		metrics.ResourcesApplied(kind.String(), "delete", count)
		if err != nil {
			kindResult.Err = fmt.Errorf("deleting replaced resources: %w", err)
			return kindResult
		}
	}

	for start := 0; start < len(categorization.ToCreate); start += batchSize {
		end := min(start+batchSize, len(categorization.ToCreate))
		count, err := current.Create(ctx, categorization.ToCreate[start:end])
		kindResult.Created += count
		metrics.ResourcesApplied(kind.String(), "create", count)
		if err != nil {
			kindResult.Err = fmt.Errorf("creating resources: %w", err)
			return kindResult
		}
	}

	for start := 0; start < len(categorization.ToUpdate); start += batchSize {
		end := min(start+batchSize, len(categorization.ToUpdate))
		count, err := current.Update(ctx, categorization.ToUpdate[start:end])
		kindResult.Changed += count
		metrics.ResourcesApplied(kind.String(), "update", count)
		if err != nil {
			kindResult.Err = fmt.Errorf("updating resources: %w", err)
			return kindResult
		}
	}

	return kindResult
}
