package purge

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/convergekit/converge/adapter"
	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/resource"
)

// hierarchicalPurge deletes a tree-shaped kind leaf-first: each pass
// re-reads the scope and deletes every node no other node names as its
// parent, until the scope is empty. A tree of depth D converges in D+1
// passes. When two consecutive passes see the same non-empty set size,
// one bulk delete of everything left is attempted; if the scope still
// does not drain, the kind is stuck (a reference cycle or consistency
// lag) and fails with NoProgress.
func (r *run) hierarchicalPurge(
	ctx context.Context,
	current adapter.Adapter,
	tree adapter.Hierarchical,
	result *KindResult,
) error {
	deleter := r.deleterFor(current)
	previousSize := -1
	fallbackUsed := false

	for pass := 1; ; pass++ {
		remaining, referenced, err := r.collectTreePass(ctx, current, tree)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		if pass == 1 {
			result.Total = len(remaining)
		}

		if len(remaining) == previousSize {
			if fallbackUsed {
				return faults.NewTypedError(
					faults.NoProgress,
					fmt.Sprintf("hierarchical purge of kind %q made no progress after bulk fallback", current.Kind()),
					nil,
				)
			}
			fallbackUsed = true
			log.Warn().
				Str("kind", current.Kind().String()).
				Int("remaining", len(remaining)).
				Msg("no progress deleting leaves, attempting one bulk delete of the remainder")

			count, err := current.Delete(ctx, remaining)
			result.Deleted += count
			if err != nil {
				return faults.NewTypedError(
					faults.NoProgress,
					fmt.Sprintf("bulk fallback failed for kind %q", current.Kind()),
					err,
				)
			}
			continue
		}
		previousSize = len(remaining)

		var leaves []resource.Identifier
		for _, id := range remaining {
			if _, isParent := referenced[id]; !isParent {
				leaves = append(leaves, id)
			}
		}

		for start := 0; start < len(leaves); {
			end := min(start+r.size, len(leaves))
			batch := leaves[start:end]
			if err := r.cascadeChildren(ctx, current, batch); err != nil {
				return err
			}
			count, err := deleter.deleteAll(ctx, batch)
			result.Deleted += count
			if err != nil {
				return err
			}
			start = end
		}
	}
}

// collectTreePass reads the whole scope once, returning the identifiers
// still present (sorted, for deterministic batches) and the set of
// identifiers some node names as its parent.
func (r *run) collectTreePass(
	ctx context.Context,
	current adapter.Adapter,
	tree adapter.Hierarchical,
) ([]resource.Identifier, map[resource.Identifier]struct{}, error) {
	var remaining []resource.Identifier
	referenced := make(map[resource.Identifier]struct{})

	err := current.Iterate(ctx, r.scope, func(payload map[string]any) error {
		id, err := current.IdentityOf(payload)
		if err != nil {
			log.Debug().
				Str("kind", current.Kind().String()).
				Err(err).
				Msg("skipping remote item without identity")
			return nil
		}
		remaining = append(remaining, id)
		if parent, hasParent := tree.ParentOf(payload); hasParent {
			referenced[parent] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })
	return remaining, referenced, nil
}
