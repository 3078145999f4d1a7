package purge

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/convergekit/converge/adapter"
	"github.com/convergekit/converge/internal/metrics"
	"github.com/convergekit/converge/resource"
)

// cascadeChildren deletes the owned children of a parent batch before
// the parents themselves go. Matching is computed per batch, not
// globally, so memory stays bounded by the batch. Child kinds that are
// first-class targets elsewhere in this run are left to their own pass.
func (r *run) cascadeChildren(ctx context.Context, parent adapter.Adapter, batch []resource.Identifier) error {
	children := r.purger.registry.CascadeChildren(parent.Kind())
	if len(children) == 0 || len(batch) == 0 {
		return nil
	}

	owners := make(map[resource.Identifier]struct{}, len(batch))
	for _, id := range batch {
		owners[id] = struct{}{}
	}

	for _, child := range children {
		childAdapter, ok := child.(adapter.Adapter)
		if !ok {
			continue
		}
		kind := childAdapter.Kind()
		if _, covered := r.covered[kind]; covered {
			continue
		}

		var owned []resource.Identifier
		err := childAdapter.Iterate(ctx, r.scope, func(payload map[string]any) error {
			owner, hasOwner := child.OwnerOf(payload)
			if !hasOwner {
				return nil
			}
			if _, match := owners[owner]; !match {
				return nil
			}
			id, err := childAdapter.IdentityOf(payload)
			if err != nil {
				log.Debug().
					Str("kind", kind.String()).
					Err(err).
					Msg("skipping child item without identity")
				return nil
			}
			owned = append(owned, id)
			return nil
		})
		if err != nil {
			return err
		}
		if len(owned) == 0 {
			continue
		}

		childResult := r.resultFor(kind)
		childResult.Total += len(owned)

		count, err := r.deleterFor(childAdapter).deleteAll(ctx, owned)
		childResult.Deleted += count
		metrics.ResourcesPurged(kind.String(), count)
		if err != nil {
			return err
		}
	}
	return nil
}
