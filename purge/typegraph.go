package purge

import (
	"context"
	"fmt"

	"ocm.software/open-component-model/bindings/go/dag"

	"github.com/convergekit/converge/adapter"
	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/resource"
)

// typedPurge deletes a self-referencing kind in two phases. Instances
// referenced as a type by at least one other instance are withheld from
// the first pass; everything else is deleted normally. The withheld
// type-resources then form their own small graph along type-of-type
// chains and are deleted dependents-first. A cycle in that graph cannot
// be auto-resolved and fails this kind only; the coarse kind graph is
// acyclic by construction and unaffected.
func (r *run) typedPurge(
	ctx context.Context,
	current adapter.Adapter,
	typed adapter.SelfReferencing,
	result *KindResult,
) error {
	deleter := r.deleterFor(current)

	var ids []resource.Identifier
	typeRefs := make(map[resource.Identifier]resource.Identifier)
	referenced := make(map[resource.Identifier]struct{})

	err := current.Iterate(ctx, r.scope, func(payload map[string]any) error {
		id, err := current.IdentityOf(payload)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		if ref, hasRef := typed.TypeRefOf(payload); hasRef {
			typeRefs[id] = ref
			referenced[ref] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}
	result.Total = len(ids)

	var plain, withheld []resource.Identifier
	for _, id := range ids {
		if _, isType := referenced[id]; isType {
			withheld = append(withheld, id)
			continue
		}
		plain = append(plain, id)
	}

	for start := 0; start < len(plain); {
		end := min(start+r.size, len(plain))
		batch := plain[start:end]
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

	ordered, err := orderTypeResources(current.Kind(), withheld, typeRefs)
	if err != nil {
		return err
	}
	for _, id := range ordered {
		batch := []resource.Identifier{id}
		if err := r.cascadeChildren(ctx, current, batch); err != nil {
			return err
		}
		count, err := deleter.deleteBatch(ctx, batch)
		result.Deleted += count
		if err != nil {
			return err
		}
	}
	return nil
}

// orderTypeResources sorts the withheld type-resources so that every
// instance is deleted before the type it references.
func orderTypeResources(
	kind resource.Kind,
	withheld []resource.Identifier,
	typeRefs map[resource.Identifier]resource.Identifier,
) ([]resource.Identifier, error) {
	if len(withheld) == 0 {
		return nil, nil
	}

	present := make(map[resource.Identifier]struct{}, len(withheld))
	for _, id := range withheld {
		present[id] = struct{}{}
	}

	acyclic := dag.NewDirectedAcyclicGraph[resource.Identifier]()
	for _, id := range withheld {
		if err := acyclic.AddVertex(id); err != nil {
			return nil, faults.NewTypedError(faults.InternalError, "building type graph", err)
		}
	}
	for _, id := range withheld {
		ref, hasRef := typeRefs[id]
		if !hasRef {
			continue
		}
		if _, stillPresent := present[ref]; !stillPresent {
			continue
		}
		if err := acyclic.AddEdge(id, ref); err != nil {
			return nil, faults.NewTypedError(
				faults.DependencyCycle,
				fmt.Sprintf("type-resources of kind %q form a reference cycle", kind),
				err,
			)
		}
	}

	// Topological order puts a type before what references it; deletion
	// runs the other way around.
	ordered, err := acyclic.TopologicalSort()
	if err != nil {
		return nil, faults.NewTypedError(
			faults.DependencyCycle,
			fmt.Sprintf("type-resources of kind %q form a reference cycle", kind),
			err,
		)
	}
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered, nil
}
