package graph

import (
	"errors"
	"fmt"

	"ocm.software/open-component-model/bindings/go/dag"

	"github.com/convergekit/converge/adapter"
	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/resource"
)

// DependencyGraph is an immutable DAG over resource kinds, built once per
// command invocation from the static adapter table. An edge A -> B means
// "A depends on B": B is processed before A on apply and after A on purge.
type DependencyGraph struct {
	order      []resource.Kind
	deps       map[resource.Kind][]resource.Kind
	dependents map[resource.Kind][]resource.Kind
}

// Build validates the adapter table's dependency declarations and
// computes the topological order. A cycle is a fatal configuration error.
func Build(registry *adapter.Registry) (*DependencyGraph, error) {
	if registry == nil {
		return nil, faults.NewTypedError(faults.InternalError, "adapter registry is not configured", nil)
	}

	kinds := registry.Kinds()
	acyclic := dag.NewDirectedAcyclicGraph[resource.Kind]()
	for _, kind := range kinds {
		if err := acyclic.AddVertex(kind); err != nil {
			return nil, faults.NewTypedError(faults.InternalError, "building dependency graph", err)
		}
	}

	deps := make(map[resource.Kind][]resource.Kind, len(kinds))
	dependents := make(map[resource.Kind][]resource.Kind, len(kinds))
	for _, kind := range kinds {
		current, err := registry.Adapter(kind)
		if err != nil {
			return nil, err
		}
		for _, dependency := range current.Dependencies() {
			if err := acyclic.AddEdge(kind, dependency); err != nil {
				var cycleErr *dag.CycleError
				if errors.As(err, &cycleErr) {
					return nil, faults.NewTypedError(
						faults.DependencyCycle,
						fmt.Sprintf("kinds form a dependency cycle through %q", kind),
						err,
					)
				}
				return nil, faults.NewTypedError(
					faults.InternalError,
					fmt.Sprintf("kind %q depends on unregistered kind %q", kind, dependency),
					err,
				)
			}
			deps[kind] = append(deps[kind], dependency)
			dependents[dependency] = append(dependents[dependency], kind)
		}
	}

	order, err := acyclic.TopologicalSort()
	if err != nil {
		return nil, faults.NewTypedError(faults.DependencyCycle, "kinds form a dependency cycle", err)
	}

	return &DependencyGraph{order: order, deps: deps, dependents: dependents}, nil
}

// Order lists every kind with dependencies before dependents (apply
// order).
func (g *DependencyGraph) Order() []resource.Kind {
	if g == nil {
		return nil
	}
	return append([]resource.Kind{}, g.order...)
}

// ReverseOrder lists every kind with dependents before dependencies
// (purge order: nothing is deleted while something still depends on it).
func (g *DependencyGraph) ReverseOrder() []resource.Kind {
	if g == nil {
		return nil
	}
	reversed := make([]resource.Kind, len(g.order))
	for idx, kind := range g.order {
		reversed[len(g.order)-1-idx] = kind
	}
	return reversed
}

// Dependencies returns the direct dependencies of a kind.
func (g *DependencyGraph) Dependencies(kind resource.Kind) []resource.Kind {
	if g == nil {
		return nil
	}
	return append([]resource.Kind{}, g.deps[kind]...)
}

// Dependents returns the kinds that directly depend on the given kind.
func (g *DependencyGraph) Dependents(kind resource.Kind) []resource.Kind {
	if g == nil {
		return nil
	}
	return append([]resource.Kind{}, g.dependents[kind]...)
}

// Closure returns the kinds connected to the roots through dependency
// edges in either direction: the roots themselves, everything that
// transitively depends on them, and everything they transitively depend
// on. Kinds outside the closure are excluded from a purge run.
func (g *DependencyGraph) Closure(roots ...resource.Kind) map[resource.Kind]struct{} {
	closure := make(map[resource.Kind]struct{})
	if g == nil {
		return closure
	}

	var visit func(kind resource.Kind, edges map[resource.Kind][]resource.Kind)
	visit = func(kind resource.Kind, edges map[resource.Kind][]resource.Kind) {
		for _, next := range edges[kind] {
			if _, seen := closure[next]; seen {
				continue
			}
			closure[next] = struct{}{}
			visit(next, edges)
		}
	}

	for _, root := range roots {
		closure[root] = struct{}{}
		visit(root, g.deps)
		visit(root, g.dependents)
	}
	return closure
}

// PurgeOrder restricts the reverse order to the dependency closure of the
// given roots. With no roots every kind is a target.
func (g *DependencyGraph) PurgeOrder(roots ...resource.Kind) []resource.Kind {
	if g == nil {
		return nil
	}
	if len(roots) == 0 {
		return g.ReverseOrder()
	}

	closure := g.Closure(roots...)
	order := make([]resource.Kind, 0, len(closure))
	for _, kind := range g.ReverseOrder() {
		if _, included := closure[kind]; included {
			order = append(order, kind)
		}
	}
	return order
}
