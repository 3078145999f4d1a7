package adapter

import (
	"fmt"
	"sort"

	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/resource"
)

// Registry is the immutable adapter table keyed by kind, built once per
// command invocation.
type Registry struct {
	adapters map[resource.Kind]Adapter
	kinds    []resource.Kind
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	table := make(map[resource.Kind]Adapter, len(adapters))
	for _, current := range adapters {
		if current == nil {
			return nil, faults.NewTypedError(faults.InternalError, "nil adapter registered", nil)
		}
		kind := current.Kind()
		if _, exists := table[kind]; exists {
			return nil, faults.NewTypedError(
				faults.InternalError,
				fmt.Sprintf("adapter for kind %q registered twice", kind),
				nil,
			)
		}
		table[kind] = current
	}

	kinds := make([]resource.Kind, 0, len(table))
	for kind := range table {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return &Registry{adapters: table, kinds: kinds}, nil
}

func (r *Registry) Adapter(kind resource.Kind) (Adapter, error) {
	if r == nil {
		return nil, faults.NewTypedError(faults.InternalError, "adapter registry is not configured", nil)
	}
	found, ok := r.adapters[kind]
	if !ok {
		return nil, faults.NewTypedError(
			faults.InternalError,
			fmt.Sprintf("no adapter registered for kind %q", kind),
			nil,
		)
	}
	return found, nil
}

// Kinds returns every registered kind in lexical order.
func (r *Registry) Kinds() []resource.Kind {
	if r == nil {
		return nil
	}
	return append([]resource.Kind{}, r.kinds...)
}

// CascadeChildren returns the registered child adapters owned by the
// given parent kind.
func (r *Registry) CascadeChildren(parent resource.Kind) []ChildAdapter {
	if r == nil {
		return nil
	}
	var children []ChildAdapter
	for _, kind := range r.kinds {
		child, ok := r.adapters[kind].(ChildAdapter)
		if ok && child.ParentKind() == parent {
			children = append(children, child)
		}
	}
	return children
}

// IsCascadeOnly reports whether the kind is deleted exclusively through
// its parent's purge and must not be scheduled as a first-class target.
func (r *Registry) IsCascadeOnly(kind resource.Kind) bool {
	if r == nil {
		return false
	}
	current, ok := r.adapters[kind]
	if !ok {
		return false
	}
	child, ok := current.(ChildAdapter)
	return ok && child.ParentKind() != ""
}
