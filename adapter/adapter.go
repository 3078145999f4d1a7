package adapter

import (
	"context"

	"github.com/convergekit/converge/backend"
	"github.com/convergekit/converge/resource"
)

// Adapter is the per-kind capability interface. One implementation exists
// per resource kind; orchestrators never branch on the kind themselves.
//
// Any call may fail with faults.BackendUnavailable (retryable) or
// faults.BackendRejected (not retryable); orchestrators react differently
// to each.
type Adapter interface {
	Kind() resource.Kind

	// IdentityOf is pure and total over both local declaration payloads
	// and remote payloads.
	IdentityOf(payload map[string]any) (resource.Identifier, error)

	// Normalize projects a remote payload into the same shape as the raw
	// local declaration, suppressing server-assigned defaults the local
	// declaration did not specify.
	Normalize(remote map[string]any, localRaw map[string]any) (map[string]any, error)

	Retrieve(ctx context.Context, ids []resource.Identifier) ([]map[string]any, error)
	Create(ctx context.Context, batch []resource.Declaration) (int, error)
	Update(ctx context.Context, batch []resource.Declaration) (int, error)
	Delete(ctx context.Context, ids []resource.Identifier) (int, error)

	// Iterate streams every remote instance in scope. It is restartable
	// and is the subsystem's only network suspension point besides the
	// CRUD calls above.
	Iterate(ctx context.Context, scope backend.Scope, fn func(payload map[string]any) error) error

	Dependencies() []resource.Kind
	RequiredCapabilities(items []resource.Declaration, readOnly bool) []backend.Capability

	// SupportsUpdate reports whether a changed resource can be updated in
	// place; when false a change becomes delete-then-create.
	SupportsUpdate() bool
}

// SensitiveFielder lets an adapter declare attribute paths that must be
// redacted from emitted diffs.
type SensitiveFielder interface {
	SensitiveAttributes() []string
}

// Hierarchical marks a kind whose instances form a parent/child tree;
// children must be deleted before their parent.
type Hierarchical interface {
	ParentOf(payload map[string]any) (resource.Identifier, bool)
}

// SelfReferencing marks a kind whose instances may reference another
// instance of the same kind as their type; a resource must not be deleted
// before its type-resource.
type SelfReferencing interface {
	TypeRefOf(payload map[string]any) (resource.Identifier, bool)
}

// ChildAdapter marks a kind that is not a first-class purge target and
// exists only under instances of the parent kind. Its instances are
// deleted per parent batch, just before the parents.
type ChildAdapter interface {
	ParentKind() resource.Kind
	OwnerOf(payload map[string]any) (resource.Identifier, bool)
}

// ReferenceDetacher lets an adapter unlink cross-references before a
// batch is deleted; runs in the pipeline's process stage.
type ReferenceDetacher interface {
	DetachReferences(ctx context.Context, ids []resource.Identifier) error
}
