package adapter

import (
	"context"
	"fmt"

	"github.com/convergekit/converge/backend"
	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/resource"
)

// SpecAdapter interprets a resource.KindSpec against the backend bulk
// CRUD contract. It is the single generic adapter implementation; kinds
// with tree, type-reference, or owned-child semantics get a thin wrapper
// that exposes the matching capability interface.
type SpecAdapter struct {
	spec   *resource.KindSpec
	client backend.Client
}

func NewSpecAdapter(spec *resource.KindSpec, client backend.Client) (Adapter, error) {
	if err := spec.Validate(); err != nil {
		return nil, faults.NewTypedError(faults.InternalError, "invalid kind spec", err)
	}
	if client == nil {
		return nil, faults.NewTypedError(faults.InternalError, "backend client is not configured", nil)
	}

	base := &SpecAdapter{spec: spec, client: client}
	switch {
	case base.spec.ParentAttribute != "":
		return &treeSpecAdapter{base}, nil
	case base.spec.TypeRefAttribute != "":
		return &typedSpecAdapter{base}, nil
	case base.spec.ParentKind != "":
		return &ownedSpecAdapter{base}, nil
	default:
		return base, nil
	}
}

func (a *SpecAdapter) Kind() resource.Kind {
	return a.spec.Name
}

func (a *SpecAdapter) IdentityOf(payload map[string]any) (resource.Identifier, error) {
	return a.spec.IdentityFrom(payload)
}

func (a *SpecAdapter) Normalize(remote map[string]any, localRaw map[string]any) (map[string]any, error) {
	projected := resource.SuppressDefaults(remote, localRaw)
	shaped, err := resource.ApplyCompareRules(projected, a.spec.Compare)
	if err != nil {
		return nil, err
	}
	if object, ok := shaped.(map[string]any); ok {
		return object, nil
	}
	// A jq expression may reduce the payload to a scalar; wrap it so both
	// sides keep comparing through the same path.
	return map[string]any{"value": shaped}, nil
}

func (a *SpecAdapter) Retrieve(ctx context.Context, ids []resource.Identifier) ([]map[string]any, error) {
	return a.client.Retrieve(ctx, a.spec.CollectionPath(), identifierStrings(ids))
}

func (a *SpecAdapter) Create(ctx context.Context, batch []resource.Declaration) (int, error) {
	created, err := a.client.Create(ctx, a.spec.CollectionPath(), writeObjects(batch))
	if err != nil {
		return 0, err
	}
	if created == nil {
		return len(batch), nil
	}
	return len(created), nil
}

func (a *SpecAdapter) Update(ctx context.Context, batch []resource.Declaration) (int, error) {
	updated, err := a.client.Update(ctx, a.spec.CollectionPath(), writeObjects(batch))
	if err != nil {
		return 0, err
	}
	if updated == nil {
		return len(batch), nil
	}
	return len(updated), nil
}

func (a *SpecAdapter) Delete(ctx context.Context, ids []resource.Identifier) (int, error) {
	return a.client.Delete(ctx, a.spec.CollectionPath(), identifierStrings(ids))
}

func (a *SpecAdapter) Iterate(ctx context.Context, scope backend.Scope, fn func(payload map[string]any) error) error {
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := a.client.Iterate(ctx, a.spec.CollectionPath(), scope, token)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

func (a *SpecAdapter) Dependencies() []resource.Kind {
	return append([]resource.Kind{}, a.spec.DependsOn...)
}

func (a *SpecAdapter) RequiredCapabilities(_ []resource.Declaration, readOnly bool) []backend.Capability {
	read := a.spec.ReadCapability
	if read == "" {
		read = fmt.Sprintf("%s:read", a.spec.Name)
	}
	required := []backend.Capability{backend.Capability(read)}
	if readOnly {
		return required
	}

	write := a.spec.WriteCapability
	if write == "" {
		write = fmt.Sprintf("%s:write", a.spec.Name)
	}
	return append(required, backend.Capability(write))
}

func (a *SpecAdapter) SupportsUpdate() bool {
	return a.spec.SupportsUpdate
}

func (a *SpecAdapter) SensitiveAttributes() []string {
	return append([]string{}, a.spec.SensitiveAttributes...)
}

func (a *SpecAdapter) referenceAttribute(payload map[string]any, attribute string) (resource.Identifier, bool) {
	value, found := resource.LookupAttribute(payload, attribute)
	if !found || value == nil {
		return "", false
	}
	text, ok := value.(string)
	if !ok || text == "" {
		return "", false
	}
	return resource.Identifier(text), true
}

type treeSpecAdapter struct {
	*SpecAdapter
}

func (a *treeSpecAdapter) ParentOf(payload map[string]any) (resource.Identifier, bool) {
	return a.referenceAttribute(payload, a.spec.ParentAttribute)
}

type typedSpecAdapter struct {
	*SpecAdapter
}

func (a *typedSpecAdapter) TypeRefOf(payload map[string]any) (resource.Identifier, bool) {
	return a.referenceAttribute(payload, a.spec.TypeRefAttribute)
}

type ownedSpecAdapter struct {
	*SpecAdapter
}

func (a *ownedSpecAdapter) ParentKind() resource.Kind {
	return a.spec.ParentKind
}

func (a *ownedSpecAdapter) OwnerOf(payload map[string]any) (resource.Identifier, bool) {
	return a.referenceAttribute(payload, a.spec.ParentRefAttribute)
}

func identifierStrings(ids []resource.Identifier) []string {
	out := make([]string, len(ids))
	for idx, id := range ids {
		out[idx] = string(id)
	}
	return out
}

func writeObjects(batch []resource.Declaration) []map[string]any {
	items := make([]map[string]any, 0, len(batch))
	for _, declaration := range batch {
		payload := declaration.Write
		if payload == nil {
			payload = declaration.Raw
		}
		items = append(items, payload)
	}
	return items
}
