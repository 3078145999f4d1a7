package backend

import "context"

// Capability is an opaque authorization descriptor, e.g. "space:write".
type Capability string

// Verifier checks granted capabilities ahead of mutating calls. An empty
// missing slice means the caller is authorized.
type Verifier interface {
	Verify(ctx context.Context, required []Capability) (missing []Capability, err error)
}

// Scope names the container whose resources a run operates on: a
// namespace, optionally narrowed to one dataset.
type Scope struct {
	Namespace string
	Dataset   string
}

func (s Scope) IsZero() bool {
	return s.Namespace == "" && s.Dataset == ""
}

type Page struct {
	Items     []map[string]any
	NextToken string
}

// Client is the capability-scoped bulk CRUD contract the remote backend
// exposes. Retrieve follows ignore-unknown-ids semantics: identifiers with
// no remote counterpart are simply absent from the result. All calls may
// fail transiently; implementations classify errors through the faults
// taxonomy.
type Client interface {
	Retrieve(ctx context.Context, collection string, ids []string) ([]map[string]any, error)
	Create(ctx context.Context, collection string, items []map[string]any) ([]map[string]any, error)
	Update(ctx context.Context, collection string, items []map[string]any) ([]map[string]any, error)
	Delete(ctx context.Context, collection string, ids []string) (int, error)
	Iterate(ctx context.Context, collection string, scope Scope, pageToken string) (Page, error)
}

// StaticVerifier grants a fixed capability set; the zero value grants
// nothing.
type StaticVerifier struct {
	Granted map[Capability]struct{}
}

func NewStaticVerifier(granted ...Capability) *StaticVerifier {
	set := make(map[Capability]struct{}, len(granted))
	for _, capability := range granted {
		set[capability] = struct{}{}
	}
	return &StaticVerifier{Granted: set}
}

func (v *StaticVerifier) Verify(_ context.Context, required []Capability) ([]Capability, error) {
	var missing []Capability
	for _, capability := range required {
		if v == nil {
			missing = append(missing, capability)
			continue
		}
		if _, found := v.Granted[capability]; !found {
			missing = append(missing, capability)
		}
	}
	return missing, nil
}
