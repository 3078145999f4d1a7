package testkit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/convergekit/converge/backend"
	"github.com/convergekit/converge/faults"
)

// Backend is a scripted in-memory implementation of backend.Client used
// across package tests. Hooks run before the default behavior; returning
// a non-nil error from a hook aborts the call with that error.
type Backend struct {
	mu sync.Mutex

	PageSize    int
	IDAttribute string

	collections map[string]map[string]map[string]any

	OnRetrieve func(collection string, ids []string) error
	OnCreate   func(collection string, items []map[string]any) error
	OnUpdate   func(collection string, items []map[string]any) error
	OnDelete   func(collection string, ids []string) error

	DeleteBatches map[string][][]string
}

func NewBackend() *Backend {
	return &Backend{
		PageSize:      100,
		IDAttribute:   "id",
		collections:   make(map[string]map[string]map[string]any),
		DeleteBatches: make(map[string][][]string),
	}
}

// TimeoutError mirrors the retryable condition a real gateway reports for
// a timed-out call.
func TimeoutError() error {
	return faults.NewTypedError(faults.BackendUnavailable, "request timed out", nil)
}

func RejectedError(message string) error {
	return faults.NewTypedError(faults.BackendRejected, message, nil)
}

// Seed stores items directly, bypassing hooks.
func (b *Backend) Seed(collection string, items ...map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range items {
		b.store(collection)[b.idOf(item)] = item
	}
}

func (b *Backend) Len(collection string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.collections[collection])
}

func (b *Backend) Has(collection string, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, found := b.collections[collection][id]
	return found
}

func (b *Backend) Retrieve(_ context.Context, collection string, ids []string) ([]map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OnRetrieve != nil {
		if err := b.OnRetrieve(collection, ids); err != nil {
			return nil, err
		}
	}

	// Unknown identifiers are ignored, matching the contract.
	var items []map[string]any
	for _, id := range ids {
		if item, found := b.collections[collection][id]; found {
			items = append(items, item)
		}
	}
	return items, nil
}

func (b *Backend) Create(_ context.Context, collection string, items []map[string]any) ([]map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OnCreate != nil {
		if err := b.OnCreate(collection, items); err != nil {
			return nil, err
		}
	}

	for _, item := range items {
		id := b.idOf(item)
		if _, exists := b.store(collection)[id]; exists {
			return nil, faults.NewTypedError(
				faults.BackendRejected,
				fmt.Sprintf("%s %q already exists", collection, id),
				nil,
			)
		}
		b.store(collection)[id] = item
	}
	return items, nil
}

func (b *Backend) Update(_ context.Context, collection string, items []map[string]any) ([]map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OnUpdate != nil {
		if err := b.OnUpdate(collection, items); err != nil {
			return nil, err
		}
	}

	for _, item := range items {
		b.store(collection)[b.idOf(item)] = item
	}
	return items, nil
}

func (b *Backend) Delete(_ context.Context, collection string, ids []string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DeleteBatches[collection] = append(b.DeleteBatches[collection], append([]string{}, ids...))
	if b.OnDelete != nil {
		if err := b.OnDelete(collection, ids); err != nil {
			return 0, err
		}
	}

	deleted := 0
	for _, id := range ids {
		if _, found := b.collections[collection][id]; found {
			delete(b.collections[collection], id)
			deleted++
		}
	}
	return deleted, nil
}

func (b *Backend) Iterate(_ context.Context, collection string, scope backend.Scope, pageToken string) (backend.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Keyset pagination: the token is the last identifier already served,
	// so items deleted mid-iteration never shift the cursor.
	ids := make([]string, 0, len(b.collections[collection]))
	for id, item := range b.collections[collection] {
		if !b.inScope(item, scope) {
			continue
		}
		if pageToken != "" && id <= pageToken {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	end := min(b.PageSize, len(ids))

	page := backend.Page{}
	for _, id := range ids[:end] {
		page.Items = append(page.Items, b.collections[collection][id])
	}
	if end > 0 && end < len(ids) {
		page.NextToken = ids[end-1]
	}
	return page, nil
}

func (b *Backend) store(collection string) map[string]map[string]any {
	if b.collections[collection] == nil {
		b.collections[collection] = make(map[string]map[string]any)
	}
	return b.collections[collection]
}

func (b *Backend) idOf(item map[string]any) string {
	if id, ok := item[b.IDAttribute].(string); ok {
		return id
	}
	return fmt.Sprintf("%v", item[b.IDAttribute])
}

func (b *Backend) inScope(item map[string]any, scope backend.Scope) bool {
	if scope.Namespace != "" {
		if namespace, _ := item["namespace"].(string); namespace != scope.Namespace {
			return false
		}
	}
	if scope.Dataset != "" {
		if dataset, _ := item["dataset"].(string); dataset != scope.Dataset {
			return false
		}
	}
	return true
}
