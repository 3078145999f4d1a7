package apply_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergekit/converge/adapter"
	"github.com/convergekit/converge/apply"
	"github.com/convergekit/converge/categorize"
	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/graph"
	"github.com/convergekit/converge/internal/testkit"
	"github.com/convergekit/converge/resource"
	"github.com/convergekit/converge/warnings"
)

type fixture struct {
	store        *testkit.Backend
	orchestrator *apply.Orchestrator
	warnings     *warnings.Collector
}

func newFixture(t *testing.T, specs ...*resource.KindSpec) fixture {
	t.Helper()
	store := testkit.NewBackend()

	adapters := make([]adapter.Adapter, 0, len(specs))
	for _, spec := range specs {
		current, err := adapter.NewSpecAdapter(spec, store)
		require.NoError(t, err)
		adapters = append(adapters, current)
	}
	registry, err := adapter.NewRegistry(adapters...)
	require.NoError(t, err)
	dependencies, err := graph.Build(registry)
	require.NoError(t, err)

	collector := warnings.NewCollector()
	return fixture{
		store:        store,
		orchestrator: apply.New(registry, dependencies, collector),
		warnings:     collector,
	}
}

func creates(kind resource.Kind, ids ...string) categorize.Categorization {
	categorization := categorize.Categorization{Kind: kind}
	for _, id := range ids {
		payload := map[string]any{"id": id}
		categorization.ToCreate = append(categorization.ToCreate, resource.Declaration{
			Kind: kind, Raw: payload, Write: payload,
		})
	}
	return categorization
}

func kindResult(t *testing.T, result apply.Result, kind resource.Kind) apply.KindResult {
	t.Helper()
	for _, entry := range result.Kinds {
		if entry.Name == kind {
			return entry
		}
	}
	t.Fatalf("no result recorded for kind %q", kind)
	return apply.KindResult{}
}

func TestApplyProcessesDependenciesFirst(t *testing.T) {
	f := newFixture(t,
		&resource.KindSpec{Name: "alpha", IdentityAttributes: []string{"id"}, SupportsUpdate: true},
		&resource.KindSpec{Name: "beta", IdentityAttributes: []string{"id"}, SupportsUpdate: true, DependsOn: []resource.Kind{"alpha"}},
	)

	var order []string
	f.store.OnCreate = func(collection string, _ []map[string]any) error {
		order = append(order, collection)
		return nil
	}

	result, err := f.orchestrator.Apply(context.Background(), map[resource.Kind]categorize.Categorization{
		"beta":  creates("beta", "b1"),
		"alpha": creates("alpha", "a1", "a2"),
	}, apply.Options{})
	require.NoError(t, err)
	assert.False(t, result.Failed())

	assert.Equal(t, []string{"alpha", "beta"}, order)
	assert.Equal(t, 2, kindResult(t, result, "alpha").Created)
	assert.Equal(t, 1, kindResult(t, result, "beta").Created)
	assert.NotEmpty(t, result.RunID)
}

func TestApplySkipsDependentsOfFailedKind(t *testing.T) {
	f := newFixture(t,
		&resource.KindSpec{Name: "alpha", IdentityAttributes: []string{"id"}, SupportsUpdate: true},
		&resource.KindSpec{Name: "beta", IdentityAttributes: []string{"id"}, SupportsUpdate: true, DependsOn: []resource.Kind{"alpha"}},
		&resource.KindSpec{Name: "gamma", IdentityAttributes: []string{"id"}, SupportsUpdate: true},
	)

	f.store.OnCreate = func(collection string, _ []map[string]any) error {
		if collection == "alpha" {
			return testkit.RejectedError("malformed payload")
		}
		return nil
	}

	result, err := f.orchestrator.Apply(context.Background(), map[resource.Kind]categorize.Categorization{
		"alpha": creates("alpha", "a1"),
		"beta":  creates("beta", "b1"),
		"gamma": creates("gamma", "g1"),
	}, apply.Options{})
	require.NoError(t, err, "without fail-fast the run itself completes")
	assert.True(t, result.Failed())

	alpha := kindResult(t, result, "alpha")
	require.Error(t, alpha.Err)
	assert.True(t, faults.IsCategory(alpha.Err, faults.BackendRejected))

	beta := kindResult(t, result, "beta")
	assert.True(t, beta.Skipped)
	assert.False(t, f.store.Has("beta", "b1"), "dependents of a failed kind must never be attempted")

	// gamma does not depend on alpha and still runs.
	gamma := kindResult(t, result, "gamma")
	assert.Equal(t, 1, gamma.Created)
	assert.True(t, f.store.Has("gamma", "g1"))

	assert.True(t, f.warnings.HasHighSeverity())
}

func TestApplySkipPropagatesTransitively(t *testing.T) {
	f := newFixture(t,
		&resource.KindSpec{Name: "alpha", IdentityAttributes: []string{"id"}, SupportsUpdate: true},
		&resource.KindSpec{Name: "beta", IdentityAttributes: []string{"id"}, SupportsUpdate: true, DependsOn: []resource.Kind{"alpha"}},
		&resource.KindSpec{Name: "gamma", IdentityAttributes: []string{"id"}, SupportsUpdate: true, DependsOn: []resource.Kind{"beta"}},
	)

	f.store.OnCreate = func(collection string, _ []map[string]any) error {
		if collection == "alpha" {
			return testkit.RejectedError("malformed payload")
		}
		return nil
	}

	result, err := f.orchestrator.Apply(context.Background(), map[resource.Kind]categorize.Categorization{
		"alpha": creates("alpha", "a1"),
		"beta":  creates("beta", "b1"),
		"gamma": creates("gamma", "g1"),
	}, apply.Options{})
	require.NoError(t, err)

	assert.True(t, kindResult(t, result, "beta").Skipped)
	assert.True(t, kindResult(t, result, "gamma").Skipped)
}

func TestApplyReplaceDeletesBeforeCreating(t *testing.T) {
	f := newFixture(t,
		&resource.KindSpec{Name: "view", IdentityAttributes: []string{"id"}},
	)
	f.store.Seed("view", map[string]any{"id": "v1", "rows": 1})

	var calls []string
	f.store.OnDelete = func(string, []string) error {
		calls = append(calls, "delete")
		return nil
	}
	f.store.OnCreate = func(string, []map[string]any) error {
		calls = append(calls, "create")
		return nil
	}

	replacement := map[string]any{"id": "v1", "rows": 2}
	result, err := f.orchestrator.Apply(context.Background(), map[resource.Kind]categorize.Categorization{
		"view": {
			Kind:     "view",
			ToDelete: []resource.Identifier{"v1"},
			ToCreate: []resource.Declaration{{Kind: "view", Raw: replacement, Write: replacement}},
		},
	}, apply.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"delete", "create"}, calls)
	view := kindResult(t, result, "view")
	assert.Equal(t, 1, view.Deleted)
	assert.Equal(t, 1, view.Created)
	assert.Equal(t, 1, f.store.Len("view"), "replaced instance present exactly once")
	assert.True(t, f.store.Has("view", "v1"))
}

func TestApplyCountsUnchangedWithoutBackendCalls(t *testing.T) {
	f := newFixture(t,
		&resource.KindSpec{Name: "view", IdentityAttributes: []string{"id"}, SupportsUpdate: true},
	)

	calls := 0
	f.store.OnCreate = func(string, []map[string]any) error { calls++; return nil }
	f.store.OnUpdate = func(string, []map[string]any) error { calls++; return nil }
	f.store.OnDelete = func(string, []string) error { calls++; return nil }

	result, err := f.orchestrator.Apply(context.Background(), map[resource.Kind]categorize.Categorization{
		"view": {Kind: "view", Unchanged: []resource.Identifier{"v1", "v2"}},
	}, apply.Options{})
	require.NoError(t, err)

	assert.Zero(t, calls)
	view := kindResult(t, result, "view")
	assert.Equal(t, 2, view.Unchanged)
	assert.Equal(t, 2, view.Total)
}

func TestApplyFailFastStopsTheRun(t *testing.T) {
	f := newFixture(t,
		&resource.KindSpec{Name: "alpha", IdentityAttributes: []string{"id"}, SupportsUpdate: true},
		&resource.KindSpec{Name: "gamma", IdentityAttributes: []string{"id"}, SupportsUpdate: true},
	)

	f.store.OnCreate = func(collection string, _ []map[string]any) error {
		if collection == "alpha" {
			return testkit.RejectedError("malformed payload")
		}
		return nil
	}

	result, err := f.orchestrator.Apply(context.Background(), map[resource.Kind]categorize.Categorization{
		"alpha": creates("alpha", "a1"),
		"gamma": creates("gamma", "g1"),
	}, apply.Options{FailFast: true})

	require.Error(t, err)
	assert.True(t, faults.IsCategory(err, faults.BackendRejected))
	require.Len(t, result.Kinds, 1, "fail-fast must not attempt further kinds")
	assert.False(t, f.store.Has("gamma", "g1"))
}

func TestApplyBatchesLargeSets(t *testing.T) {
	f := newFixture(t,
		&resource.KindSpec{Name: "view", IdentityAttributes: []string{"id"}, SupportsUpdate: true},
	)

	var batchSizes []int
	f.store.OnCreate = func(_ string, items []map[string]any) error {
		batchSizes = append(batchSizes, len(items))
		return nil
	}

	result, err := f.orchestrator.Apply(context.Background(), map[resource.Kind]categorize.Categorization{
		"view": creates("view", "a", "b", "c", "d", "e"),
	}, apply.Options{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, batchSizes)
	assert.Equal(t, 5, kindResult(t, result, "view").Created)
}
