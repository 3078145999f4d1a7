package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/convergekit/converge/adapter"
	"github.com/convergekit/converge/backend"
	"github.com/convergekit/converge/graph"
	"github.com/convergekit/converge/internal/config"
	httpgw "github.com/convergekit/converge/internal/providers/backend/http"
	declfs "github.com/convergekit/converge/internal/providers/declarations/fs"
	declgit "github.com/convergekit/converge/internal/providers/declarations/git"
	"github.com/convergekit/converge/resource"
	"github.com/convergekit/converge/warnings"
)

// runtime is the per-invocation assembly: configuration, the backend
// gateway, the declaration source, and the adapter table derived from
// the kind catalog.
type runtime struct {
	cfg      config.Config
	registry *adapter.Registry
	graph    *graph.DependencyGraph
	verifier backend.Verifier
	warnings *warnings.Collector
	declared map[resource.Kind][]resource.Declaration
	dropped  []resource.LoadResult
	scope    backend.Scope
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(rootFlags.configDir)
	if err != nil {
		return nil, err
	}
	applyLogLevel(cfg.LogLevel)

	gateway, err := httpgw.NewGateway(cfg.Backend.BaseURL, cfg.Backend.Token,
		httpgw.WithRequestRate(cfg.Backend.RequestRate))
	if err != nil {
		return nil, err
	}

	source, err := openSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	specs, err := source.KindSpecs()
	if err != nil {
		return nil, err
	}
	adapters := make([]adapter.Adapter, 0, len(specs))
	for _, spec := range specs {
		current, err := adapter.NewSpecAdapter(spec, gateway)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, current)
	}
	registry, err := adapter.NewRegistry(adapters...)
	if err != nil {
		return nil, err
	}
	dependencies, err := graph.Build(registry)
	if err != nil {
		return nil, err
	}

	results, err := source.Load()
	if err != nil {
		return nil, err
	}
	var dropped []resource.LoadResult
	for _, result := range results {
		if result.Outcome == resource.LoadDrop {
			dropped = append(dropped, result)
			log.Warn().Str("reason", result.Reason).Msg("declaration dropped")
		}
	}

	return &runtime{
		cfg:      cfg,
		registry: registry,
		graph:    dependencies,
		verifier: gateway,
		warnings: warnings.NewCollector(),
		declared: declfs.ByKind(results),
		dropped:  dropped,
		scope: backend.Scope{
			Namespace: rootFlags.namespace,
			Dataset:   rootFlags.dataset,
		},
	}, nil
}

func openSource(ctx context.Context, cfg config.Config) (*declfs.Source, error) {
	if cfg.Declarations.GitURL != "" {
		return declgit.NewSource(ctx, declgit.Options{
			URL:    cfg.Declarations.GitURL,
			Branch: cfg.Declarations.GitBranch,
			Token:  cfg.Declarations.GitToken,
		})
	}
	return declfs.NewSource(cfg.Declarations.Dir), nil
}

// unknownKinds reports declared kinds missing from the catalog, so a
// typo fails loudly instead of silently applying nothing.
func (r *runtime) unknownKinds() error {
	known := make(map[resource.Kind]struct{})
	for _, kind := range r.registry.Kinds() {
		known[kind] = struct{}{}
	}
	for kind := range r.declared {
		if _, found := known[kind]; !found {
			return fmt.Errorf("declarations reference kind %q, which is not in the kind catalog", kind)
		}
	}
	return nil
}
