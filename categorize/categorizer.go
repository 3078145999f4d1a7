package categorize

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/convergekit/converge/adapter"
	"github.com/convergekit/converge/backend"
	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/resource"
	"github.com/convergekit/converge/warnings"
)

const DefaultChunkSize = 100

type Options struct {
	// ChunkSize bounds each remote retrieval, keeping memory proportional
	// to the chunk rather than the declared set.
	ChunkSize int

	// Reconcile requests whole-kind reconciliation: remote instances with
	// no local declaration land in ToDelete. Without it ToDelete only
	// holds replaced resources.
	Reconcile bool
	Scope     backend.Scope

	// Verbose emits redacted field-level diff entries for every changed
	// identifier.
	Verbose bool

	// ReadOnly pre-flights read capabilities only (diff without apply).
	ReadOnly bool
}

// Categorization partitions one kind's declarations against remote
// state. Every declared identifier appears in exactly one of
// ToCreate/ToUpdate/Unchanged; a changed resource of a kind without
// update capability appears in ToDelete and ToCreate (replace).
type Categorization struct {
	Kind       resource.Kind
	ToCreate   []resource.Declaration
	ToUpdate   []resource.Declaration
	ToDelete   []resource.Identifier
	Unchanged  []resource.Identifier
	Duplicates []resource.Identifier
	Diffs      []resource.DiffEntry
}

type Categorizer struct {
	registry *adapter.Registry
	verifier backend.Verifier
	warnings *warnings.Collector
}

func New(registry *adapter.Registry, verifier backend.Verifier, collector *warnings.Collector) *Categorizer {
	return &Categorizer{registry: registry, verifier: verifier, warnings: collector}
}

// Categorize compares the declared set for one kind against remote state.
// It performs no mutations: running it twice without an intervening apply
// yields identical assignments.
func (c *Categorizer) Categorize(
	ctx context.Context,
	kind resource.Kind,
	declarations []resource.Declaration,
	opts Options,
) (Categorization, error) {
	result := Categorization{Kind: kind}
	if c == nil || c.registry == nil {
		return result, faults.NewTypedError(faults.InternalError, "categorizer is not configured", nil)
	}

	current, err := c.registry.Adapter(kind)
	if err != nil {
		return result, err
	}

	declared, identifiers, duplicates, err := c.dedupe(current, declarations)
	if err != nil {
		return result, err
	}
	result.Duplicates = duplicates

	if err := c.preflight(ctx, current, declared, opts.ReadOnly); err != nil {
		return result, err
	}

	remoteByID, err := c.retrieveDeclared(ctx, current, identifiers, opts.ChunkSize)
	if err != nil {
		return result, err
	}

	sensitive := sensitiveAttributes(current)
	for _, identifier := range identifiers {
		declaration := declared[identifier]
		remote, found := remoteByID[identifier]
		if !found {
			result.ToCreate = append(result.ToCreate, declaration)
			continue
		}

		localShaped, err := current.Normalize(declaration.Raw, declaration.Raw)
		if err != nil {
			return result, err
		}
		remoteShaped, err := current.Normalize(remote, declaration.Raw)
		if err != nil {
			return result, err
		}

		equal, err := resource.Equivalent(localShaped, remoteShaped)
		if err != nil {
			return result, err
		}
		if equal {
			result.Unchanged = append(result.Unchanged, identifier)
			continue
		}

		if opts.Verbose {
			entries := resource.BuildDiffEntries(identifier, localShaped, remoteShaped)
			result.Diffs = append(result.Diffs, resource.RedactDiffEntries(entries, sensitive)...)
		}

		if current.SupportsUpdate() {
			result.ToUpdate = append(result.ToUpdate, declaration)
			continue
		}
		// Replace: delete the remote instance, then recreate it.
		result.ToDelete = append(result.ToDelete, identifier)
		result.ToCreate = append(result.ToCreate, declaration)
	}

	if opts.Reconcile {
		if err := c.collectRemoteOnly(ctx, current, declared, opts.Scope, &result); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (c *Categorizer) dedupe(
	current adapter.Adapter,
	declarations []resource.Declaration,
) (map[resource.Identifier]resource.Declaration, []resource.Identifier, []resource.Identifier, error) {
	declared := make(map[resource.Identifier]resource.Declaration, len(declarations))
	identifiers := make([]resource.Identifier, 0, len(declarations))
	var duplicates []resource.Identifier

	for _, declaration := range declarations {
		identifier, err := current.IdentityOf(declaration.Raw)
		if err != nil {
			return nil, nil, nil, err
		}
		if _, seen := declared[identifier]; seen {
			duplicates = append(duplicates, identifier)
			c.warnings.Add(warnings.Warning{
				Severity:   warnings.SeverityMedium,
				Kind:       current.Kind(),
				Identifier: identifier,
				Message:    "duplicate declaration dropped",
				Err:        faults.NewTypedError(faults.DuplicateIdentifier, string(identifier), nil),
			})
			continue
		}
		declared[identifier] = declaration
		identifiers = append(identifiers, identifier)
	}
	return declared, identifiers, duplicates, nil
}

// preflight verifies required capabilities once, in bulk, before any
// mutating call is issued for the kind.
func (c *Categorizer) preflight(
	ctx context.Context,
	current adapter.Adapter,
	declared map[resource.Identifier]resource.Declaration,
	readOnly bool,
) error {
	if c.verifier == nil {
		return nil
	}

	items := make([]resource.Declaration, 0, len(declared))
	for _, declaration := range declared {
		items = append(items, declaration)
	}

	required := current.RequiredCapabilities(items, readOnly)
	missing, err := c.verifier.Verify(ctx, required)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return faults.NewTypedError(
			faults.AuthorizationGap,
			fmt.Sprintf("kind %q requires capabilities %v", current.Kind(), missing),
			nil,
		)
	}
	return nil
}

func (c *Categorizer) retrieveDeclared(
	ctx context.Context,
	current adapter.Adapter,
	identifiers []resource.Identifier,
	chunkSize int,
) (map[resource.Identifier]map[string]any, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	remoteByID := make(map[resource.Identifier]map[string]any)
	for start := 0; start < len(identifiers); start += chunkSize {
		end := min(start+chunkSize, len(identifiers))

		items, err := current.Retrieve(ctx, identifiers[start:end])
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			identifier, err := current.IdentityOf(item)
			if err != nil {
				return nil, err
			}
			remoteByID[identifier] = item
		}
	}
	return remoteByID, nil
}

func (c *Categorizer) collectRemoteOnly(
	ctx context.Context,
	current adapter.Adapter,
	declared map[resource.Identifier]resource.Declaration,
	scope backend.Scope,
	result *Categorization,
) error {
	return current.Iterate(ctx, scope, func(payload map[string]any) error {
		identifier, err := current.IdentityOf(payload)
		if err != nil {
			log.Debug().
				Str("kind", current.Kind().String()).
				Err(err).
				Msg("skipping remote item without identity")
			return nil
		}
		if _, found := declared[identifier]; !found {
			result.ToDelete = append(result.ToDelete, identifier)
		}
		return nil
	})
}

func sensitiveAttributes(current adapter.Adapter) []string {
	if fielder, ok := current.(adapter.SensitiveFielder); ok {
		return fielder.SensitiveAttributes()
	}
	return nil
}
