package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/convergekit/converge/apply"
	"github.com/convergekit/converge/categorize"
	"github.com/convergekit/converge/resource"
	"github.com/convergekit/converge/warnings"
)

func newApplyCommand() *cobra.Command {
	var (
		reconcile bool
		failFast  bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Make the backend match the declared resources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			if err := rt.unknownKinds(); err != nil {
				return err
			}

			categorized, failed := categorizeAll(ctx, rt, categorize.Options{
				ChunkSize: rt.cfg.Apply.ChunkSize,
				Reconcile: reconcile,
				Scope:     rt.scope,
			})

			orchestrator := apply.New(rt.registry, rt.graph, rt.warnings)
			result, runErr := orchestrator.Apply(ctx, categorized, apply.Options{
				BatchSize:   rt.cfg.Apply.BatchSize,
				FailFast:    failFast || rt.cfg.Apply.FailFast,
				FailedKinds: failed,
			})

			renderApplyResult(cmd.OutOrStdout(), result, failed)
			renderWarnings(cmd.OutOrStdout(), rt.warnings.List())
			if runErr != nil {
				return runErr
			}
			if result.Failed() || len(failed) > 0 {
				return errors.New("apply completed with failures")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "Also delete remote resources with no local declaration")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop at the first failing kind")
	return cmd
}

// categorizeAll diffs every declared kind. A kind whose categorization
// fails (e.g. an authorization gap) is reported and excluded; its
// dependents are skipped downstream rather than failing the whole run.
func categorizeAll(
	ctx context.Context,
	rt *runtime,
	opts categorize.Options,
) (map[resource.Kind]categorize.Categorization, []resource.Kind) {
	categorizer := categorize.New(rt.registry, rt.verifier, rt.warnings)
	categorized := make(map[resource.Kind]categorize.Categorization, len(rt.declared))
	var failed []resource.Kind

	for kind, declarations := range rt.declared {
		categorization, err := categorizer.Categorize(ctx, kind, declarations, opts)
		if err != nil {
			failed = append(failed, kind)
			rt.warnings.Add(warnings.Warning{
				Severity: warnings.SeverityHigh,
				Kind:     kind,
				Message:  "categorization failed for kind",
				Err:      err,
			})
			continue
		}
		categorized[kind] = categorization
	}
	return categorized, failed
}
