package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convergekit/converge/purge"
	"github.com/convergekit/converge/resource"
)

func newPurgeCommand() *cobra.Command {
	var (
		roots   []string
		confirm bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every resource in scope, dependents first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			if rt.scope.IsZero() {
				return errors.New("purge requires --namespace (and optionally --dataset)")
			}
			if !confirm {
				return fmt.Errorf("purge deletes every resource in namespace %q; re-run with --yes to proceed", rt.scope.Namespace)
			}

			rootKinds := make([]resource.Kind, len(roots))
			for idx, root := range roots {
				rootKinds[idx] = resource.Kind(root)
			}

			purger := purge.New(rt.registry, rt.graph, rt.warnings)
			result, err := purger.Purge(ctx, purge.Options{
				Scope:            rt.scope,
				Roots:            rootKinds,
				BatchSize:        rt.cfg.Purge.BatchSize,
				PipelineCapacity: rt.cfg.Pipeline.Capacity,
			})
			if err != nil {
				return err
			}

			renderPurgeResult(cmd.OutOrStdout(), result)
			renderWarnings(cmd.OutOrStdout(), rt.warnings.List())
			if result.Failed() || !result.FullyPurged {
				return errors.New("purge completed with failures")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&roots, "root", nil, "Restrict the purge to the dependency closure of these kinds (repeatable)")
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm the deletion")
	return cmd
}
