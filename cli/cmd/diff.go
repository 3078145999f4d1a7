package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/convergekit/converge/categorize"
)

func newDiffCommand() *cobra.Command {
	var (
		reconcile bool
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show what apply would change, without mutating anything",
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
				Verbose:   verbose,
				ReadOnly:  true,
			})

			renderDiffResult(cmd.OutOrStdout(), rt.graph.Order(), categorized, verbose)
			renderWarnings(cmd.OutOrStdout(), rt.warnings.List())
			if len(failed) > 0 {
				return errors.New("diff completed with failures")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "Also report remote resources with no local declaration")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show field-level differences (sensitive fields redacted)")
	return cmd
}
