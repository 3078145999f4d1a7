package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootFlags struct {
	configDir string
	namespace string
	dataset   string
	logLevel  string
}

func Execute() error {
	return NewRootCommand().Execute()
}

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Converge declared resources with a remote backend",
		Long: `Converge compares locally declared resources against the state of a
remote backend and issues the creates, updates, and deletes needed to
make the backend match the declarations.`,
		Example: `  # Show what an apply would change, without mutating anything
  converge diff --namespace team-a

  # Apply the declared state
  converge apply --namespace team-a

  # Delete everything in a namespace, dependents first
  converge purge --namespace team-a`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().StringVar(&rootFlags.configDir, "config-dir", "", "Directory holding converge.yml (default: working directory)")
	cmd.PersistentFlags().StringVar(&rootFlags.namespace, "namespace", "", "Namespace scope for the run")
	cmd.PersistentFlags().StringVar(&rootFlags.dataset, "dataset", "", "Dataset scope within the namespace")
	cmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "", "Override the configured log level")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return configureLogging()
	}

	cmd.AddCommand(newApplyCommand())
	cmd.AddCommand(newDiffCommand())
	cmd.AddCommand(newPurgeCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func configureLogging() error {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return nil
}

// applyLogLevel runs after configuration is loaded so the file/env level
// applies, with the --log-level flag winning.
func applyLogLevel(configured string) {
	level := configured
	if rootFlags.logLevel != "" {
		level = rootFlags.logLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, keeping info")
		return
	}
	zerolog.SetGlobalLevel(parsed)
}
