package cli

import (
	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/logging"

	// Built-in providers register themselves on import.
	_ "github.com/stackform-io/stackform/providers/aws"
	_ "github.com/stackform-io/stackform/providers/null"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "stackform",
	Short: "Declarative cloud infrastructure reconciliation",
	Long: `Stackform reconciles declared cloud resources against what actually
exists: it loads the desired state from PKL configuration, diffs it
against the last-applied state, orders operations over the dependency
graph, and executes them with retry and incremental state persistence.`,
	SilenceUsage: true,
	// main prints errors itself; without this cobra would also echo the
	// pending-changes sentinel that plan uses for its exit code.
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(taintCmd)
	rootCmd.AddCommand(untaintCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)
}
