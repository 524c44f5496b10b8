// Command historian reconstructs a project's development history from a
// directory of timestamped zip snapshots.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/historian/cmd/historian/commands"
	"github.com/Sumatoshi-tech/historian/pkg/version"
)

func main() {
	rootCmd := newRootCommand()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose, quiet bool

	cmd := &cobra.Command{
		Use:   "historian",
		Short: "Reconstruct project development history from zip snapshots",
		Long: `historian analyzes a directory of timestamped zip snapshots of a project,
diffs consecutive snapshots, classifies each transition by how much changed,
and uses a tool-calling LLM to narrate a development history report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	cmd.AddCommand(commands.NewRunCommand(&verbose, &quiet))
	cmd.AddCommand(commands.NewListProjectsCommand())
	cmd.AddCommand(commands.NewDrillDownCommand(&quiet))
	cmd.AddCommand(commands.NewMCPCommand())
	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print version information",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "historian %s (commit: %s, built: %s)\n",
				version.Version, version.Commit, version.Date)
			return err
		},
	}
}
