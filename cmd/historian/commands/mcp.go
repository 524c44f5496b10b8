package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/historian/pkg/mcp"
	"github.com/Sumatoshi-tech/historian/pkg/observability"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand() *cobra.Command {
	f := &commonFlags{}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start an MCP server exposing historian's pipeline as tools",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport. The server
exposes historian's analysis pipeline as tools that AI agents can discover
and invoke:
  - run_analysis: reconstruct a project's development history
  - list_projects: list every project discoverable in the zip directory
  - drill_down: deeply analyze a single transition between two snapshots`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd, f)
		},
	}

	f.register(cmd)

	return cmd
}

func runMCP(cmd *cobra.Command, f *commonFlags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	providers, err := initObservability(observability.ModeMCP, f.debugTrace)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	defer func() {
		if shutdownErr := providers.Shutdown(ctx); shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return err
	}

	unitMetrics, err := observability.NewUnitMetrics(providers.Meter)
	if err != nil {
		return err
	}

	srv := mcp.NewServer(mcp.ServerDeps{
		Config:      cfg,
		Provider:    buildProvider(f),
		Logger:      providers.Logger,
		Metrics:     red,
		UnitMetrics: unitMetrics,
		Tracer:      providers.Tracer,
	})

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}
