package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/historian/pkg/analysis"
	"github.com/Sumatoshi-tech/historian/pkg/config"
	"github.com/Sumatoshi-tech/historian/pkg/driver"
	"github.com/Sumatoshi-tech/historian/pkg/interactionlog"
	"github.com/Sumatoshi-tech/historian/pkg/observability"
)

// NewDrillDownCommand creates the drill-down command: a single deep,
// tool-assisted analysis between two named snapshots, bypassing the full
// classification pipeline. quiet is the root command's persistent flag.
func NewDrillDownCommand(quiet *bool) *cobra.Command {
	f := &commonFlags{}

	cmd := &cobra.Command{
		Use:   "drill-down [project-name] [old-label] [new-label]",
		Short: "Deeply analyze a single transition between two named snapshots",
		Long: `Bypasses classification and planning: builds a synthetic single-transition
major-tier unit between old-label and new-label, reuses (or generates) the
cached project summary, and prints the narrative directly to stdout without
touching the resumable progress file.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrillDown(cmd, f, args[0], args[1], args[2], *quiet)
		},
	}

	f.register(cmd)

	return cmd
}

func runDrillDown(cmd *cobra.Command, f *commonFlags, projectName, oldLabel, newLabel string, quiet bool) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	if err := config.RequireRunnable(cfg); err != nil {
		return err
	}

	providers, err := initObservability(observability.ModeCLI, f.debugTrace)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer func() {
		if shutdownErr := providers.Shutdown(ctx); shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	cache, err := driver.OpenCache(cfg.Output.Directory, projectName)
	if err != nil {
		return fmt.Errorf("open response cache: %w", err)
	}

	if err := observability.RegisterCacheMetrics(providers.Meter, cache); err != nil {
		return fmt.Errorf("register cache metrics: %w", err)
	}

	runLog, err := interactionlog.Open(cfg.Output.Directory)
	if err != nil {
		return fmt.Errorf("open interaction log: %w", err)
	}

	model := cfg.Models[cfg.CurrentEngine]

	d := &driver.Driver{
		Config: cfg,
		Engine: &analysis.Engine{
			Provider:       buildProvider(f),
			Cache:          cache,
			Model:          model.Model,
			Logger:         providers.Logger,
			InteractionLog: runLog,
		},
		Logger: providers.Logger,
	}

	result, err := d.DrillDown(ctx, projectName, oldLabel, newLabel)
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n\n%s\n", oldLabel, newLabel, result.Tier, result.Narrative)
	}

	return nil
}
