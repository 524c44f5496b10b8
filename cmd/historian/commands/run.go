package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/historian/pkg/analysis"
	"github.com/Sumatoshi-tech/historian/pkg/config"
	"github.com/Sumatoshi-tech/historian/pkg/driver"
	"github.com/Sumatoshi-tech/historian/pkg/interactionlog"
	"github.com/Sumatoshi-tech/historian/pkg/observability"
)

// NewRunCommand creates the run command: reconstructs one project's
// development history from its zip snapshots. verbose/quiet are the root
// command's persistent flags.
func NewRunCommand(verbose, quiet *bool) *cobra.Command {
	f := &commonFlags{}

	var planOnly bool

	cmd := &cobra.Command{
		Use:   "run [project-name]",
		Short: "Reconstruct a project's development history",
		Long: `Discovers a project's zip snapshots, diffs consecutive snapshots, classifies
each transition by change magnitude, analyzes it with an LLM, and writes a
Markdown report. Resumes from any previously completed units.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, f, args[0], planOnly, *quiet, f.debugTrace || *verbose)
		},
	}

	f.register(cmd)
	cmd.Flags().BoolVar(&planOnly, "plan-only", false, "Stop after printing the classification plan, without calling the model")

	return cmd
}

func runRun(cmd *cobra.Command, f *commonFlags, projectName string, planOnly, quiet, verbose bool) error {
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

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger := providers.Logger.With("project", projectName)
	if logLevel == slog.LevelDebug {
		logger.Debug("verbose logging enabled")
	}

	unitMetrics, err := observability.NewUnitMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("init unit metrics: %w", err)
	}

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

	out := cmd.OutOrStdout()
	if quiet {
		out = nil
	}

	d := &driver.Driver{
		Config: cfg,
		Engine: &analysis.Engine{
			Provider:       buildProvider(f),
			Cache:          cache,
			Model:          model.Model,
			Logger:         logger,
			InteractionLog: runLog,
		},
		Logger:  logger,
		Metrics: unitMetrics,
		Out:     out,
	}

	result, err := d.Run(ctx, driver.RunOptions{ProjectName: projectName, PlanOnly: planOnly})
	if err != nil {
		color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "run failed: %v\n", err) //nolint:errcheck
		return err
	}

	if result.ReportPath != "" {
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "report written to %s\n", result.ReportPath) //nolint:errcheck
	}

	return nil
}
