// Package driver orchestrates a full project-history reconstruction run:
// snapshot discovery, local diffing, adaptive unit planning, LLM-assisted
// analysis with resumable checkpointing, and final report generation. It
// also supports a narrow "drill down" mode that analyzes a single named
// snapshot pair outside the full pipeline.
package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/historian/pkg/analysis"
	"github.com/Sumatoshi-tech/historian/pkg/classify"
	"github.com/Sumatoshi-tech/historian/pkg/config"
	"github.com/Sumatoshi-tech/historian/pkg/observability"
	"github.com/Sumatoshi-tech/historian/pkg/progress"
	"github.com/Sumatoshi-tech/historian/pkg/report"
	"github.com/Sumatoshi-tech/historian/pkg/respcache"
	"github.com/Sumatoshi-tech/historian/pkg/snapshotdiff"
	"github.com/Sumatoshi-tech/historian/pkg/snapshotdiscovery"
)

// Task names passed to Engine.FallbackModels selection via
// config.RetryConfig.FallbackModelsForTask, one per distinct kind of LLM
// call the driver makes.
const (
	taskProjectSummary = "project_summary"
	taskOverview       = "overview"
)

func taskForTier(tier string) string {
	return "analyze_" + tier
}

// Driver ties the component packages together into a runnable pipeline. The
// Engine's Model/Cache/Provider/Logger/Backoff are expected to already be
// populated by the caller (cmd/historian); Driver only varies
// Engine.FallbackModels per call, since the fallback chain differs by task.
type Driver struct {
	Config  *config.Config
	Engine  *analysis.Engine
	Logger  *slog.Logger
	Metrics *observability.UnitMetrics
	Out     io.Writer
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Driver) out() io.Writer {
	if d.Out != nil {
		return d.Out
	}
	return os.Stdout
}

func (d *Driver) printf(format string, args ...any) {
	fmt.Fprintf(d.out(), format, args...)
}

func (d *Driver) diffOptions() snapshotdiff.Options {
	return snapshotdiff.Options{BinaryExtensions: d.Config.BinaryExtensions}
}

// ProjectCount names a discoverable project and how many snapshots it has.
type ProjectCount struct {
	Name      string
	Snapshots int
}

// ListProjects reports every project discoverable under the configured zip
// directory, sorted by name.
func ListProjects(zipDirectory string) ([]ProjectCount, error) {
	counts, err := snapshotdiscovery.ListProjects(zipDirectory)
	if err != nil {
		return nil, err
	}

	names := snapshotdiscovery.SortedProjectNames(counts)
	out := make([]ProjectCount, 0, len(names))
	for _, name := range names {
		out = append(out, ProjectCount{Name: name, Snapshots: counts[name]})
	}
	return out, nil
}

// RunOptions configures a single Run call.
type RunOptions struct {
	ProjectName string
	// PlanOnly stops after printing the classification plan, before any
	// LLM calls are made.
	PlanOnly bool
}

// RunResult summarizes a completed (or plan-only) run.
type RunResult struct {
	SnapshotCount int
	UnitCount     int
	ReportPath    string
	PlanOnly      bool
}

// Run executes the full six-phase pipeline for one project: discovery,
// local diffing, unit planning, project understanding, per-unit analysis
// (skipping units already completed in a prior run), and report generation.
func (d *Driver) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	// Phase 1: discovery.
	snapshots, err := snapshotdiscovery.Discover(d.Config.ZipDirectory, opts.ProjectName)
	if err != nil {
		return RunResult{}, fmt.Errorf("discover snapshots: %w", err)
	}

	paths := make([]string, len(snapshots))
	labels := make([]string, len(snapshots))
	for i, s := range snapshots {
		paths[i] = s.Path
		labels[i] = s.Label
	}

	d.printf("Found %d snapshots for %s: %s -> %s\n",
		len(snapshots), opts.ProjectName, labels[0], labels[len(labels)-1])

	tracker := progress.Load(opts.ProjectName, d.Config.Output.Directory)
	snapshotsHash := progress.ComputeSnapshotsHash(paths)
	resuming := tracker.IsValidFor(snapshotsHash) && tracker.CompletedCount() > 0
	if !tracker.IsValidFor(snapshotsHash) {
		if err := tracker.Initialize(snapshotsHash, len(snapshots)); err != nil {
			return RunResult{}, fmt.Errorf("initialize progress tracker: %w", err)
		}
	}
	if resuming {
		d.printf("Resuming: %s\n", tracker.StatusSummary(len(snapshots)-1))
	} else {
		d.printf("Starting fresh analysis...\n")
	}

	// Phase 2: local diffing.
	diffOpts := d.diffOptions()
	diffs := make([]snapshotdiff.Diff, len(snapshots)-1)
	magnitudes := make([]float64, len(snapshots)-1)

	for i := 0; i < len(snapshots)-1; i++ {
		d.printf("  [%d/%d] %s -> %s...", i+1, len(snapshots)-1, labels[i], labels[i+1])

		diff, err := snapshotdiff.Compute(paths[i], paths[i+1], diffOpts)
		if err != nil {
			return RunResult{}, fmt.Errorf("diff %s -> %s: %w", labels[i], labels[i+1], err)
		}
		mag := classify.Magnitude(diff)

		diffs[i] = diff
		magnitudes[i] = mag

		d.printf(" %s files, %s lines, mag=%.4f\n",
			humanize.Comma(int64(diff.FilesChangedCount)), humanize.Comma(int64(diff.TotalDiffLines)), mag)
	}

	// Phase 3: planning.
	bp := classify.FindBreakpoints(magnitudes)
	units := classify.PlanAnalysisUnits(magnitudes, bp)
	d.printf("\n%s\n", classify.SummarizePlan(units, bp))

	if opts.PlanOnly {
		return RunResult{SnapshotCount: len(snapshots), UnitCount: len(units), PlanOnly: true}, nil
	}

	// Phase 4: project understanding.
	projectSummary, hasSummary := tracker.ProjectSummary()
	if !hasSummary {
		listing, contents, err := snapshotdiff.GetSnapshotFiles(paths[0], diffOpts)
		if err != nil {
			return RunResult{}, fmt.Errorf("read initial snapshot: %w", err)
		}
		statusDocs := extractStatusDocs(contents)

		d.Engine.FallbackModels = d.Config.Retry.FallbackModelsForTask(taskProjectSummary)
		projectSummary, err = d.Engine.GenerateProjectSummary(ctx, listing, contents, statusDocs, opts.ProjectName)
		if err != nil {
			return RunResult{}, fmt.Errorf("generate project summary: %w", err)
		}
		if err := tracker.SetProjectSummary(projectSummary); err != nil {
			return RunResult{}, fmt.Errorf("save project summary: %w", err)
		}
	}

	// Phase 5: per-unit analysis.
	results := make([]analysis.Result, len(units))
	for i, unit := range units {
		if tracker.IsUnitCompleted(i) {
			var cached analysis.Result
			if ok, err := tracker.UnitResult(i, &cached); err != nil {
				return RunResult{}, fmt.Errorf("load cached unit %d result: %w", i, err)
			} else if ok {
				results[i] = cached
				d.printf("  [%d/%d] (cached) %s\n", i+1, len(units), unit.Description)
				continue
			}
		}

		started := time.Now()
		d.printf("  [%d/%d] %s...", i+1, len(units), unit.Description)

		d.Engine.FallbackModels = d.Config.Retry.FallbackModelsForTask(taskForTier(unit.Tier))
		result, err := d.Engine.AnalyzeUnit(ctx, unit, diffs, labels, projectSummary, opts.ProjectName, paths, diffOpts)
		if err != nil {
			return RunResult{}, fmt.Errorf("analyze unit %d (%s): %w", i, unit.Tier, err)
		}
		d.printf(" done (%s)\n", time.Since(started).Round(time.Millisecond))

		if d.Metrics != nil {
			d.Metrics.RecordUnit(ctx, observability.UnitStats{
				Tier:     unit.Tier,
				Duration: time.Since(started),
			})
		}

		results[i] = result
		if err := tracker.MarkUnitCompleted(i, result); err != nil {
			return RunResult{}, fmt.Errorf("save unit %d result: %w", i, err)
		}

		if unit.IsInflectionPoint {
			if err := d.refreshProjectSummary(ctx, tracker, paths, diffOpts, projectSummary, opts.ProjectName, unit); err != nil {
				return RunResult{}, err
			}
			projectSummary, _ = tracker.ProjectSummary()
		}
	}

	// Phase 6: report generation.
	d.Engine.FallbackModels = d.Config.Retry.FallbackModelsForTask(taskOverview)
	overview, err := d.Engine.GenerateOverview(ctx, opts.ProjectName, results, labels)
	if err != nil {
		return RunResult{}, fmt.Errorf("generate overview: %w", err)
	}

	generatedAt := time.Now().Format("2006-01-02 15:04:05")
	reportPath, err := report.Generate(opts.ProjectName, overview, results, units, labels, bp, generatedAt, d.Config.Output.Directory)
	if err != nil {
		return RunResult{}, fmt.Errorf("write report: %w", err)
	}

	d.printf("\nReport written to %s\n", reportPath)
	d.logger().Info("run.complete", "project", opts.ProjectName, "units", len(units), "report", reportPath)

	return RunResult{
		SnapshotCount: len(snapshots),
		UnitCount:     len(units),
		ReportPath:    reportPath,
	}, nil
}

// refreshProjectSummary re-extracts the post-change snapshot and regenerates
// the architectural summary, called after an inflection-point unit.
func (d *Driver) refreshProjectSummary(ctx context.Context, tracker *progress.Tracker, paths []string, diffOpts snapshotdiff.Options, oldSummary, projectName string, unit classify.Unit) error {
	snapshotIdx := unit.SnapshotEnd
	if snapshotIdx >= len(paths) {
		snapshotIdx = len(paths) - 1
	}

	_, contents, err := snapshotdiff.GetSnapshotFiles(paths[snapshotIdx], diffOpts)
	if err != nil {
		return fmt.Errorf("read snapshot for summary refresh: %w", err)
	}
	statusDocs := extractStatusDocs(contents)

	d.Engine.FallbackModels = d.Config.Retry.FallbackModelsForTask(taskProjectSummary)
	refreshed, err := d.Engine.RefreshProjectSummary(ctx, oldSummary, contents, statusDocs, projectName)
	if err != nil {
		return fmt.Errorf("refresh project summary: %w", err)
	}
	if err := tracker.SetProjectSummary(refreshed); err != nil {
		return fmt.Errorf("save refreshed project summary: %w", err)
	}
	return nil
}

func extractStatusDocs(contents map[string]string) map[string]string {
	docs := make(map[string]string)
	for path, text := range contents {
		if snapshotdiff.IsStatusDoc(path) {
			docs[path] = text
		}
	}
	return docs
}

// DrillDown analyzes a single snapshot pair identified by label, bypassing
// the classification plan and progress tracker. oldLabel/newLabel are
// swapped automatically if given out of chronological order.
func (d *Driver) DrillDown(ctx context.Context, projectName, oldLabel, newLabel string) (analysis.Result, error) {
	snapshots, err := snapshotdiscovery.Discover(d.Config.ZipDirectory, projectName)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("discover snapshots: %w", err)
	}

	oldIdx, oldOK := findSnapshotByLabel(snapshots, oldLabel)
	newIdx, newOK := findSnapshotByLabel(snapshots, newLabel)
	if !oldOK || !newOK {
		available := make([]string, len(snapshots))
		for i, s := range snapshots {
			available[i] = s.Label
		}
		return analysis.Result{}, fmt.Errorf("snapshot label not found (available: %v)", available)
	}
	if oldIdx > newIdx {
		oldIdx, newIdx = newIdx, oldIdx
		oldLabel, newLabel = newLabel, oldLabel
	}

	diffOpts := d.diffOptions()
	tracker := progress.Load(projectName, d.Config.Output.Directory)

	projectSummary, hasSummary := tracker.ProjectSummary()
	if !hasSummary {
		listing, contents, err := snapshotdiff.GetSnapshotFiles(snapshots[0].Path, diffOpts)
		if err != nil {
			return analysis.Result{}, fmt.Errorf("read initial snapshot: %w", err)
		}
		statusDocs := extractStatusDocs(contents)

		d.Engine.FallbackModels = d.Config.Retry.FallbackModelsForTask(taskProjectSummary)
		projectSummary, err = d.Engine.GenerateProjectSummary(ctx, listing, contents, statusDocs, projectName)
		if err != nil {
			return analysis.Result{}, fmt.Errorf("generate project summary: %w", err)
		}
	}

	diff, err := snapshotdiff.Compute(snapshots[oldIdx].Path, snapshots[newIdx].Path, diffOpts)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("diff %s -> %s: %w", oldLabel, newLabel, err)
	}

	unit := classify.Unit{
		SnapshotStart:     0,
		SnapshotEnd:       1,
		Transitions:       []int{0},
		Tier:              classify.TierMajor,
		TotalMagnitude:    classify.Magnitude(diff),
		Description:       fmt.Sprintf("Drill-down: %s -> %s", oldLabel, newLabel),
		IsInflectionPoint: false,
	}

	d.Engine.FallbackModels = d.Config.Retry.FallbackModelsForTask(taskForTier(classify.TierMajor))
	result, err := d.Engine.AnalyzeMajor(ctx, unit, diff, oldLabel, newLabel, projectSummary, projectName,
		snapshots[oldIdx].Path, snapshots[newIdx].Path, diffOpts)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("analyze drill-down transition: %w", err)
	}
	return result, nil
}

func findSnapshotByLabel(snapshots []snapshotdiscovery.Info, label string) (int, bool) {
	for i, s := range snapshots {
		if s.Label == label {
			return i, true
		}
	}
	return 0, false
}

// OpenCache opens (creating if absent) the response cache historian uses
// for a given project's run, stored alongside its progress file.
func OpenCache(outputDir, projectName string) (*respcache.Cache, error) {
	cacheFile := filepath.Join(outputDir, projectName+"_cache.json")
	return respcache.Open(cacheFile, "")
}
