// Package report assembles the final Markdown history document from a run's
// analysis results: a header, the LLM-generated overview narrative, change
// statistics, and one chronological section per analyzed unit.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/historian/pkg/analysis"
	"github.com/Sumatoshi-tech/historian/pkg/classify"
)

// tierOrder fixes the display order for the change-statistics tier
// breakdown, independent of map iteration order.
var tierOrder = []string{classify.TierMajor, classify.TierModerate, classify.TierMinor, classify.TierMinorBatch}

// Generate renders the Markdown report and writes it to
// "<outputDir>/<projectName>_history.md", returning the written path.
func Generate(projectName, overview string, results []analysis.Result, units []classify.Unit, snapshotLabels []string, bp classify.Breakpoints, generatedAt, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	reportPath := filepath.Join(outputDir, projectName+"_history.md")

	var b strings.Builder
	writeHeader(&b, projectName, generatedAt)
	writeOverview(&b, overview)
	writeStatistics(&b, units, snapshotLabels, bp)
	writeVersionHistory(&b, results)

	if err := os.WriteFile(reportPath, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return reportPath, nil
}

func writeHeader(b *strings.Builder, projectName, generatedAt string) {
	fmt.Fprintf(b, "# Project History: %s\n\n", projectName)
	fmt.Fprintf(b, "*Generated %s*\n\n", generatedAt)
}

func writeOverview(b *strings.Builder, overview string) {
	b.WriteString("## Overview\n\n")
	b.WriteString(overview)
	b.WriteString("\n\n")
}

func writeStatistics(b *strings.Builder, units []classify.Unit, snapshotLabels []string, bp classify.Breakpoints) {
	tierCounts := map[string]int{}
	for _, u := range units {
		tierCounts[u.Tier]++
	}

	b.WriteString("## Change statistics\n\n")
	fmt.Fprintf(b, "- **Total snapshots:** %d\n", len(snapshotLabels))
	fmt.Fprintf(b, "- **Analysis units:** %d\n", len(units))
	for _, tier := range tierOrder {
		if count, ok := tierCounts[tier]; ok {
			fmt.Fprintf(b, "  - %s: %d\n", strings.ReplaceAll(tier, "_", " "), count)
		}
	}
	if len(snapshotLabels) > 0 {
		fmt.Fprintf(b, "- **Date range:** %s to %s\n", snapshotLabels[0], snapshotLabels[len(snapshotLabels)-1])
	}
	fmt.Fprintf(b, "- **Breakpoint method:** %s\n", bp.Stats.Method)
	fmt.Fprintf(b, "- **Thresholds:** minor <= %.4f, major >= %.4f\n\n", bp.MinorThreshold, bp.MajorThreshold)
}

func writeVersionHistory(b *strings.Builder, results []analysis.Result) {
	b.WriteString("## Version history\n\n")

	for _, r := range results {
		labelRange := fmt.Sprintf("%s -> %s", r.SnapshotLabels[0], r.SnapshotLabels[len(r.SnapshotLabels)-1])
		marker := ""
		switch r.Tier {
		case classify.TierMajor:
			marker = " (major change)"
		case classify.TierMinorBatch:
			marker = " (minor changes)"
		}
		fmt.Fprintf(b, "### %s%s\n\n", labelRange, marker)

		fs := r.FilesSummary
		var parts []string
		if len(fs.Modified) > 0 {
			parts = append(parts, fmt.Sprintf("%d modified", len(fs.Modified)))
		}
		if len(fs.Added) > 0 {
			parts = append(parts, fmt.Sprintf("%d added", len(fs.Added)))
		}
		if len(fs.Removed) > 0 {
			parts = append(parts, fmt.Sprintf("%d removed", len(fs.Removed)))
		}
		if len(fs.Moved) > 0 {
			parts = append(parts, fmt.Sprintf("%d moved", len(fs.Moved)))
		}
		if len(parts) > 0 {
			fmt.Fprintf(b, "**Files changed:** %s\n\n", strings.Join(parts, ", "))
		}

		b.WriteString(r.Narrative)
		b.WriteString("\n\n")

		if len(fs.Modified)+len(fs.Added)+len(fs.Removed)+len(fs.Moved) > 0 {
			b.WriteString("<details><summary>File details</summary>\n\n")
			writeFileList(b, "Modified", fs.Modified)
			writeFileList(b, "Added", fs.Added)
			writeFileList(b, "Removed", fs.Removed)
			if len(fs.Moved) > 0 {
				b.WriteString("**Moved:**\n")
				for _, m := range fs.Moved {
					fmt.Fprintf(b, "- %s -> %s\n", m.From, m.To)
				}
				b.WriteString("\n")
			}
			b.WriteString("</details>\n\n")
		}

		b.WriteString("---\n\n")
	}
}

func writeFileList(b *strings.Builder, label string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s:**\n", label)
	for _, p := range paths {
		fmt.Fprintf(b, "- %s\n", p)
	}
	b.WriteString("\n")
}
