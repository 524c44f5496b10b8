package analysis

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/historian/pkg/classify"
	"github.com/Sumatoshi-tech/historian/pkg/llmprovider"
	"github.com/Sumatoshi-tech/historian/pkg/snapshotdiff"
	"github.com/Sumatoshi-tech/historian/pkg/toolloop"
)

// overviewOneshotThreshold is the number of transitions at or below which
// GenerateOverview uses a single one-shot call instead of a tool-assisted
// conversation.
const overviewOneshotThreshold = 10

// GenerateProjectSummary produces a detailed architectural summary from the
// first snapshot's contents, used as stable cached context for every
// subsequent change analysis call.
func (e *Engine) GenerateProjectSummary(ctx context.Context, fileListing []string, fileContents, statusDocs map[string]string, projectName string) (string, error) {
	cacheParts := []string{
		fmt.Sprintf("Project: %s\n\nFile listing (%d files):\n%s\n\nSource code:%s",
			projectName, len(fileListing), joinLines(fileListing), buildSourceContext(fileContents)) +
			formatStatusDocsBlock(statusDocs),
	}

	query := "Provide a detailed architectural summary of this project. Include:\n" +
		"1. The project's purpose and what it does\n" +
		"2. The programming language(s) and key technologies/frameworks used\n" +
		"3. For each significant file or module: its purpose, key classes/functions, " +
		"and how it relates to other modules\n" +
		"4. The overall architecture and design patterns used\n" +
		"5. Any notable implementation details or patterns\n\n" +
		"Be thorough but concise. This summary will be used as context when analyzing " +
		"future code changes to this project."

	return e.query(ctx, cacheParts, query, 4000)
}

// RefreshProjectSummary re-generates the project summary after a major
// change (an inflection point), using the updated source as context.
func (e *Engine) RefreshProjectSummary(ctx context.Context, oldSummary string, fileContents, statusDocs map[string]string, projectName string) (string, error) {
	cacheParts := []string{
		fmt.Sprintf("Project: %s\n\nPrevious architectural summary:\n%s\n\nCurrent source code:%s",
			projectName, oldSummary, buildSourceContext(fileContents)) + formatStatusDocsBlock(statusDocs),
	}

	query := "The project has undergone significant changes since the previous summary. " +
		"Provide an updated architectural summary reflecting the current state. " +
		"Note what has changed from the previous architecture."

	return e.query(ctx, cacheParts, query, 4000)
}

func joinLines(items []string) string {
	out := ""
	for _, f := range items {
		out += "\n  " + f
	}
	return out
}

// AnalyzeMinorBatch analyzes a batch of consecutive minor transitions with a
// single call.
func (e *Engine) AnalyzeMinorBatch(ctx context.Context, unit classify.Unit, diffs []snapshotdiff.Diff, snapshotLabels []string, projectSummary, projectName string) (Result, error) {
	labels := make([][2]string, 0, len(unit.Transitions))
	batchDiffs := make([]snapshotdiff.Diff, 0, len(unit.Transitions))
	summaries := make([]FilesSummary, 0, len(unit.Transitions))
	for _, idx := range unit.Transitions {
		batchDiffs = append(batchDiffs, diffs[idx])
		labels = append(labels, [2]string{snapshotLabels[idx], snapshotLabels[idx+1]})
		summaries = append(summaries, buildFilesSummary(diffs[idx]))
	}

	batchSummary := formatBatchSummary(batchDiffs, labels)
	merged := mergeFilesSummaries(summaries)

	cacheParts := []string{fmt.Sprintf("Project: %s\n\nProject Summary:\n%s", projectName, projectSummary)}
	query := fmt.Sprintf(
		"The following %d consecutive transitions represent a period of minor changes "+
			"in the project. Provide a brief overview of what work was done across these versions.\n\n%s",
		len(unit.Transitions), batchSummary)

	narrative, err := e.query(ctx, cacheParts, query, 2000)
	if err != nil {
		return Result{}, err
	}

	return Result{
		UnitIndex:      unit.Transitions[0],
		Tier:           unit.Tier,
		Narrative:      narrative,
		SnapshotLabels: []string{snapshotLabels[unit.SnapshotStart], snapshotLabels[unit.SnapshotEnd]},
		FilesSummary:   merged,
	}, nil
}

// AnalyzeMinorSingle analyzes a single minor transition.
func (e *Engine) AnalyzeMinorSingle(ctx context.Context, unit classify.Unit, diff snapshotdiff.Diff, oldLabel, newLabel, projectSummary, projectName string) (Result, error) {
	diffText := formatDiffForPrompt(diff)
	cacheParts := []string{fmt.Sprintf("Project: %s\n\nProject Summary:\n%s", projectName, projectSummary)}
	query := fmt.Sprintf(
		"Here are the changes between version %s and %s. Briefly summarize what was changed and why.\n\n%s",
		oldLabel, newLabel, diffText)

	narrative, err := e.query(ctx, cacheParts, query, 1500)
	if err != nil {
		return Result{}, err
	}
	return Result{
		UnitIndex:      unit.Transitions[0],
		Tier:           unit.Tier,
		Narrative:      narrative,
		SnapshotLabels: []string{oldLabel, newLabel},
		FilesSummary:   buildFilesSummary(diff),
	}, nil
}

// AnalyzeModerate analyzes a moderate transition with the full formatted diff.
func (e *Engine) AnalyzeModerate(ctx context.Context, unit classify.Unit, diff snapshotdiff.Diff, oldLabel, newLabel, projectSummary, projectName string) (Result, error) {
	diffText := formatDiffForPrompt(diff)
	cacheParts := []string{fmt.Sprintf("Project: %s\n\nProject Summary:\n%s", projectName, projectSummary)}
	query := fmt.Sprintf(
		"Analyze the changes between version %s and %s of the project.\n\n"+
			"Changes summary: %d files changed (%d added, %d removed, %d modified, %d moved), %d diff lines.\n\n%s\n\n"+
			"Describe:\n1. What was changed\n2. The likely motivation for these changes\n"+
			"3. Any patterns you observe (bug fixes, new features, refactoring, etc.)\n"+
			"4. If status documents changed, note what the developer said about their work",
		oldLabel, newLabel, diff.FilesChangedCount, len(diff.Added), len(diff.Removed),
		len(diff.Modified), len(diff.Moved), diff.TotalDiffLines, diffText)

	narrative, err := e.query(ctx, cacheParts, query, 3000)
	if err != nil {
		return Result{}, err
	}
	return Result{
		UnitIndex:      unit.Transitions[0],
		Tier:           unit.Tier,
		Narrative:      narrative,
		SnapshotLabels: []string{oldLabel, newLabel},
		FilesSummary:   buildFilesSummary(diff),
	}, nil
}

// AnalyzeMajor performs deep, tool-assisted analysis of a major transition:
// the model receives a compact change summary and pulls diffs, file
// contents, and listings on demand instead of a truncated prompt.
func (e *Engine) AnalyzeMajor(ctx context.Context, unit classify.Unit, diff snapshotdiff.Diff, oldLabel, newLabel, projectSummary, projectName string, oldZipPath, newZipPath string, diffOpts snapshotdiff.Options) (Result, error) {
	snapCtx := NewSnapshotContext(diff, oldZipPath, newZipPath, diffOpts)

	cachedContext := []string{
		fmt.Sprintf("Project: %s\n\nProject Summary:\n%s", projectName, projectSummary),
	}

	initialQuery := fmt.Sprintf(
		"MAJOR TRANSITION: %s -> %s\n\n"+
			"Change statistics:\n"+
			"  Files added:     %d\n"+
			"  Files removed:   %d\n"+
			"  Files modified:  %d\n"+
			"  Files moved:     %d\n"+
			"  Total diff lines: %d\n"+
			"  Total lines in new snapshot: %d\n\n"+
			"You have tools to explore this transition in detail. Use them to:\n"+
			"1. List the modified/added/removed files to understand the scope\n"+
			"2. Read diffs for files that seem significant\n"+
			"3. Read file contents when a diff needs more context\n"+
			"4. Check status docs for the developer's own notes\n\n"+
			"After investigating, write a comprehensive narrative covering:\n"+
			"- What changed at a high level\n"+
			"- Why these changes were likely made\n"+
			"- What problems were being solved\n"+
			"- The impact on the project's architecture\n"+
			"- Any lessons that can be inferred from the changes\n\n"+
			"Write in a clear, narrative style suitable for a project history document.",
		oldLabel, newLabel,
		len(diff.Added), len(diff.Removed), len(diff.Modified), len(diff.Moved),
		diff.TotalDiffLines, diff.TotalLinesInNew)

	narrative, err := e.runToolConversation(ctx, cachedContext, initialQuery, SnapshotTools, snapCtx.Handlers())
	if err != nil {
		return Result{}, err
	}

	return Result{
		UnitIndex:      unit.Transitions[0],
		Tier:           unit.Tier,
		Narrative:      narrative,
		SnapshotLabels: []string{oldLabel, newLabel},
		FilesSummary:   buildFilesSummary(diff),
	}, nil
}

// runToolConversation drives toolloop.Run against the engine's provider and
// model, using the writing-style block as shared cached context.
func (e *Engine) runToolConversation(ctx context.Context, cachedContext []string, initialQuery string, tools []llmprovider.ToolDef, handlers map[string]toolloop.Handler) (string, error) {
	allContext := append([]string{writingStyle}, cachedContext...)
	return toolloop.Run(ctx, e.Provider, e.Model, SystemMessage, allContext, initialQuery, tools,
		handlers, toolloop.Options{MaxTurns: 25, MaxTokens: 4000, Backoff: e.Backoff})
}

// AnalyzeUnit dispatches to the tier-appropriate analysis function.
func (e *Engine) AnalyzeUnit(ctx context.Context, unit classify.Unit, diffs []snapshotdiff.Diff, snapshotLabels []string, projectSummary, projectName string, snapshotPaths []string, diffOpts snapshotdiff.Options) (Result, error) {
	if unit.Tier == classify.TierMinorBatch {
		return e.AnalyzeMinorBatch(ctx, unit, diffs, snapshotLabels, projectSummary, projectName)
	}

	idx := unit.Transitions[0]
	diff := diffs[idx]
	oldLabel := snapshotLabels[idx]
	newLabel := snapshotLabels[idx+1]

	switch unit.Tier {
	case classify.TierMinor:
		return e.AnalyzeMinorSingle(ctx, unit, diff, oldLabel, newLabel, projectSummary, projectName)
	case classify.TierModerate:
		return e.AnalyzeModerate(ctx, unit, diff, oldLabel, newLabel, projectSummary, projectName)
	case classify.TierMajor:
		var oldZip, newZip string
		if len(snapshotPaths) > idx+1 {
			oldZip, newZip = snapshotPaths[idx], snapshotPaths[idx+1]
		}
		return e.AnalyzeMajor(ctx, unit, diff, oldLabel, newLabel, projectSummary, projectName, oldZip, newZip, diffOpts)
	default:
		return Result{}, fmt.Errorf("unknown tier: %s", unit.Tier)
	}
}

// GenerateOverview produces the final project-evolution narrative: a
// one-shot call for small transition counts, or a tool-assisted
// conversation for larger ones so the model can pull individual narratives
// on demand instead of concatenating everything into one prompt.
func (e *Engine) GenerateOverview(ctx context.Context, projectName string, results []Result, snapshotLabels []string) (string, error) {
	if len(results) <= overviewOneshotThreshold {
		return e.generateOverviewOneshot(ctx, projectName, results)
	}
	return e.generateOverviewToolAssisted(ctx, projectName, results, snapshotLabels)
}

func (e *Engine) generateOverviewOneshot(ctx context.Context, projectName string, results []Result) (string, error) {
	analysesText := ""
	for _, r := range results {
		labelRange := fmt.Sprintf("%s -> %s", r.SnapshotLabels[0], r.SnapshotLabels[len(r.SnapshotLabels)-1])
		analysesText += fmt.Sprintf("\n### %s (%s)\n%s\n", labelRange, r.Tier, r.Narrative)
	}

	cacheParts := []string{fmt.Sprintf(
		"Project: %s\n\nIndividual analysis results for %d transitions:\n%s",
		projectName, len(results), analysesText)}

	query := "Based on all the individual transition analyses above, write a high-level " +
		"narrative overview of this project's evolution. Cover:\n" +
		"1. What the project is and its overall purpose\n" +
		"2. The major phases of development\n" +
		"3. Key milestones and turning points\n" +
		"4. Significant challenges or roadblocks encountered and how they were addressed\n" +
		"5. Architectural evolution and design decisions\n" +
		"6. Lessons that can be inferred from the development history\n\n" +
		"Write in a clear, engaging narrative style. This is the executive summary " +
		"that readers will see first."

	return e.query(ctx, cacheParts, query, 4000)
}

func (e *Engine) generateOverviewToolAssisted(ctx context.Context, projectName string, results []Result, snapshotLabels []string) (string, error) {
	overviewCtx := &OverviewContext{Results: results, SnapshotLabels: snapshotLabels}

	transitionIndex := fmt.Sprintf("Project: %s\n\nTotal transitions: %d\n\nTransition index:\n", projectName, len(results))
	for i, r := range results {
		labelRange := fmt.Sprintf("%s -> %s", r.SnapshotLabels[0], r.SnapshotLabels[len(r.SnapshotLabels)-1])
		transitionIndex += fmt.Sprintf("  [%d] %s (tier: %s)\n", i, labelRange, r.Tier)
	}

	initialQuery := transitionIndex + "\n" +
		"You have tools to read individual transition narratives by index or range.\n" +
		"Use them to build a high-level narrative overview of this project's evolution.\n\n" +
		"Approach:\n" +
		"1. Read the major/moderate transitions first for key milestones\n" +
		"2. Sample minor transitions for context on incremental work\n" +
		"3. Write a cohesive narrative covering:\n" +
		"   - What the project is and its overall purpose\n" +
		"   - The major phases of development\n" +
		"   - Key milestones and turning points\n" +
		"   - Significant challenges or roadblocks encountered and how they were addressed\n" +
		"   - Architectural evolution and design decisions\n" +
		"   - Lessons that can be inferred from the development history\n\n" +
		"Write in a clear, engaging narrative style. This is the executive summary " +
		"that readers will see first."

	return e.runToolConversation(ctx, nil, initialQuery, OverviewTools, overviewCtx.Handlers())
}
