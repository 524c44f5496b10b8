package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Sumatoshi-tech/historian/pkg/snapshotdiff"
)

const (
	maxDiffLinesPerFile    = 300
	maxTotalDiffForPrompt  = 5000
	maxSourceContextChars  = 100000
	maxListedFilesPerGroup = 10
)

func buildFilesSummary(diff snapshotdiff.Diff) FilesSummary {
	moved := make([]MovePair, 0, len(diff.Moved))
	for _, m := range diff.Moved {
		moved = append(moved, MovePair{From: m[0], To: m[1]})
	}
	modified := make([]string, 0, len(diff.Modified))
	for _, fd := range diff.Modified {
		modified = append(modified, fd.Path)
	}
	return FilesSummary{
		Added:    append([]string(nil), diff.Added...),
		Removed:  append([]string(nil), diff.Removed...),
		Modified: modified,
		Moved:    moved,
	}
}

func mergeFilesSummaries(summaries []FilesSummary) FilesSummary {
	merged := FilesSummary{}
	seenAdded := map[string]bool{}
	seenRemoved := map[string]bool{}
	seenModified := map[string]bool{}

	for _, s := range summaries {
		for _, f := range s.Added {
			if !seenAdded[f] {
				merged.Added = append(merged.Added, f)
				seenAdded[f] = true
			}
		}
		for _, f := range s.Removed {
			if !seenRemoved[f] {
				merged.Removed = append(merged.Removed, f)
				seenRemoved[f] = true
			}
		}
		for _, f := range s.Modified {
			if !seenModified[f] {
				merged.Modified = append(merged.Modified, f)
				seenModified[f] = true
			}
		}
		merged.Moved = append(merged.Moved, s.Moved...)
	}
	return merged
}

func truncateDiff(diffText string, maxLines int) string {
	lines := strings.Split(diffText, "\n")
	if len(lines) <= maxLines {
		return diffText
	}
	return strings.Join(lines[:maxLines], "\n") +
		fmt.Sprintf("\n... (%d more lines truncated)", len(lines)-maxLines)
}

// formatDiffForPrompt renders a snapshotdiff.Diff as prompt text: added,
// removed, moved file lists, then per-file modified diffs up to a total
// line budget, with status-doc diffs promoted to the front.
func formatDiffForPrompt(diff snapshotdiff.Diff) string {
	var sections []string

	if len(diff.Added) > 0 {
		var b strings.Builder
		b.WriteString("FILES ADDED:\n")
		for _, p := range diff.Added {
			b.WriteString("  + " + p + "\n")
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(diff.Removed) > 0 {
		var b strings.Builder
		b.WriteString("FILES REMOVED:\n")
		for _, p := range diff.Removed {
			b.WriteString("  - " + p + "\n")
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(diff.Moved) > 0 {
		var b strings.Builder
		b.WriteString("FILES MOVED:\n")
		for _, m := range diff.Moved {
			b.WriteString(fmt.Sprintf("  %s -> %s\n", m[0], m[1]))
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(diff.Modified) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "FILES MODIFIED (%d files):\n", len(diff.Modified))
		totalLinesSoFar := 0
		for i, fd := range diff.Modified {
			truncated := truncateDiff(fd.DiffText, maxDiffLinesPerFile)
			linesInThis := len(strings.Split(truncated, "\n"))

			if totalLinesSoFar+linesInThis > maxTotalDiffForPrompt {
				remaining := len(diff.Modified) - i
				fmt.Fprintf(&b, "\n  ... and %d more modified files (diffs omitted for length)\n", remaining)
				break
			}

			fmt.Fprintf(&b, "\n--- %s (%d lines changed) ---\n", fd.Path, fd.DiffLineCount)
			b.WriteString(truncated + "\n")
			totalLinesSoFar += linesInThis
		}
		sections = append(sections, b.String())
	}

	if len(diff.StatusDocDiffs) > 0 {
		var b strings.Builder
		b.WriteString("DEVELOPER STATUS DOCUMENT CHANGES:\n")
		b.WriteString("(These documents contain the developer's own notes about what they're working on)\n")
		for _, fd := range diff.StatusDocDiffs {
			fmt.Fprintf(&b, "\n--- %s ---\n", fd.Path)
			b.WriteString(truncateDiff(fd.DiffText, 200) + "\n")
		}
		sections = append([]string{b.String()}, sections...)
	}

	return strings.Join(sections, "\n\n")
}

func joinPreview(items []string, limit int) string {
	if len(items) == 0 {
		return ""
	}
	n := len(items)
	if n > limit {
		n = limit
	}
	s := strings.Join(items[:n], ", ")
	if len(items) > limit {
		s += fmt.Sprintf(" ... and %d more", len(items)-limit)
	}
	return s
}

// formatBatchSummary summarizes multiple consecutive transitions for a
// minor-batch unit prompt.
func formatBatchSummary(diffs []snapshotdiff.Diff, labels [][2]string) string {
	var sections []string
	for i, diff := range diffs {
		old, new := labels[i][0], labels[i][1]
		var b strings.Builder
		fmt.Fprintf(&b, "Transition %d: %s -> %s\n", i+1, old, new)
		fmt.Fprintf(&b, "  Files: %d changed (%d added, %d removed, %d modified, %d moved)\n",
			diff.FilesChangedCount, len(diff.Added), len(diff.Removed), len(diff.Modified), len(diff.Moved))
		fmt.Fprintf(&b, "  Diff lines: %d\n", diff.TotalDiffLines)
		if len(diff.Modified) > 0 {
			paths := make([]string, len(diff.Modified))
			for j, fd := range diff.Modified {
				paths[j] = fd.Path
			}
			b.WriteString("  Modified: " + joinPreview(paths, maxListedFilesPerGroup) + "\n")
		}
		if len(diff.Added) > 0 {
			b.WriteString("  Added: " + joinPreview(diff.Added, maxListedFilesPerGroup) + "\n")
		}
		if len(diff.Removed) > 0 {
			b.WriteString("  Removed: " + joinPreview(diff.Removed, maxListedFilesPerGroup) + "\n")
		}
		sections = append(sections, b.String())
	}
	return strings.Join(sections, "\n")
}

// buildSourceContext concatenates file contents up to a character budget,
// used as the stable, cacheable context for project-summary generation.
func buildSourceContext(fileContents map[string]string) string {
	paths := make([]string, 0, len(fileContents))
	for p := range fileContents {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	totalChars := 0
	included := 0
	for _, path := range paths {
		content := fileContents[path]
		if totalChars+len(content) > maxSourceContextChars {
			remaining := len(fileContents) - included
			fmt.Fprintf(&b, "\n... (%d more files not shown for length)", remaining)
			break
		}
		fmt.Fprintf(&b, "\n=== %s ===\n%s", path, content)
		totalChars += len(content)
		included++
	}
	return b.String()
}

func formatStatusDocsBlock(statusDocs map[string]string) string {
	if len(statusDocs) == 0 {
		return ""
	}
	paths := make([]string, 0, len(statusDocs))
	for p := range statusDocs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString("\n\nDeveloper documentation found in the project:\n")
	for _, p := range paths {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", p, statusDocs[p])
	}
	return b.String()
}
