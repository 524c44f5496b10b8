package report_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/historian/pkg/analysis"
	"github.com/Sumatoshi-tech/historian/pkg/classify"
	"github.com/Sumatoshi-tech/historian/pkg/report"
)

func sampleResults() []analysis.Result {
	return []analysis.Result{
		{
			Tier:           classify.TierMinor,
			Narrative:      "Fixed a parsing bug.",
			SnapshotLabels: []string{"v1", "v2"},
			FilesSummary:   analysis.FilesSummary{Modified: []string{"main.go"}},
		},
		{
			Tier:           classify.TierMajor,
			Narrative:      "Rewrote the storage layer.",
			SnapshotLabels: []string{"v2", "v3"},
			FilesSummary: analysis.FilesSummary{
				Added:   []string{"storage/new.go"},
				Removed: []string{"storage/old.go"},
				Moved:   []analysis.MovePair{{From: "a.go", To: "b.go"}},
			},
		},
	}
}

func sampleUnits() []classify.Unit {
	return []classify.Unit{
		{Tier: classify.TierMinor, Transitions: []int{0}},
		{Tier: classify.TierMajor, Transitions: []int{1}},
	}
}

func TestGenerateWritesReport(t *testing.T) {
	dir := t.TempDir()
	bp := classify.Breakpoints{MinorThreshold: 0.1, MajorThreshold: 0.6, Stats: classify.DistributionStats{Method: "quartile"}}

	path, err := report.Generate("myproj", "This project evolved over three versions.",
		sampleResults(), sampleUnits(), []string{"v1", "v2", "v3"}, bp, "2026-07-30 12:00", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "myproj_history.md"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, "# Project History: myproj")
	assert.Contains(t, text, "This project evolved over three versions.")
	assert.Contains(t, text, "- **Total snapshots:** 3")
	assert.Contains(t, text, "major: 1")
	assert.Contains(t, text, "minor: 1")
	assert.Contains(t, text, "### v1 -> v2")
	assert.Contains(t, text, "### v2 -> v3 (major change)")
	assert.Contains(t, text, "Fixed a parsing bug.")
	assert.Contains(t, text, "Rewrote the storage layer.")
	assert.Contains(t, text, "a.go -> b.go")
}

func TestGenerateOmitsFileDetailsWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	results := []analysis.Result{
		{Tier: classify.TierMinor, Narrative: "No file changes recorded.", SnapshotLabels: []string{"v1", "v2"}},
	}
	bp := classify.Breakpoints{Stats: classify.DistributionStats{Method: "quartile"}}

	path, err := report.Generate("proj", "overview", results, sampleUnits()[:1], []string{"v1", "v2"}, bp, "now", dir)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "<details>")
}
