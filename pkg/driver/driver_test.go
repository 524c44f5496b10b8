package driver

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/historian/pkg/analysis"
	"github.com/Sumatoshi-tech/historian/pkg/classify"
	"github.com/Sumatoshi-tech/historian/pkg/config"
	"github.com/Sumatoshi-tech/historian/pkg/llmprovider"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

// stubProvider returns a fixed response for every single-shot query and
// refuses any tool-calling turn, which is enough to drive minor/moderate
// tier analysis without exercising the tool loop.
type stubProvider struct {
	calls int
}

func (s *stubProvider) Query(ctx context.Context, model, systemPrompt, prompt string, maxTokens int) (string, error) {
	s.calls++
	return "a narrative describing the change", nil
}

func (s *stubProvider) RunTurn(ctx context.Context, req llmprovider.TurnRequest) (llmprovider.TurnResponse, error) {
	return llmprovider.TurnResponse{}, errors.New("tool conversation not expected in this test")
}

func newDriver(t *testing.T, zipDir string, provider llmprovider.Provider) *Driver {
	t.Helper()
	outputDir := t.TempDir()

	return &Driver{
		Config: &config.Config{
			ZipDirectory:  zipDir,
			Output:        config.OutputConfig{Directory: outputDir},
			CurrentEngine: "test",
		},
		Engine: &analysis.Engine{Provider: provider, Model: "test-model"},
	}
}

func seedProject(t *testing.T, dir string) {
	t.Helper()

	writeZip(t, filepath.Join(dir, "demo_001.zip"), map[string]string{
		"main.go":   "package main\n\nfunc main() {}\n",
		"README.md": "# demo\n\nInitial version.\n",
	})
	writeZip(t, filepath.Join(dir, "demo_002.zip"), map[string]string{
		"main.go":   "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n",
		"README.md": "# demo\n\nInitial version.\n",
	})
	writeZip(t, filepath.Join(dir, "demo_003.zip"), map[string]string{
		"main.go":   "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n",
		"util.go":   "package main\n\nfunc helper() int { return 1 }\n",
		"README.md": "# demo\n\nAdded a helper utility.\n",
	})
}

func TestRun_PlanOnlyStopsBeforeAnyLLMCalls(t *testing.T) {
	zipDir := t.TempDir()
	seedProject(t, zipDir)

	provider := &stubProvider{}
	d := newDriver(t, zipDir, provider)

	result, err := d.Run(context.Background(), RunOptions{ProjectName: "demo", PlanOnly: true})
	require.NoError(t, err)

	assert.True(t, result.PlanOnly)
	assert.Equal(t, 3, result.SnapshotCount)
	assert.Positive(t, result.UnitCount)
	assert.Equal(t, 0, provider.calls, "plan-only must not invoke the LLM")
}

func TestRun_FullPipelineProducesReport(t *testing.T) {
	zipDir := t.TempDir()
	seedProject(t, zipDir)

	provider := &stubProvider{}
	d := newDriver(t, zipDir, &drillProvider{stubProvider: provider})

	result, err := d.Run(context.Background(), RunOptions{ProjectName: "demo"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.SnapshotCount)
	assert.NotEmpty(t, result.ReportPath)
	assert.FileExists(t, result.ReportPath)
	assert.Positive(t, provider.calls)

	content, err := os.ReadFile(result.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# Project History: demo")
}

func TestRun_ResumesFromProgressWithoutReanalyzingCompletedUnits(t *testing.T) {
	zipDir := t.TempDir()
	seedProject(t, zipDir)

	provider := &stubProvider{}
	d := newDriver(t, zipDir, &drillProvider{stubProvider: provider})

	_, err := d.Run(context.Background(), RunOptions{ProjectName: "demo"})
	require.NoError(t, err)

	callsAfterFirstRun := provider.calls

	// A second run against the same snapshot set and output directory
	// should find everything already completed and make no further calls
	// for per-unit analysis or the project summary, only a fresh overview.
	result, err := d.Run(context.Background(), RunOptions{ProjectName: "demo"})
	require.NoError(t, err)

	assert.NotEmpty(t, result.ReportPath)
	assert.Less(t, provider.calls-callsAfterFirstRun, callsAfterFirstRun,
		"resumed run should make far fewer calls than the first run")
}

func TestListProjects(t *testing.T) {
	zipDir := t.TempDir()
	seedProject(t, zipDir)

	projects, err := ListProjects(zipDir)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "demo", projects[0].Name)
	assert.Equal(t, 3, projects[0].Snapshots)
}

func TestDrillDown(t *testing.T) {
	zipDir := t.TempDir()
	seedProject(t, zipDir)

	provider := &stubProvider{
		// AnalyzeMajor runs a tool-assisted conversation; RunTurn must
		// return a final turn with text and no further tool calls.
	}
	d := newDriver(t, zipDir, &drillProvider{stubProvider: provider})

	result, err := d.DrillDown(context.Background(), "demo", "001", "003")
	require.NoError(t, err)

	assert.Equal(t, classify.TierMajor, result.Tier)
	assert.Equal(t, []string{"001", "003"}, result.SnapshotLabels)
	assert.NotEmpty(t, result.Narrative)
}

// drillProvider answers Query like stubProvider but completes a
// tool-calling turn immediately with no tool calls, since AnalyzeMajor
// always drives a tool conversation. seedProject's two transitions always
// produce a major unit (with fewer than four transitions the major threshold
// is 0.8 of the largest magnitude), so full runs need it too.
type drillProvider struct {
	*stubProvider
}

func (d *drillProvider) RunTurn(ctx context.Context, req llmprovider.TurnRequest) (llmprovider.TurnResponse, error) {
	return llmprovider.TurnResponse{Text: "a drill-down narrative"}, nil
}
