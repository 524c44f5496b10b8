// Package progress tracks resumable analysis progress for a single project:
// which analysis units have completed, their cached results, and the cached
// project summary. State is persisted as JSON in the output directory and
// invalidated whenever the snapshot set changes.
package progress

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/Sumatoshi-tech/historian/pkg/persist"
)

type state struct {
	ProjectName     string                     `json:"project_name"`
	SnapshotsHash   string                     `json:"snapshots_hash"`
	SnapshotCount   int                        `json:"snapshot_count"`
	ProjectSummary  *string                    `json:"project_summary"`
	CompletedUnits  []int                      `json:"completed_units"`
	AnalysisResults map[string]json.RawMessage `json:"analysis_results"`
	LastUpdated     string                     `json:"last_updated"`
}

// Tracker tracks progress for a single project, backed by
// "<output_dir>/<project_name>_progress.json".
type Tracker struct {
	projectName  string
	outputDir    string
	progressFile string
	data         state
}

// Load opens (or initializes empty) a progress tracker for projectName,
// reading any existing progress file in outputDir. A missing or unreadable
// file starts fresh rather than erroring, matching the resumability
// contract: a corrupt progress file should never block a re-run.
func Load(projectName, outputDir string) *Tracker {
	t := &Tracker{
		projectName:  projectName,
		outputDir:    outputDir,
		progressFile: filepath.Join(outputDir, projectName+"_progress.json"),
		data:         state{AnalysisResults: map[string]json.RawMessage{}},
	}

	raw, err := os.ReadFile(t.progressFile)
	if err != nil {
		return t
	}

	var loaded state
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return t
	}
	if loaded.AnalysisResults == nil {
		loaded.AnalysisResults = map[string]json.RawMessage{}
	}
	t.data = loaded
	return t
}

func (t *Tracker) save() error {
	if err := os.MkdirAll(t.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	t.data.LastUpdated = time.Now().Format(time.RFC3339)

	basename := t.projectName + "_progress"
	return persist.SaveStateAtomic(t.outputDir, basename, persist.NewJSONCodec(), &t.data)
}

// ComputeSnapshotsHash hashes a sorted snapshot path list to a 16-hex-char
// fingerprint used to detect when the snapshot set has changed.
func ComputeSnapshotsHash(snapshotPaths []string) string {
	sorted := append([]string(nil), snapshotPaths...)
	sort.Strings(sorted)

	h := sha256.New()
	for i, p := range sorted {
		if i > 0 {
			h.Write([]byte("\n"))
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// IsValidFor reports whether the saved progress still applies to the given
// snapshot set fingerprint.
func (t *Tracker) IsValidFor(snapshotsHash string) bool {
	return t.data.SnapshotsHash == snapshotsHash
}

// Initialize resets progress for a fresh analysis run over the given
// snapshot set.
func (t *Tracker) Initialize(snapshotsHash string, snapshotCount int) error {
	t.data = state{
		ProjectName:     t.projectName,
		SnapshotsHash:   snapshotsHash,
		SnapshotCount:   snapshotCount,
		AnalysisResults: map[string]json.RawMessage{},
	}
	return t.save()
}

// ProjectSummary returns the cached project summary, if any.
func (t *Tracker) ProjectSummary() (string, bool) {
	if t.data.ProjectSummary == nil {
		return "", false
	}
	return *t.data.ProjectSummary, true
}

// SetProjectSummary stores the project summary and persists it.
func (t *Tracker) SetProjectSummary(summary string) error {
	t.data.ProjectSummary = &summary
	return t.save()
}

// IsUnitCompleted reports whether unitIndex has already been analyzed.
func (t *Tracker) IsUnitCompleted(unitIndex int) bool {
	for _, i := range t.data.CompletedUnits {
		if i == unitIndex {
			return true
		}
	}
	return false
}

// MarkUnitCompleted records unitIndex as completed with its JSON-serializable
// result and persists it.
func (t *Tracker) MarkUnitCompleted(unitIndex int, result any) error {
	if !t.IsUnitCompleted(unitIndex) {
		t.data.CompletedUnits = append(t.data.CompletedUnits, unitIndex)
		sort.Ints(t.data.CompletedUnits)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal unit result: %w", err)
	}
	if t.data.AnalysisResults == nil {
		t.data.AnalysisResults = map[string]json.RawMessage{}
	}
	t.data.AnalysisResults[strconv.Itoa(unitIndex)] = raw

	return t.save()
}

// UnitResult fetches the stored result for a completed unit into dest (a
// pointer), reporting ok=false if no result is stored.
func (t *Tracker) UnitResult(unitIndex int, dest any) (bool, error) {
	raw, ok := t.data.AnalysisResults[strconv.Itoa(unitIndex)]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("unmarshal unit result: %w", err)
	}
	return true, nil
}

// CompletedCount returns the number of completed analysis units.
func (t *Tracker) CompletedCount() int {
	return len(t.data.CompletedUnits)
}

// StatusSummary renders a human-readable progress line.
func (t *Tracker) StatusSummary(totalUnits int) string {
	_, hasSummary := t.ProjectSummary()
	summaryState := "not yet generated"
	if hasSummary {
		summaryState = "cached"
	}
	return fmt.Sprintf("Progress: %d/%d units completed, project summary %s",
		t.CompletedCount(), totalUnits, summaryState)
}
