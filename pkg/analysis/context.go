package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/Sumatoshi-tech/historian/pkg/llmprovider"
	"github.com/Sumatoshi-tech/historian/pkg/snapshotdiff"
	"github.com/Sumatoshi-tech/historian/pkg/toolloop"
)

func jsonSchema(properties string, required ...string) json.RawMessage {
	req, _ := json.Marshal(required)
	if properties == "" {
		properties = "{}"
	}
	return json.RawMessage(fmt.Sprintf(`{"type":"object","properties":%s,"required":%s}`, properties, req))
}

// SnapshotTools describes the tools available to the tool-assisted major-tier
// conversation: on-demand access to a single transition's diff data.
var SnapshotTools = []llmprovider.ToolDef{
	{
		Name:        "get_change_summary",
		Description: "Get a high-level statistical summary of this transition: counts of files added, removed, modified, moved, and total diff lines.",
		InputSchema: jsonSchema(""),
	},
	{
		Name:        "list_files_added",
		Description: "List all file paths that were added in this transition.",
		InputSchema: jsonSchema(""),
	},
	{
		Name:        "list_files_removed",
		Description: "List all file paths that were removed in this transition.",
		InputSchema: jsonSchema(""),
	},
	{
		Name:        "list_files_moved",
		Description: "List all files that were moved/renamed, showing old and new paths.",
		InputSchema: jsonSchema(""),
	},
	{
		Name:        "list_files_modified",
		Description: "List all modified file paths with the number of diff lines for each. Use this to decide which files to inspect in detail.",
		InputSchema: jsonSchema(""),
	},
	{
		Name:        "get_diff",
		Description: "Get the full unified diff for a specific modified file. No truncation is applied; you see the complete diff.",
		InputSchema: jsonSchema(`{"file_path":{"type":"string","description":"The relative file path (as shown in list_files_modified)."}}`, "file_path"),
	},
	{
		Name:        "get_file_content",
		Description: "Read the full content of a file from either the old or new snapshot. Useful for understanding context around a diff, or reading newly added files.",
		InputSchema: jsonSchema(`{"snapshot":{"type":"string","enum":["old","new"],"description":"Which snapshot to read from."},"file_path":{"type":"string","description":"The relative file path to read."}}`, "snapshot", "file_path"),
	},
	{
		Name:        "get_status_docs",
		Description: "Get the content of developer status/documentation files (STATUS.md, CHANGELOG.md, TODO.md, etc.) from the new snapshot, plus their diffs if they were modified.",
		InputSchema: jsonSchema(""),
	},
	{
		Name:        "list_all_files",
		Description: "Get the complete file listing for either the old or new snapshot.",
		InputSchema: jsonSchema(`{"snapshot":{"type":"string","enum":["old","new"],"description":"Which snapshot's file listing to return."}}`, "snapshot"),
	},
}

// OverviewTools describes the tools available to the tool-assisted overview
// conversation: on-demand access to already-completed transition narratives.
var OverviewTools = []llmprovider.ToolDef{
	{
		Name:        "get_transition_summary",
		Description: "Get the analysis narrative for a specific transition by its index. Use the transition list provided in the initial context to choose indices.",
		InputSchema: jsonSchema(`{"index":{"type":"integer","description":"The transition index (0-based, from the transition list)."}}`, "index"),
	},
	{
		Name:        "get_transition_range",
		Description: "Get the analysis narratives for a range of transitions. More efficient than calling get_transition_summary repeatedly.",
		InputSchema: jsonSchema(`{"start":{"type":"integer","description":"Start index (inclusive, 0-based)."},"end":{"type":"integer","description":"End index (inclusive, 0-based)."}}`, "start", "end"),
	},
}

// SnapshotContext backs the SnapshotTools handlers for a single transition,
// lazily extracting file contents from the two snapshot zips on demand.
type SnapshotContext struct {
	Diff        snapshotdiff.Diff
	OldZipPath  string
	NewZipPath  string
	DiffOptions snapshotdiff.Options

	diffIndex   map[string]snapshotdiff.FileDiff
	oldContents map[string]string
	newContents map[string]string
}

// NewSnapshotContext builds a SnapshotContext for one diff.
func NewSnapshotContext(diff snapshotdiff.Diff, oldZipPath, newZipPath string, opts snapshotdiff.Options) *SnapshotContext {
	idx := make(map[string]snapshotdiff.FileDiff, len(diff.Modified))
	for _, fd := range diff.Modified {
		idx[fd.Path] = fd
	}
	return &SnapshotContext{Diff: diff, OldZipPath: oldZipPath, NewZipPath: newZipPath, DiffOptions: opts, diffIndex: idx}
}

func (c *SnapshotContext) loadContents(snapshot string) (map[string]string, error) {
	if snapshot == "old" {
		if c.oldContents == nil {
			_, contents, err := snapshotdiff.GetSnapshotFiles(c.OldZipPath, c.DiffOptions)
			if err != nil {
				return nil, err
			}
			c.oldContents = contents
		}
		return c.oldContents, nil
	}
	if c.newContents == nil {
		_, contents, err := snapshotdiff.GetSnapshotFiles(c.NewZipPath, c.DiffOptions)
		if err != nil {
			return nil, err
		}
		c.newContents = contents
	}
	return c.newContents, nil
}

// Handlers returns the tool-name -> handler map for SnapshotTools.
func (c *SnapshotContext) Handlers() map[string]toolloop.Handler {
	return map[string]toolloop.Handler{
		"get_change_summary": func(json.RawMessage) (any, error) {
			return map[string]int{
				"files_added":                 len(c.Diff.Added),
				"files_removed":               len(c.Diff.Removed),
				"files_modified":              len(c.Diff.Modified),
				"files_moved":                 len(c.Diff.Moved),
				"files_unchanged":             len(c.Diff.Unchanged),
				"total_diff_lines":            c.Diff.TotalDiffLines,
				"total_lines_in_new_snapshot": c.Diff.TotalLinesInNew,
			}, nil
		},
		"list_files_added":   func(json.RawMessage) (any, error) { return c.Diff.Added, nil },
		"list_files_removed": func(json.RawMessage) (any, error) { return c.Diff.Removed, nil },
		"list_files_moved": func(json.RawMessage) (any, error) {
			out := make([]map[string]string, 0, len(c.Diff.Moved))
			for _, m := range c.Diff.Moved {
				out = append(out, map[string]string{"old_path": m[0], "new_path": m[1]})
			}
			return out, nil
		},
		"list_files_modified": func(json.RawMessage) (any, error) {
			out := make([]map[string]any, 0, len(c.Diff.Modified))
			for _, fd := range c.Diff.Modified {
				out = append(out, map[string]any{"path": fd.Path, "diff_lines": fd.DiffLineCount})
			}
			return out, nil
		},
		"get_diff": func(input json.RawMessage) (any, error) {
			var args struct {
				FilePath string `json:"file_path"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			if fd, ok := c.diffIndex[args.FilePath]; ok {
				return fd.DiffText, nil
			}
			return fmt.Sprintf("No diff found for '%s'. Use list_files_modified to see available paths.", args.FilePath), nil
		},
		"get_file_content": func(input json.RawMessage) (any, error) {
			var args struct {
				Snapshot string `json:"snapshot"`
				FilePath string `json:"file_path"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			contents, err := c.loadContents(args.Snapshot)
			if err != nil {
				return nil, err
			}
			if content, ok := contents[args.FilePath]; ok {
				return content, nil
			}
			return fmt.Sprintf("File '%s' not found in %s snapshot.", args.FilePath, args.Snapshot), nil
		},
		"get_status_docs": func(json.RawMessage) (any, error) {
			result := map[string]any{}
			if len(c.Diff.StatusDocs) > 0 {
				result["status_docs"] = c.Diff.StatusDocs
			}
			if len(c.Diff.StatusDocDiffs) > 0 {
				diffs := make(map[string]string, len(c.Diff.StatusDocDiffs))
				for _, fd := range c.Diff.StatusDocDiffs {
					diffs[fd.Path] = fd.DiffText
				}
				result["status_doc_diffs"] = diffs
			}
			if len(result) == 0 {
				result["message"] = "No status/documentation files found in this transition."
			}
			return result, nil
		},
		"list_all_files": func(input json.RawMessage) (any, error) {
			var args struct {
				Snapshot string `json:"snapshot"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			if args.Snapshot == "old" {
				return c.Diff.OldFileListing, nil
			}
			return c.Diff.NewFileListing, nil
		},
	}
}

// OverviewContext backs the OverviewTools handlers for overview generation,
// giving the model on-demand access to already-completed transition results.
type OverviewContext struct {
	Results        []Result
	SnapshotLabels []string
}

func transitionSummary(r Result, index int) map[string]any {
	return map[string]any{
		"index":           index,
		"tier":            r.Tier,
		"snapshot_labels": r.SnapshotLabels,
		"narrative":       r.Narrative,
	}
}

// Handlers returns the tool-name -> handler map for OverviewTools.
func (c *OverviewContext) Handlers() map[string]toolloop.Handler {
	return map[string]toolloop.Handler{
		"get_transition_summary": func(input json.RawMessage) (any, error) {
			var args struct {
				Index int `json:"index"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			if args.Index < 0 || args.Index >= len(c.Results) {
				return map[string]string{"error": fmt.Sprintf("Index %d out of range (0-%d)", args.Index, len(c.Results)-1)}, nil
			}
			return transitionSummary(c.Results[args.Index], args.Index), nil
		},
		"get_transition_range": func(input json.RawMessage) (any, error) {
			var args struct {
				Start int `json:"start"`
				End   int `json:"end"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			start := args.Start
			if start < 0 {
				start = 0
			}
			end := args.End + 1
			if end > len(c.Results) {
				end = len(c.Results)
			}
			out := make([]map[string]any, 0, max(0, end-start))
			for i := start; i < end; i++ {
				out = append(out, transitionSummary(c.Results[i], i))
			}
			return out, nil
		},
	}
}
