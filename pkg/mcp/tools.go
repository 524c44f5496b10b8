package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool name constants.
const (
	ToolNameRunAnalysis  = "run_analysis"
	ToolNameListProjects = "list_projects"
	ToolNameDrillDown    = "drill_down"
)

// Sentinel errors for tool input validation.
var (
	// ErrEmptyProjectName indicates the project_name parameter is empty.
	ErrEmptyProjectName = errors.New("project_name parameter is required and must not be empty")
	// ErrEmptyLabel indicates a snapshot label parameter is empty.
	ErrEmptyLabel = errors.New("old_label and new_label parameters are required and must not be empty")
)

// Input types (auto-generate JSON schemas via struct tags).

// RunAnalysisInput is the input schema for the run_analysis tool.
type RunAnalysisInput struct {
	ProjectName string `json:"project_name"        jsonschema:"project name, matching the zip snapshot filename prefix"`
	PlanOnly    bool   `json:"plan_only,omitempty" jsonschema:"stop after printing the classification plan, without calling the model"`
}

// ListProjectsInput is the (empty) input schema for the list_projects tool.
type ListProjectsInput struct{}

// DrillDownInput is the input schema for the drill_down tool.
type DrillDownInput struct {
	ProjectName string `json:"project_name" jsonschema:"project name, matching the zip snapshot filename prefix"`
	OldLabel    string `json:"old_label"    jsonschema:"snapshot label to analyze from"`
	NewLabel    string `json:"new_label"    jsonschema:"snapshot label to analyze to"`
}

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// Result helpers.

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

// validateProjectName checks that a project name was supplied.
func validateProjectName(name string) error {
	if name == "" {
		return ErrEmptyProjectName
	}
	return nil
}

// validateLabels checks that both drill-down snapshot labels were supplied.
func validateLabels(oldLabel, newLabel string) error {
	if oldLabel == "" || newLabel == "" {
		return ErrEmptyLabel
	}
	return nil
}
