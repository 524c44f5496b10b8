package mcp

import (
	"context"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/historian/pkg/analysis"
	"github.com/Sumatoshi-tech/historian/pkg/config"
	"github.com/Sumatoshi-tech/historian/pkg/driver"
	"github.com/Sumatoshi-tech/historian/pkg/interactionlog"
)

// newDriver builds a Driver for a single tool call, opening that project's
// response cache and wiring its own Engine. Each call gets a fresh Driver
// since the cache and progress tracker are project-scoped.
func (s *Server) newDriver(projectName string) (*driver.Driver, error) {
	cache, err := driver.OpenCache(s.cfg.Output.Directory, projectName)
	if err != nil {
		return nil, fmt.Errorf("open response cache: %w", err)
	}

	runLog, err := interactionlog.Open(s.cfg.Output.Directory)
	if err != nil {
		return nil, fmt.Errorf("open interaction log: %w", err)
	}

	model := s.cfg.Models[s.cfg.CurrentEngine]

	return &driver.Driver{
		Config: s.cfg,
		Engine: &analysis.Engine{
			Provider:       s.provider,
			Cache:          cache,
			Model:          model.Model,
			Logger:         s.logger(),
			InteractionLog: runLog,
		},
		Logger:  s.logger(),
		Metrics: s.unitMetrics,
	}, nil
}

func (s *Server) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return slog.Default()
}

func handleRunAnalysis(s *Server) func(context.Context, *mcpsdk.CallToolRequest, RunAnalysisInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input RunAnalysisInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		if err := validateProjectName(input.ProjectName); err != nil {
			return errorResult(err)
		}

		if err := config.RequireRunnable(s.cfg); err != nil {
			return errorResult(err)
		}

		d, err := s.newDriver(input.ProjectName)
		if err != nil {
			return errorResult(err)
		}

		result, err := d.Run(ctx, driver.RunOptions{ProjectName: input.ProjectName, PlanOnly: input.PlanOnly})
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(result)
	}
}

func handleListProjects(s *Server) func(context.Context, *mcpsdk.CallToolRequest, ListProjectsInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input ListProjectsInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		if s.cfg.ZipDirectory == "" {
			return errorResult(config.ErrNoZipDirectory)
		}

		projects, err := driver.ListProjects(s.cfg.ZipDirectory)
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(projects)
	}
}

func handleDrillDown(s *Server) func(context.Context, *mcpsdk.CallToolRequest, DrillDownInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input DrillDownInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		if err := validateProjectName(input.ProjectName); err != nil {
			return errorResult(err)
		}
		if err := validateLabels(input.OldLabel, input.NewLabel); err != nil {
			return errorResult(err)
		}
		if err := config.RequireRunnable(s.cfg); err != nil {
			return errorResult(err)
		}

		d, err := s.newDriver(input.ProjectName)
		if err != nil {
			return errorResult(err)
		}

		result, err := d.DrillDown(ctx, input.ProjectName, input.OldLabel, input.NewLabel)
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(result)
	}
}
