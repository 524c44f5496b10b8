// Package mcp implements a Model Context Protocol server exposing historian's
// analysis pipeline as MCP tools over stdio transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/historian/pkg/config"
	"github.com/Sumatoshi-tech/historian/pkg/llmprovider"
	"github.com/Sumatoshi-tech/historian/pkg/observability"
)

const (
	// serverName is the MCP server implementation name.
	serverName = "historian"
	// serverVersion is the MCP server implementation version.
	serverVersion = "1.0.0"

	// toolCount is the expected number of registered tools.
	toolCount = 3
)

// ServerDeps holds injectable dependencies for the MCP server.
// Zero-value fields use production defaults.
type ServerDeps struct {
	// Config is the run configuration (zip directory, models, retry/output
	// settings) shared by every tool call.
	Config *config.Config

	// Provider is the LLM backend every tool call's Engine is wired to.
	Provider llmprovider.Provider

	// Logger is an optional structured logger. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is an optional RED metrics recorder. Nil disables per-tool metrics.
	Metrics *observability.REDMetrics

	// UnitMetrics is an optional per-unit analysis metrics recorder. Nil
	// disables unit-level metrics for tool-driven runs.
	UnitMetrics *observability.UnitMetrics

	// Tracer is an optional OTel tracer for per-tool-call spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Server wraps the MCP SDK server with historian's tool registrations.
type Server struct {
	inner *mcpsdk.Server
	mu    sync.RWMutex
	tools []string

	cfg         *config.Config
	provider    llmprovider.Provider
	log         *slog.Logger
	metrics     *observability.REDMetrics
	unitMetrics *observability.UnitMetrics
	tracer      trace.Tracer
}

// NewServer creates a new MCP server with all historian tools registered.
func NewServer(deps ServerDeps) *Server {
	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		opts,
	)

	srv := &Server{
		inner:       inner,
		tools:       make([]string, 0, toolCount),
		cfg:         deps.Config,
		provider:    deps.Provider,
		log:         deps.Logger,
		metrics:     deps.Metrics,
		unitMetrics: deps.UnitMetrics,
		tracer:      deps.Tracer,
	}

	srv.registerTools()

	return srv
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tools))
	copy(names, s.tools)
	sort.Strings(names)

	return names
}

// Run starts the MCP server on stdio transport. It blocks until the context
// is canceled or the connection closes.
func (s *Server) Run(ctx context.Context) error {
	err := s.inner.Run(ctx, &mcpsdk.StdioTransport{})
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// RunWithTransport starts the MCP server on the given transport. It blocks
// until the context is canceled or the connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// registerTools adds all historian MCP tools to the server.
func (s *Server) registerTools() {
	s.registerRunAnalysisTool()
	s.registerListProjectsTool()
	s.registerDrillDownTool()
}

func (s *Server) registerRunAnalysisTool() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameRunAnalysis,
		Description: runAnalysisToolDescription,
	}, withMetrics(s.metrics, ToolNameRunAnalysis, withTracing(s.tracer, ToolNameRunAnalysis, handleRunAnalysis(s))))

	s.trackTool(ToolNameRunAnalysis)
}

func (s *Server) registerListProjectsTool() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameListProjects,
		Description: listProjectsToolDescription,
	}, withMetrics(s.metrics, ToolNameListProjects, withTracing(s.tracer, ToolNameListProjects, handleListProjects(s))))

	s.trackTool(ToolNameListProjects)
}

func (s *Server) registerDrillDownTool() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameDrillDown,
		Description: drillDownToolDescription,
	}, withMetrics(s.metrics, ToolNameDrillDown, withTracing(s.tracer, ToolNameDrillDown, handleDrillDown(s))))

	s.trackTool(ToolNameDrillDown)
}

// mcpSpanPrefix is the prefix for MCP tool span names.
const mcpSpanPrefix = "mcp."

// traceIDMetaKey is the metadata key for trace_id in MCP tool responses.
const traceIDMetaKey = "trace_id"

// withTracing wraps an MCP tool handler to create an OTel span per invocation
// and include trace_id in the response content when sampled.
func withTracing[Input any](
	tracer trace.Tracer,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, mcpSpanPrefix+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		result, output, err := handler(ctx, req, input)

		// Include trace_id in response when span is sampled.
		sc := span.SpanContext()
		if sc.IsSampled() && result != nil {
			traceContent := &mcpsdk.TextContent{Text: fmt.Sprintf("%s=%s", traceIDMetaKey, sc.TraceID().String())}
			result.Content = append(result.Content, traceContent)
		}

		return result, output, err
	}
}

// withMetrics wraps an MCP tool handler to record RED metrics per invocation.
func withMetrics[Input any](
	metrics *observability.REDMetrics,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if metrics == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		decInflight := metrics.TrackInflight(ctx, "mcp."+toolName)
		defer decInflight()

		result, output, err := handler(ctx, req, input)

		status := "ok"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}

		metrics.RecordRequest(ctx, "mcp."+toolName, status, time.Since(start))

		return result, output, err
	}
}

func (s *Server) trackTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, name)
}

// Tool description constants.
const (
	runAnalysisToolDescription = "Reconstruct a project's development history from its zip " +
		"snapshots: classifies each transition by change magnitude, analyzes it with an LLM, " +
		"and writes a Markdown report. Resumes from any previously completed units."

	listProjectsToolDescription = "List every project discoverable in the configured zip " +
		"directory, with how many snapshots each has."

	drillDownToolDescription = "Perform a single deep, tool-assisted analysis between two " +
		"named snapshots of a project, bypassing the full classification pipeline."
)
