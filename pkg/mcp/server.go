package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nvidra/photoflow/internal/scheduler"
	"github.com/nvidra/photoflow/internal/service"
	"github.com/nvidra/photoflow/internal/store"
)

// PhotoflowServerDeps holds the dependencies for creating a PhotoflowServer.
type PhotoflowServerDeps struct {
	Service   *service.Service
	Store     store.Store
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// PhotoflowServer wraps an MCP server with photoflow-specific tool handlers.
type PhotoflowServer struct {
	service   *service.Service
	store     store.Store
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewPhotoflowServer creates a new PhotoflowServer with all 5 tools registered.
func NewPhotoflowServer(deps PhotoflowServerDeps) *PhotoflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &PhotoflowServer{
		service:   deps.Service,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"photoflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Photoflow is a photo-batch pipeline orchestration engine. Use photoflow.run to process a batch through a registered pipeline, photoflow.status to check a run's stage progress, photoflow.report to fetch a finished run's report, photoflow.schedule to manage recurring batch jobs, and photoflow.query to list runs/events/jobs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *PhotoflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *PhotoflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *PhotoflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: reportTool(), Handler: s.handleReport},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("photoflow.run",
		mcp.WithDescription("Process a photo batch through a registered pipeline"),
		mcp.WithString("pipeline", mcp.Required(), mcp.Description("Name of the registered pipeline to run")),
		mcp.WithObject("source", mcp.Required(), mcp.Description("Item source spec (dir, extensions, limit)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("photoflow.status",
		mcp.WithDescription("Get run execution status including per-stage progress"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func reportTool() mcp.Tool {
	return mcp.NewTool("photoflow.report",
		mcp.WithDescription("Fetch the batch report of a finished run (stage table, score statistics, category distribution, errors, usage)"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run whose report to fetch")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("photoflow.schedule",
		mcp.WithDescription("Manage recurring batch jobs"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("create", "enable", "disable", "delete"),
			mcp.Description("Operation to perform"),
		),
		mcp.WithString("job_id", mcp.Description("Job ID (required for enable/disable/delete)")),
		mcp.WithString("pipeline", mcp.Description("Pipeline name (required for create)")),
		mcp.WithString("cron", mcp.Description("Cron expression, 5 fields (required for create)")),
		mcp.WithObject("source", mcp.Description("Item source spec for each scheduled run")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("photoflow.query",
		mcp.WithDescription("Query runs, events, or scheduled jobs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "events", "jobs"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, pipeline, since, limit, run_id, event_type, enabled)")),
	)
}
