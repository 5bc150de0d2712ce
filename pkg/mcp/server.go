package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/weave/internal/api"
	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/internal/pause"
	"github.com/rendis/weave/internal/store"
)

// WeaveServerDeps holds the dependencies for creating a WeaveServer.
type WeaveServerDeps struct {
	Service  *api.Service
	Store    store.Store
	Executor *engine.Executor
	Pause    *pause.Controller
	Logger   *slog.Logger
}

// WeaveServer exposes workflow operations as MCP tools so an agent
// can run, inspect, pause, and resume workflows over stdio.
type WeaveServer struct {
	service   *api.Service
	store     store.Store
	executor  *engine.Executor
	pause     *pause.Controller
	watches   *WatchRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewWeaveServer creates a WeaveServer with all tools registered.
func NewWeaveServer(deps WeaveServerDeps) *WeaveServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &WeaveServer{
		service:  deps.Service,
		store:    deps.Store,
		executor: deps.Executor,
		pause:    deps.Pause,
		watches:  NewWatchRegistry(),
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"weave",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Weave is a workflow execution engine. Use weave.run to execute a stored workflow, weave.status to inspect an execution, weave.pause and weave.resume to suspend and continue runs, weave.query to list workflows/executions/paused/triggers, weave.diagram to visualize a workflow graph, and weave.watch to receive run lifecycle notifications."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *WeaveServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *WeaveServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Notifier returns a run listener that pushes lifecycle notifications
// to watching sessions. Register it on the executor.
func (s *WeaveServer) Notifier() *RunNotifier {
	return NewRunNotifier(s.mcpServer, s.watches, s.logger)
}

func (s *WeaveServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: pauseTool(), Handler: s.handlePause},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: watchTool(), Handler: s.handleWatch},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("weave.run",
		mcp.WithDescription("Execute a stored workflow and wait for the result"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to execute")),
		mcp.WithObject("variables", mcp.Description("Run variables merged over the workflow's stored variables")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("weave.status",
		mcp.WithDescription("Get the execution log entry for an execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to inspect")),
	)
}

func pauseTool() mcp.Tool {
	return mcp.NewTool("weave.pause",
		mcp.WithDescription("Request a cooperative pause of an active execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the active execution")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("weave.resume",
		mcp.WithDescription("Resume a paused execution from its latest snapshot and wait for the result"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the paused execution")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("weave.query",
		mcp.WithDescription("Query workflows, executions, paused executions, or scheduled triggers"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "executions", "paused", "triggers"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow_id, status, trigger, limit, offset)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("weave.diagram",
		mcp.WithDescription("Render a workflow graph as a Mermaid flowchart or ASCII diagram"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to render")),
		mcp.WithString("format",
			mcp.Enum("mermaid", "ascii"),
			mcp.Description("Output format (default: mermaid)"),
		),
	)
}

func watchTool() mcp.Tool {
	return mcp.NewTool("weave.watch",
		mcp.WithDescription("Subscribe this session to run lifecycle notifications for a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to watch")),
	)
}
