// Package mcp exposes the automation engine to agent operators over the
// Model Context Protocol. Tools submit events, inspect and cancel
// executions, query persisted state, and validate workflow definitions.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/internal/validation"
	"github.com/convohq/automation/pkg/schema"
)

// EventSubmitter durably enqueues an event and returns its ID.
type EventSubmitter interface {
	SubmitEvent(ctx context.Context, event *schema.EventRecord) (string, error)
}

// ExecutionCanceller terminates an in-flight execution.
type ExecutionCanceller interface {
	Cancel(ctx context.Context, executionID, reason string) error
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Store     store.Store
	Submitter EventSubmitter
	Canceller ExecutionCanceller
	Validator *validation.WorkflowValidator
	Logger    *slog.Logger
}

// Server wraps an MCP server with automation-specific tool handlers.
type Server struct {
	store     store.Store
	submitter EventSubmitter
	canceller ExecutionCanceller
	validator *validation.WorkflowValidator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		store:     deps.Store,
		submitter: deps.Submitter,
		canceller: deps.Canceller,
		validator: deps.Validator,
		logger:    logger.With("component", "mcp"),
	}

	mcpSrv := server.NewMCPServer(
		"convohq-automation",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Event-driven conversation workflow automation. Use automation.submit_event to feed business events into the engine, automation.status to inspect an execution and its audit trail, automation.cancel to terminate a running execution, automation.query to list workflows/executions/audit entries, and automation.validate to check a workflow definition before saving it."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: submitEventTool(), Handler: s.handleSubmitEvent},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: validateTool(), Handler: s.handleValidate},
	}
}

// --- Tool definitions ---

func submitEventTool() mcp.Tool {
	return mcp.NewTool("automation.submit_event",
		mcp.WithDescription("Submit a business event for asynchronous workflow matching and execution"),
		mcp.WithString("type", mcp.Required(),
			mcp.Enum("message_received", "new_customer", "tag_added", "schedule", "platform_comment"),
			mcp.Description("Event type"),
		),
		mcp.WithObject("payload", mcp.Description("Event payload (content, channel, tag, ...)")),
		mcp.WithString("conversation_ref", mcp.Description("Conversation the event belongs to")),
		mcp.WithString("user_ref", mcp.Description("Customer the event belongs to")),
		mcp.WithString("owner_ref", mcp.Description("Owner for ownerless event types")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("automation.status",
		mcp.WithDescription("Get the state of a workflow execution, optionally with its audit trail"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to query")),
		mcp.WithBoolean("include_audit", mcp.Description("Include the execution's audit events (default: false)")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("automation.cancel",
		mcp.WithDescription("Cancel an in-flight workflow execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to cancel")),
		mcp.WithString("reason", mcp.Description("Reason recorded on the cancelled execution")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("automation.query",
		mcp.WithDescription("Query workflows, executions, or audit events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "executions", "audit"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, owner_id, workflow_id, conversation_ref, execution_id, event_type, limit)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("automation.validate",
		mcp.WithDescription("Validate a workflow definition: schema conformance, semantic checks, and graph shape (cycles, unreachable nodes)"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object")),
	)
}
