package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/orb/internal/agent"
	"github.com/kalambet/orb/internal/ingest"
	"github.com/kalambet/orb/internal/retrieval"
	"github.com/kalambet/orb/internal/storage"
)

// MCPRetriever abstracts semantic search for the MCP layer.
type MCPRetriever interface {
	RetrieveContext(ctx context.Context, query string) (retrieval.Context, error)
}

// QueryLogLister lists recent audit rows.
type QueryLogLister interface {
	ListQueryLogs(ctx context.Context, limit int) ([]storage.QueryLog, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Agent     Asker
	Ingest    Ingestor
	Retriever MCPRetriever
	QueryLogs QueryLogLister
	Logger    *slog.Logger
}

const recentQueryLogs = 10

// NewMCPServer creates an MCP server with all orb tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := server.NewMCPServer(
		"orb",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("orb: personal memory of journal entries, chats and files. Ask questions or log new thoughts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question from the personal memory store."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("log_thought",
			mcp.WithDescription("Store a thought as a journal entry."),
			mcp.WithString("content", mcp.Description("The thought text"), mcp.Required()),
		),
		mcpLogThought(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Return the memories nearest to a query, grouped by table."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_file",
			mcp.WithDescription("Queue a PDF, DOCX, TXT or MD file for ingestion."),
			mcp.WithString("path", mcp.Description("Absolute path of the file"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("file (default) or diary")),
		),
		mcpIngestFile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"orb://query-logs/recent",
			"Recent Query Logs",
			mcp.WithResourceDescription("Last 10 agent attempts with plans and outcomes"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceQueryLogs(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Agent == nil {
			return mcpError("agent not available: storage is not configured"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		requestID := uuid.NewString()
		deps.Logger.Info("mcp ask", "request_id", requestID)
		return mcpText(deps.Agent.HandleQuery(agent.WithRequestID(ctx, requestID), query)), nil
	}
}

func mcpLogThought(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Ingest == nil {
			return mcpError("ingestion not available"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		status := deps.Ingest.LogThought(ctx, content)
		if ingest.IsError(status) {
			return mcpError(status), nil
		}
		return mcpText(status), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Retriever == nil {
			return mcpError("recall not available: storage is not configured"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		rc, err := deps.Retriever.RetrieveContext(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}

		b, err := json.Marshal(rc)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIngestFile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Ingest == nil {
			return mcpError("ingestion not available"), nil
		}
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}
		kind := ingest.Kind(req.GetString("kind", string(ingest.KindFile)))

		id, err := deps.Ingest.EnqueueFile(path, kind)
		if errors.Is(err, ingest.ErrUnsupported) {
			return mcpError(fmt.Sprintf("cannot ingest %s: %v", path, err)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue file: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued %s as job %s", path, id)), nil
	}
}

func mcpResourceQueryLogs(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.QueryLogs == nil {
			return nil, errors.New("query logs not available: storage is not configured")
		}
		logs, err := deps.QueryLogs.ListQueryLogs(ctx, recentQueryLogs)
		if err != nil {
			return nil, fmt.Errorf("failed to list query logs: %w", err)
		}

		type logSummary struct {
			ID         int64           `json:"id"`
			CreatedAt  string          `json:"created_at"`
			Query      string          `json:"query"`
			Plan       json.RawMessage `json:"plan"`
			AIResponse string          `json:"ai_response"`
		}

		summaries := make([]logSummary, len(logs))
		for i, v := range queryLogViews(logs) {
			summaries[i] = logSummary{
				ID:         v.ID,
				CreatedAt:  v.CreatedAt.Format(time.RFC3339),
				Query:      shorten(v.UserQuery, 200),
				Plan:       v.AgentPlan,
				AIResponse: shorten(v.AIResponse, 200),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal query logs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
