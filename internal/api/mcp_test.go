package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/orb/internal/agent"
	"github.com/kalambet/orb/internal/ingest"
	"github.com/kalambet/orb/internal/retrieval"
	"github.com/kalambet/orb/internal/storage"
)

// --- mocks ---

type mockMCPRetriever struct {
	rc  retrieval.Context
	err error
}

func (m *mockMCPRetriever) RetrieveContext(_ context.Context, _ string) (retrieval.Context, error) {
	return m.rc, m.err
}

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store := openTestStore(t)
	return MCPDeps{
		Agent: &mockAsker{handleFn: func(_ context.Context, q string) string {
			return "answer to " + q
		}},
		Ingest:    ingest.NewService(store, mockEmbedder{}, 0),
		Retriever: &mockMCPRetriever{},
		QueryLogs: store,
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if NewMCPServer(deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_Ask(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"query": "what did I read?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "answer to what did I read?" {
		t.Errorf("text = %q", got)
	}
}

func TestMCPTool_Ask_TagsRequestID(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	var ids []string
	deps.Agent = &mockAsker{handleFn: func(ctx context.Context, _ string) string {
		ids = append(ids, agent.RequestID(ctx))
		return "ok"
	}}

	for i := 0; i < 2; i++ {
		mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{"query": "q"}))
	}
	if len(ids) != 2 || ids[0] == "" || ids[0] == ids[1] {
		t.Errorf("request ids = %q, want two distinct ids", ids)
	}
}

func TestMCPTool_Ask_MissingQuery(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, _ := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{}))
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_Ask_NoAgent(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Agent = nil
	result, _ := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{"query": "x"}))
	if !result.IsError {
		t.Fatal("expected error when agent is nil")
	}
}

func TestMCPTool_LogThought(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	result, err := mcpLogThought(deps)(context.Background(), makeCallToolRequest("log_thought", map[string]interface{}{
		"content": "started learning piano",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError || toolText(t, result) != ingest.StatusThoughtSaved {
		t.Fatalf("result = %+v", result)
	}

	entries, err := store.ListJournal(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListJournal: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "started learning piano" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestMCPTool_LogThought_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, _ := mcpLogThought(deps)(context.Background(), makeCallToolRequest("log_thought", map[string]interface{}{
		"content": "  ",
	}))
	if !result.IsError {
		t.Fatal("expected error result for empty thought")
	}
}

func TestMCPTool_Recall(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Retriever = &mockMCPRetriever{rc: retrieval.Context{
		"journal":     {"went hiking"},
		"interaction": {},
	}}

	result, err := mcpRecall(deps)(context.Background(), makeCallToolRequest("recall", map[string]interface{}{
		"query": "weekend",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string][]string
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(got["journal"]) != 1 || got["journal"][0] != "went hiking" {
		t.Errorf("recall = %v", got)
	}
}

func TestMCPTool_Recall_Error(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Retriever = &mockMCPRetriever{err: errors.New("embed failed")}

	result, err := mcpRecall(deps)(context.Background(), makeCallToolRequest("recall", map[string]interface{}{
		"query": "test",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_IngestFile(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	result, err := mcpIngestFile(deps)(context.Background(), makeCallToolRequest("ingest_file", map[string]interface{}{
		"path": "/tmp/book.pdf",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	id := text[strings.LastIndex(text, " ")+1:]
	job, err := store.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob(%q): %v", id, err)
	}
	if !strings.Contains(job.PayloadJSON, `"kind":"file"`) {
		t.Errorf("payload = %s", job.PayloadJSON)
	}
}

func TestMCPTool_IngestFile_Unsupported(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, _ := mcpIngestFile(deps)(context.Background(), makeCallToolRequest("ingest_file", map[string]interface{}{
		"path": "/tmp/photo.jpg",
	}))
	if !result.IsError {
		t.Fatal("expected error for unsupported file")
	}
}

func TestMCPResource_QueryLogs(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		if _, err := store.InsertQueryLog(ctx, storage.QueryLog{
			UserQuery:  strings.Repeat("q", 300),
			AgentPlan:  json.RawMessage(`{"error_attempt":1,"kind":"plan"}`),
			AIResponse: "FAILED",
		}); err != nil {
			t.Fatalf("InsertQueryLog: %v", err)
		}
	}

	contents, err := mcpResourceQueryLogs(deps)(ctx, makeReadResourceRequest("orb://query-logs/recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var summaries []struct {
		Query string          `json:"query"`
		Plan  json.RawMessage `json:"plan"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(summaries) != recentQueryLogs {
		t.Fatalf("expected %d summaries, got %d", recentQueryLogs, len(summaries))
	}
	if n := len([]rune(summaries[0].Query)); n != 203 {
		t.Errorf("query length = %d, want truncated to 200+...", n)
	}
	if !strings.Contains(string(summaries[0].Plan), "error_attempt") {
		t.Errorf("plan = %s", summaries[0].Plan)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Retriever = &mockMCPRetriever{rc: retrieval.Context{"journal": {"x"}}}

	logHandler := mcpLogThought(deps)
	recallHandler := mcpRecall(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := logHandler(context.Background(), makeCallToolRequest("log_thought", map[string]interface{}{
				"content": "concurrent content",
			}))
			if err != nil {
				errs <- err
			} else if res.IsError {
				errs <- errors.New(toolText(t, res))
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := recallHandler(context.Background(), makeCallToolRequest("recall", map[string]interface{}{
				"query": "test",
			})); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}

func TestMCP_NoStore(t *testing.T) {
	deps := MCPDeps{}

	result, err := mcpRecall(deps)(context.Background(), makeCallToolRequest("recall", map[string]interface{}{"query": "x"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("recall without retriever should be an error result")
	}

	if _, err := mcpResourceQueryLogs(deps)(context.Background(), makeReadResourceRequest("orb://query-logs/recent")); err == nil {
		t.Error("expected error reading query logs without a store")
	}
}
