package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/orb/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) only(t *testing.T) recordedRequest {
	t.Helper()
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	return ts.requests[0]
}

var ctx = context.Background()

func init() {
	noColor = true
}

func TestAskCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /chat": `{"reply":"You read Dune last week."}`,
	})

	var out bytes.Buffer
	if err := runAsk(ctx, ts.client(), &out, "what did I read?"); err != nil {
		t.Fatalf("runAsk: %v", err)
	}

	req := ts.only(t)
	var body map[string]string
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body["message"] != "what did I read?" {
		t.Errorf("message = %q", body["message"])
	}
	if strings.TrimSpace(out.String()) != "You read Dune last week." {
		t.Errorf("output = %q", out.String())
	}
}

func TestThoughtCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /thoughts": `{"status":"💡 Thought Saved"}`,
	})

	if err := runThought(ctx, ts.client(), "learn the cello"); err != nil {
		t.Fatalf("runThought: %v", err)
	}
	req := ts.only(t)
	if !strings.Contains(req.Body, `"content":"learn the cello"`) {
		t.Errorf("body = %s", req.Body)
	}
}

func TestThoughtCommand_ErrorStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /thoughts": `{"status":"Error: empty thought"}`,
	})

	err := runThought(ctx, ts.client(), " ")
	if err == nil || err.Error() != "empty thought" {
		t.Fatalf("err = %v, want empty thought", err)
	}
}

func TestIngestCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /files": `{"job_id":"job-123"}`,
	})
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("# notes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := runIngest(ctx, ts.client(), path, false); err != nil {
		t.Fatalf("runIngest: %v", err)
	}

	var body struct {
		Path string `json:"path"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal([]byte(ts.only(t).Body), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.Path != path || body.Kind != "file" {
		t.Errorf("body = %+v", body)
	}
}

func TestIngestCommand_Diary(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /files": `{"job_id":"job-9"}`,
	})
	path := filepath.Join(t.TempDir(), "2024-03-01.txt")
	os.WriteFile(path, []byte("rainy day"), 0o644)

	if err := runIngest(ctx, ts.client(), path, true); err != nil {
		t.Fatalf("runIngest: %v", err)
	}
	if !strings.Contains(ts.only(t).Body, `"kind":"diary"`) {
		t.Errorf("body = %s", ts.requests[0].Body)
	}
}

func TestIngestCommand_MissingFile(t *testing.T) {
	ts := newTestServer(t, nil)

	err := runIngest(ctx, ts.client(), filepath.Join(t.TempDir(), "nope.pdf"), false)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no request, got %d", len(ts.requests))
	}
}

func TestIngestCommand_Unsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		w.Write([]byte(`{"error":{"message":"unsupported file type","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)
	client := &apiClient{baseURL: srv.URL, httpClient: srv.Client()}

	path := filepath.Join(t.TempDir(), "photo.jpg")
	os.WriteFile(path, []byte{0xff, 0xd8}, 0o644)

	err := runIngest(ctx, client, path, false)
	if err == nil || !strings.Contains(err.Error(), "415") {
		t.Fatalf("err = %v, want 415", err)
	}
}

func TestLogsCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /query-logs": `[
			{"id":2,"user_query":"how many books?","agent_plan":{"error_attempt":1,"kind":"safety"},"ai_response":"FAILED","created_at":"2024-03-01T10:00:00Z"},
			{"id":1,"user_query":"hello","agent_plan":{"approach":"semantic","intent":"greet"},"ai_response":"hi","created_at":"2024-03-01T09:00:00Z"}
		]`,
	})

	var out bytes.Buffer
	if err := runLogs(ctx, ts.client(), &out, 5); err != nil {
		t.Fatalf("runLogs: %v", err)
	}
	if got := ts.only(t).Path; got != "/query-logs?limit=5" {
		t.Errorf("path = %q", got)
	}

	text := out.String()
	for _, want := range []string{"#2", "failed", "how many books?", `"kind":"safety"`, "#1", "ok"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestLogsCommand_Empty(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /query-logs": `[]`})

	var out bytes.Buffer
	if err := runLogs(ctx, ts.client(), &out, 10); err != nil {
		t.Fatalf("runLogs: %v", err)
	}
	if !strings.Contains(out.String(), "No query logs found.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestInteractionsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /interactions": `[{"id":1,"content":"what is orb?","category":"user_input","created_at":"2024-03-01T09:00:00Z"}]`,
	})

	var out bytes.Buffer
	if err := runInteractions(ctx, ts.client(), &out, 20); err != nil {
		t.Fatalf("runInteractions: %v", err)
	}
	if !strings.Contains(out.String(), "user_input") || !strings.Contains(out.String(), "what is orb?") {
		t.Errorf("output = %q", out.String())
	}
}

func TestJournalCommand_JSON(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /journal": `[{"id":3,"content":"went hiking","metadata":{"is_processed":false},"created_at":"2024-03-01T09:00:00Z"}]`,
	})

	var out bytes.Buffer
	if err := runJournal(ctx, ts.client(), &out, 1, true); err != nil {
		t.Fatalf("runJournal: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(out.Bytes(), &entries); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if len(entries) != 1 || entries[0]["content"] != "went hiking" {
		t.Errorf("entries = %v", entries)
	}
	if got := ts.only(t).Path; got != "/journal?limit=1" {
		t.Errorf("path = %q", got)
	}
}

func TestJournalCommand_Text(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /journal": `[{"id":3,"content":"line one\nline two","created_at":"2024-03-01T09:00:00Z"}]`,
	})

	var out bytes.Buffer
	if err := runJournal(ctx, ts.client(), &out, 20, false); err != nil {
		t.Fatalf("runJournal: %v", err)
	}
	if !strings.Contains(out.String(), "2024-03-01 09:00  line one line two") {
		t.Errorf("output = %q", out.String())
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /journal": `[]`})

	client := ts.client()
	runJournal(ctx, client, &bytes.Buffer{}, 1, false)
	if got := ts.requests[0].Auth; got != "Bearer test-token" {
		t.Errorf("Authorization = %q", got)
	}

	client.token = ""
	runJournal(ctx, client, &bytes.Buffer{}, 1, false)
	if got := ts.requests[1].Auth; got != "" {
		t.Errorf("Authorization without token = %q, want empty", got)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := newTestServer(t, nil)

	var out bytes.Buffer
	err := runLogs(ctx, ts.client(), &out, 10)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

func TestServerUnreachable(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.client()
	ts.server.Close()

	err := runAsk(ctx, client, &bytes.Buffer{}, "hi")
	if err == nil || !strings.Contains(err.Error(), "orb serve") {
		t.Errorf("err = %v", err)
	}
}

func captureStatus(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := statusOut
	statusOut = &buf
	t.Cleanup(func() { statusOut = prev })
	return &buf
}

func TestIngestCommand_PrintsJobID(t *testing.T) {
	status := captureStatus(t)
	ts := newTestServer(t, map[string]string{
		"POST /files": `{"job_id":"job-42"}`,
	})
	path := filepath.Join(t.TempDir(), "paper.pdf")
	os.WriteFile(path, []byte("%PDF"), 0o644)

	if err := runIngest(ctx, ts.client(), path, false); err != nil {
		t.Fatalf("runIngest: %v", err)
	}
	if got := status.String(); got != "✓ Queued paper.pdf as job job-42\n" {
		t.Errorf("status = %q", got)
	}
}

func TestNoColorFlag(t *testing.T) {
	if got := colorize(colorRed, "x"); got != "x" {
		t.Errorf("colorize with noColor = %q", got)
	}
	noColor = false
	defer func() { noColor = true }()
	if got := colorize(colorRed, "x"); got != colorRed+"x"+colorReset {
		t.Errorf("colorize = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"a\nb", 10, "a b"},
		{"héllo wörld", 5, "héllo..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestConfigShowAll(t *testing.T) {
	keys := config.ShowAll(config.Config{})
	if len(keys) == 0 {
		t.Fatal("expected config keys")
	}
	for _, k := range keys {
		if k.Key == "" {
			t.Error("empty key name")
		}
	}
}

func TestOllamaModels(t *testing.T) {
	cfg := config.Config{
		LLM:       config.LLMConfig{Provider: "ollama", Model: "llama3.2"},
		Embedding: config.EmbeddingConfig{Provider: "ollama", Model: "all-minilm"},
	}
	got := ollamaModels(cfg)
	if len(got) != 2 || got[0] != "llama3.2" || got[1] != "all-minilm" {
		t.Errorf("ollamaModels = %v", got)
	}

	cfg.LLM.Provider = "groq"
	cfg.Embedding.Provider = "onnx"
	if got := ollamaModels(cfg); len(got) != 0 {
		t.Errorf("ollamaModels with hosted providers = %v", got)
	}
}

func TestNewLogger_Level(t *testing.T) {
	l := newLogger(config.LogConfig{Level: "debug", Format: "json"})
	if !l.Enabled(ctx, -4) {
		t.Error("debug level should be enabled")
	}
	l = newLogger(config.LogConfig{Level: "bogus"})
	if l.Enabled(ctx, -4) {
		t.Error("invalid level should fall back to info")
	}
}
