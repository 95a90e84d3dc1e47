package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	r := tagsResponse{}
	for _, n := range names {
		r.Models = append(r.Models, modelEntry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("all-minilm:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestIsRunning_Down(t *testing.T) {
	// Point at a closed server to simulate connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL)
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.1:latest", "all-minilm:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}

	want := []string{"llama3.1:latest", "all-minilm:latest"}
	if len(models) != len(want) {
		t.Fatalf("got %d models, want %d", len(models), len(want))
	}
	for i, w := range want {
		if models[i] != w {
			t.Errorf("models[%d] = %q, want %q", i, models[i], w)
		}
	}
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("all-minilm:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.HasModel(context.Background(), "all-minilm") {
		t.Error("HasModel(all-minilm) = false, want true")
	}
	if c.HasModel(context.Background(), "all") {
		t.Error("HasModel(all) = true, want false")
	}
}

func TestChat_PlainText(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(chatResponse{
			Message: Message{Role: "assistant", Content: "You wrote about hiking."},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.Chat(context.Background(), ChatRequest{
		Model:    "llama3.1",
		Messages: []Message{{Role: "user", Content: "What did I write?"}},
		Options:  &Options{Temperature: 0.2},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result != "You wrote about hiking." {
		t.Errorf("result = %q", result)
	}
	if captured.Format != nil {
		t.Errorf("format = %v, want none", captured.Format)
	}
	if captured.Stream {
		t.Error("stream = true, want false")
	}
	if captured.Options == nil || captured.Options.Temperature != 0.2 {
		t.Errorf("options = %+v", captured.Options)
	}
}

func TestChat_JSONFormats(t *testing.T) {
	var capturedFormat any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody chatRequest
		json.NewDecoder(r.Body).Decode(&reqBody)
		capturedFormat = reqBody.Format
		json.NewEncoder(w).Encode(chatResponse{
			Message: Message{Role: "assistant", Content: `{"approach":"semantic"}`},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	msgs := []Message{{Role: "user", Content: "plan"}}

	if _, err := c.Chat(context.Background(), ChatRequest{Model: "m", Messages: msgs, JSON: true}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if capturedFormat != "json" {
		t.Errorf("format = %v, want %q", capturedFormat, "json")
	}

	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"approach": {Type: "string", Enum: []string{"sql", "semantic"}},
		},
		Required: []string{"approach"},
	}
	if _, err := c.Chat(context.Background(), ChatRequest{Model: "m", Messages: msgs, JSON: true, Schema: schema}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	formatMap, ok := capturedFormat.(map[string]any)
	if !ok {
		t.Fatalf("format = %T, want map (schema object)", capturedFormat)
	}
	if formatMap["type"] != "object" {
		t.Errorf("format.type = %v, want %q", formatMap["type"], "object")
	}
}

func TestChat_ErrorStatusCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"nope\" not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), ChatRequest{Model: "nope"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v", err)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 1 || req.Input[0] != "hello world" {
			t.Errorf("input = %v", req.Input)
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	vec, err := New(srv.URL).Embed(context.Background(), "all-minilm", "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	want := []float32{0.1, 0.2, 0.3}
	if len(vec) != len(want) {
		t.Fatalf("got %d floats, want %d", len(vec), len(want))
	}
	for i, w := range want {
		if vec[i] != w {
			t.Errorf("vec[%d] = %f, want %f", i, vec[i], w)
		}
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}, {2}}})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Embed(context.Background(), "m", "a"); err == nil {
		t.Fatal("expected error for mismatched embedding count")
	}
}

func TestPullModel_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}

		var reqBody pullRequest
		json.NewDecoder(r.Body).Decode(&reqBody)
		if reqBody.Name != "all-minilm" {
			t.Errorf("pull model = %q, want %q", reqBody.Name, "all-minilm")
		}

		// Stream progress lines as newline-delimited JSON.
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var progressCount int
	err := New(srv.URL).PullModel(context.Background(), "all-minilm", func(p PullProgress) {
		progressCount++
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if progressCount != 3 {
		t.Errorf("received %d progress updates, want 3", progressCount)
	}
}

func TestEnsureReady_OllamaDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := EnsureReady(context.Background(), New(srv.URL), io.Discard, "llama3.1", "all-minilm")
	if err == nil {
		t.Fatal("expected error when Ollama is down")
	}
	if want := "Ollama is not running"; !strings.Contains(err.Error(), want) {
		t.Errorf("error = %q, want it to contain %q", err.Error(), want)
	}
}

func TestEnsureReady_PullsMissingOnce(t *testing.T) {
	var pulls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write(tagsJSON("llama3.1:latest"))
		case "/api/pull":
			var req pullRequest
			json.NewDecoder(r.Body).Decode(&req)
			pulls = append(pulls, req.Name)
			json.NewEncoder(w).Encode(PullProgress{Status: "success"})
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := EnsureReady(context.Background(), New(srv.URL), &out, "llama3.1", "all-minilm", "all-minilm", "")
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(pulls) != 1 || pulls[0] != "all-minilm" {
		t.Errorf("pulls = %v, want [all-minilm]", pulls)
	}
	if !strings.Contains(out.String(), "model all-minilm: ready") {
		t.Errorf("output = %q", out.String())
	}
}
