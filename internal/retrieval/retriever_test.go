package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/orb/internal/storage"
)

// fakeEmbedder implements embedding.Embedder for testing.
type fakeEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.embedFn(ctx, text)
}

// fakeSearcher implements ContentSearcher for testing.
type fakeSearcher struct {
	nearestFn func(ctx context.Context, table string, vec []float32, k int) ([]string, error)
}

func (f *fakeSearcher) NearestContent(ctx context.Context, table string, vec []float32, k int) ([]string, error) {
	return f.nearestFn(ctx, table, vec, k)
}

func constEmbedder(vec []float32) *fakeEmbedder {
	return &fakeEmbedder{embedFn: func(context.Context, string) ([]float32, error) { return vec, nil }}
}

func TestRetrieveContext_EmbedsOncePerQuery(t *testing.T) {
	embedCalls := 0
	emb := &fakeEmbedder{embedFn: func(_ context.Context, text string) ([]float32, error) {
		embedCalls++
		if text != "what did I write about running?" {
			t.Errorf("embedded %q", text)
		}
		return []float32{1, 2}, nil
	}}

	var searched []string
	store := &fakeSearcher{nearestFn: func(_ context.Context, table string, vec []float32, k int) ([]string, error) {
		searched = append(searched, table)
		if k != DefaultTopK {
			t.Errorf("k = %d, want %d", k, DefaultTopK)
		}
		if len(vec) != 2 {
			t.Errorf("vec = %v", vec)
		}
		return []string{table + "-1", table + "-2"}, nil
	}}

	r := New(emb, store, []string{"journal", "interaction"}, 0)
	got, err := r.RetrieveContext(context.Background(), "what did I write about running?")
	if err != nil {
		t.Fatalf("RetrieveContext: %v", err)
	}
	if embedCalls != 1 {
		t.Errorf("embed calls = %d, want 1", embedCalls)
	}
	if strings.Join(searched, ",") != "journal,interaction" {
		t.Errorf("searched = %v", searched)
	}
	if len(got["journal"]) != 2 || got["journal"][0] != "journal-1" {
		t.Errorf("journal = %v", got["journal"])
	}
}

func TestRetrieveContext_TableFailureYieldsEmptySlice(t *testing.T) {
	store := &fakeSearcher{nearestFn: func(_ context.Context, table string, _ []float32, _ int) ([]string, error) {
		if table == "interaction" {
			return nil, errors.New("no such table: interaction")
		}
		return []string{"ran 5k"}, nil
	}}

	r := New(constEmbedder([]float32{1}), store, []string{"journal", "interaction"}, 3)
	got, err := r.RetrieveContext(context.Background(), "q")
	if err != nil {
		t.Fatalf("RetrieveContext: %v", err)
	}
	items, ok := got["interaction"]
	if !ok {
		t.Fatal("failing table missing from context")
	}
	if items == nil || len(items) != 0 {
		t.Errorf("interaction = %#v, want empty non-nil slice", items)
	}
	if len(got["journal"]) != 1 {
		t.Errorf("journal = %v", got["journal"])
	}
}

func TestRetrieveContext_EmbeddingFailure(t *testing.T) {
	emb := &fakeEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}}
	store := &fakeSearcher{nearestFn: func(context.Context, string, []float32, int) ([]string, error) {
		t.Fatal("store searched after embedding failure")
		return nil, nil
	}}

	if _, err := New(emb, store, []string{"journal"}, 3).RetrieveContext(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRetrieveContext_Store(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for _, e := range []storage.JournalEntry{
		{Content: "went hiking", Embedding: []float32{1, 0}},
		{Content: "bought groceries", Embedding: []float32{0, 1}},
	} {
		if _, err := s.InsertJournal(ctx, e); err != nil {
			t.Fatalf("InsertJournal: %v", err)
		}
	}

	r := New(constEmbedder([]float32{0.9, 0.1}), s, []string{storage.TableJournal, storage.TableInteraction}, 1)
	got, err := r.RetrieveContext(ctx, "outdoors")
	if err != nil {
		t.Fatalf("RetrieveContext: %v", err)
	}
	if len(got[storage.TableJournal]) != 1 || got[storage.TableJournal][0] != "went hiking" {
		t.Errorf("journal = %v", got[storage.TableJournal])
	}
	if len(got[storage.TableInteraction]) != 0 {
		t.Errorf("interaction = %v, want empty", got[storage.TableInteraction])
	}
}

func TestContext_Empty(t *testing.T) {
	if !(Context{"journal": {}}).Empty() {
		t.Error("context with only empty tables should be empty")
	}
	if (Context{"journal": {"x"}}).Empty() {
		t.Error("context with content should not be empty")
	}
}

func TestRender_SortedTables(t *testing.T) {
	c := Context{
		"journal":     {"ran 5k", "slept well"},
		"interaction": {"asked about sleep"},
	}
	want := "[interaction]\n- asked about sleep\n[journal]\n- ran 5k\n- slept well"
	if got := c.Render(0); got != want {
		t.Errorf("Render =\n%s\nwant\n%s", got, want)
	}
}

func TestRender_RespectsBudget(t *testing.T) {
	long := strings.Repeat("x", 400)
	c := Context{"journal": {long, "short"}}

	got := c.Render(20)
	if strings.Contains(got, long) {
		t.Error("over-budget item was rendered")
	}
	if !strings.Contains(got, "- short") {
		t.Errorf("Render = %q, want short item kept", got)
	}
	if EstimateTokens(got) > 20 {
		t.Errorf("rendered %d tokens, budget 20", EstimateTokens(got))
	}
}

func TestRender_Empty(t *testing.T) {
	if got := (Context{"journal": {}}).Render(100); got != EmptyContext {
		t.Errorf("Render = %q, want %q", got, EmptyContext)
	}
	if got := (Context{}).Render(100); got != EmptyContext {
		t.Errorf("Render = %q, want %q", got, EmptyContext)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2}
	for in, want := range cases {
		if got := EstimateTokens(in); got != want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", in, got, want)
		}
	}
}
