package memory

import (
	"context"
	"testing"

	"github.com/hamedsk/corpusqa/models"
)

func seedIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	passages := []models.Passage{
		{ID: "1_0", SourceID: 1, Title: "Goroutines", Text: "Goroutines are lightweight threads managed by the runtime.", Ordinal: 0, Embedding: []float32{1, 0, 0}},
		{ID: "1_1", SourceID: 1, Title: "Goroutines", Text: "Channels coordinate goroutine communication.", Ordinal: 1, Embedding: []float32{0.9, 0.1, 0}},
		{ID: "2_0", SourceID: 2, Title: "Slices", Text: "Slices wrap arrays with a length and capacity.", Ordinal: 0, Embedding: []float32{0, 1, 0}},
		{ID: "3_0", SourceID: 3, Title: "No vector", Text: "This passage has no embedding but mentions reflection.", Ordinal: 0},
	}
	if err := idx.Upsert(context.Background(), passages); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return idx
}

func TestVectorSearchOrdering(t *testing.T) {
	t.Parallel()
	idx := seedIndex(t)
	results, err := idx.VectorSearch(context.Background(), []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Passage.ID != "1_0" {
		t.Errorf("top hit = %s, want 1_0", results[0].Passage.ID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not descending: %f then %f", results[0].Score, results[1].Score)
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Errorf("ranks = %d, %d", results[0].Rank, results[1].Rank)
	}
}

func TestVectorSearchSkipsUnembedded(t *testing.T) {
	t.Parallel()
	idx := seedIndex(t)
	results, err := idx.VectorSearch(context.Background(), []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	for _, r := range results {
		if r.Passage.ID == "3_0" {
			t.Fatal("passage without embedding surfaced in vector search")
		}
	}
}

func TestKeywordSearchFindsUnembedded(t *testing.T) {
	t.Parallel()
	idx := seedIndex(t)
	hits, err := idx.KeywordSearch(context.Background(), "reflection")
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	found := false
	for _, p := range hits {
		if p.ID == "3_0" {
			found = true
		}
	}
	if !found {
		t.Fatal("keyword search missed passage without embedding")
	}
}

func TestUpsertReplacesVector(t *testing.T) {
	t.Parallel()
	idx := seedIndex(t)
	ctx := context.Background()
	update := []models.Passage{{ID: "2_0", SourceID: 2, Title: "Slices", Text: "Slices wrap arrays.", Ordinal: 0, Embedding: []float32{1, 0, 0}}}
	if err := idx.Upsert(ctx, update); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 4 {
		t.Fatalf("count = %d, want 4", n)
	}
	results, err := idx.VectorSearch(ctx, []float32{1, 0, 0}, 4)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	seen := map[string]int{}
	for _, r := range results {
		seen[r.Passage.ID]++
	}
	if seen["2_0"] != 1 {
		t.Fatalf("expected exactly one vector entry for 2_0, got %d", seen["2_0"])
	}
}
