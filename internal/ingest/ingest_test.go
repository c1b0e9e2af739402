package ingest

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/hamedsk/corpusqa/internal/chunker"
	"github.com/hamedsk/corpusqa/internal/index/memory"
	"github.com/hamedsk/corpusqa/models"
)

type sliceSource struct {
	docs []models.SourceDocument
	err  error
}

func (s sliceSource) Load(context.Context) ([]models.SourceDocument, error) {
	return s.docs, s.err
}

type countingEmbedder struct {
	batchSizes []int
	err        error
}

func (e *countingEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.batchSizes = append(e.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func testChunker(t *testing.T) *chunker.Chunker {
	t.Helper()
	ch, err := chunker.New(500, 50)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	return ch
}

func testIndex(t *testing.T) *memory.Index {
	t.Helper()
	idx, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	return idx
}

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestRunIndexesChunkableDocuments(t *testing.T) {
	t.Parallel()
	source := sliceSource{docs: []models.SourceDocument{
		{ID: 1, Title: "Goroutines", Body: "Goroutines are lightweight.", Tags: []string{"go"}},
		{ID: 2, Title: "No tags", Body: "Skipped for missing tags."},
		{ID: 0, Title: "Bad id", Body: "Skipped for bad id.", Tags: []string{"go"}},
		{ID: 3, Title: "Slices", Body: "Slices have length and capacity.", Answer: "Use append.", Tags: []string{"go", "slices"}},
	}}
	emb := &countingEmbedder{}
	idx := testIndex(t)

	stats, err := NewPipeline(source, testChunker(t), emb, idx, 32, discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Documents != 4 || stats.Skipped != 2 {
		t.Errorf("stats = %+v, want 4 documents with 2 skipped", stats)
	}
	if stats.Passages != 2 || stats.Indexed != 2 {
		t.Errorf("stats = %+v, want 2 passages indexed", stats)
	}

	hits, err := idx.KeywordSearch(context.Background(), "capacity")
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].SourceID != 3 {
		t.Fatalf("unexpected keyword hits: %+v", hits)
	}
	if len(hits[0].Embedding) == 0 {
		t.Error("indexed passage missing embedding")
	}
}

func TestRunBatchesEmbeddingCalls(t *testing.T) {
	t.Parallel()
	var docs []models.SourceDocument
	for i := int64(1); i <= 7; i++ {
		docs = append(docs, models.SourceDocument{ID: i, Title: "Doc", Body: "One short sentence.", Tags: []string{"go"}})
	}
	emb := &countingEmbedder{}

	stats, err := NewPipeline(sliceSource{docs: docs}, testChunker(t), emb, testIndex(t), 3, discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Passages != 7 {
		t.Fatalf("passages = %d, want 7", stats.Passages)
	}
	want := []int{3, 3, 1}
	if len(emb.batchSizes) != len(want) {
		t.Fatalf("batches = %v, want %v", emb.batchSizes, want)
	}
	for i, n := range want {
		if emb.batchSizes[i] != n {
			t.Errorf("batch %d size = %d, want %d", i, emb.batchSizes[i], n)
		}
	}
}

func TestRunSurfacesEmbeddingFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("provider down")
	source := sliceSource{docs: []models.SourceDocument{
		{ID: 1, Title: "Doc", Body: "One short sentence.", Tags: []string{"go"}},
	}}

	_, err := NewPipeline(source, testChunker(t), &countingEmbedder{err: boom}, testIndex(t), 32, discard()).Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want wrapped provider failure", err)
	}
	if models.FailedStage(err) != models.StageEmbedding {
		t.Errorf("stage = %q, want %q", models.FailedStage(err), models.StageEmbedding)
	}
}

func TestJSONLSource(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	content := `{"id":1,"title":"Goroutines","body":"Lightweight threads.","tags":["go"]}

{"id":2,"title":"Slices","body":"Backed by arrays.","answer":"Use append.","tags":["go","slices"]}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write corpus: %v", err)
	}

	docs, err := JSONLSource{Path: path}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len = %d, want 2 (blank lines skipped)", len(docs))
	}
	if docs[0].ID != 1 || docs[1].Answer != "Use append." {
		t.Errorf("unexpected docs: %+v", docs)
	}
}

func TestJSONLSourceRejectsMalformedLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	if err := os.WriteFile(path, []byte("{\"id\":1}\nnot json\n"), 0o600); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	if _, err := (JSONLSource{Path: path}).Load(context.Background()); err == nil {
		t.Fatal("expected error for malformed line")
	}
}
