package retrieval

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/hamedsk/corpusqa/config"
	"github.com/hamedsk/corpusqa/internal/cache"
	"github.com/hamedsk/corpusqa/models"
)

type fakeEmbedder struct {
	calls int
	vec   []float32
	err   error
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeIndex struct {
	vectorHits  []models.RankedResult
	keywordHits []models.Passage
	vectorErr   error
	keywordErr  error
	lastK       int
}

func (f *fakeIndex) Upsert(context.Context, []models.Passage) error { return nil }

func (f *fakeIndex) VectorSearch(_ context.Context, _ []float32, k int) ([]models.RankedResult, error) {
	f.lastK = k
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	if len(f.vectorHits) > k {
		return f.vectorHits[:k], nil
	}
	return f.vectorHits, nil
}

func (f *fakeIndex) KeywordSearch(context.Context, string) ([]models.Passage, error) {
	if f.keywordErr != nil {
		return nil, f.keywordErr
	}
	return f.keywordHits, nil
}

func (f *fakeIndex) Count(context.Context) (int64, error) {
	return int64(len(f.vectorHits)), nil
}

func ranked(id string, sourceID int64, score float64, rank int) models.RankedResult {
	return models.RankedResult{
		Passage: models.Passage{ID: id, SourceID: sourceID, Text: "text " + id, Score: score},
		Score:   score,
		Rank:    rank,
	}
}

func newTestEngine(emb *fakeEmbedder, idx *fakeIndex) *Engine {
	svc := cache.NewService(cache.NewMemoryKV(), log.New(io.Discard, "", 0))
	cfg := config.RetrievalConfig{TopK: 5, VectorWeight: 0.5, KeywordWeight: 0.5, HybridDefault: true}
	return NewEngine(emb, idx, svc, cfg, time.Hour, log.New(io.Discard, "", 0))
}

func TestSearchRejectsBadArguments(t *testing.T) {
	t.Parallel()
	e := newTestEngine(&fakeEmbedder{vec: []float32{1}}, &fakeIndex{})

	if _, err := e.Search(context.Background(), "   ", 5, true); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("blank query: got %v, want ErrInvalidArgument", err)
	}
	if _, err := e.Search(context.Background(), "how do slices work", 0, true); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("topK=0: got %v, want ErrInvalidArgument", err)
	}
}

func TestSearchVectorOnly(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{vectorHits: []models.RankedResult{
		ranked("1_0", 1, 0.9, 1),
		ranked("2_0", 2, 0.7, 2),
		ranked("3_0", 3, 0.5, 3),
	}}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1, 0}}, idx)

	got, err := e.Search(context.Background(), "goroutines", 2, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if idx.lastK != 2 {
		t.Errorf("vector-only fetched k=%d, want 2", idx.lastK)
	}
	if len(got) != 2 || got[0].Passage.ID != "1_0" || got[1].Passage.ID != "2_0" {
		t.Fatalf("unexpected results: %+v", got)
	}
	if got[0].Score != 0.9 {
		t.Errorf("vector-only must keep raw similarity, got %f", got[0].Score)
	}
}

func TestSearchHybridOverfetchesVector(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{vectorHits: []models.RankedResult{ranked("1_0", 1, 0.9, 1)}}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1, 0}}, idx)

	if _, err := e.Search(context.Background(), "goroutines", 3, true); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if idx.lastK != 6 {
		t.Errorf("hybrid fetched k=%d, want 6", idx.lastK)
	}
}

func TestSearchHybridSurfacesKeywordOnlyMatch(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{
		vectorHits: []models.RankedResult{
			ranked("1_0", 1, 0.9, 1),
			ranked("2_0", 2, 0.8, 2),
		},
		keywordHits: []models.Passage{{ID: "9_0", SourceID: 9, Text: "exact keyword hit"}},
	}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1, 0}}, idx)

	got, err := e.Search(context.Background(), "keyword", 5, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, r := range got {
		if r.Passage.ID == "9_0" {
			found = true
			// keyword-only: 0.5*0 + 0.5*1.0
			if r.Score != 0.5 {
				t.Errorf("keyword-only score = %f, want 0.5", r.Score)
			}
		}
	}
	if !found {
		t.Fatal("keyword-only passage missing from hybrid results")
	}
}

func TestSearchHybridFusionBoostsDualMatches(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{
		vectorHits: []models.RankedResult{
			ranked("1_0", 1, 0.9, 1),
			ranked("2_0", 2, 0.6, 2),
		},
		keywordHits: []models.Passage{{ID: "2_0", SourceID: 2, Text: "text 2_0"}},
	}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1, 0}}, idx)

	got, err := e.Search(context.Background(), "slices", 5, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	// 2_0 fuses to 0.5*0.6 + 0.5*1.0 = 0.8 and overtakes 1_0 at 0.45.
	if got[0].Passage.ID != "2_0" {
		t.Errorf("top result = %s, want 2_0", got[0].Passage.ID)
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("results not descending: %f then %f", got[0].Score, got[1].Score)
	}
	if got[0].Rank != 1 || got[1].Rank != 2 {
		t.Errorf("ranks = %d, %d", got[0].Rank, got[1].Rank)
	}
}

func TestSearchHybridTiesKeepVectorOrder(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{vectorHits: []models.RankedResult{
		ranked("1_0", 1, 0.7, 1),
		ranked("2_0", 2, 0.7, 2),
	}}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1, 0}}, idx)

	got, err := e.Search(context.Background(), "channels", 5, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got[0].Passage.ID != "1_0" || got[1].Passage.ID != "2_0" {
		t.Errorf("tie broke vector order: %s then %s", got[0].Passage.ID, got[1].Passage.ID)
	}
}

func TestSearchTruncatesToTopK(t *testing.T) {
	t.Parallel()
	var hits []models.RankedResult
	for i := 0; i < 8; i++ {
		hits = append(hits, ranked(models.PassageID(int64(i+1), 0), int64(i+1), 0.9-float64(i)*0.05, i+1))
	}
	idx := &fakeIndex{vectorHits: hits}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1, 0}}, idx)

	got, err := e.Search(context.Background(), "interfaces", 3, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
}

func TestSearchReusesCachedEmbedding(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{vec: []float32{0.25, 0.5}}
	e := newTestEngine(emb, &fakeIndex{})

	for i := 0; i < 3; i++ {
		if _, err := e.Search(context.Background(), "What Is A Goroutine", 5, false); err != nil {
			t.Fatalf("Search %d: %v", i, err)
		}
	}
	// Case and spacing variants normalize to the same cached embedding.
	if _, err := e.Search(context.Background(), "  what is a   goroutine ", 5, false); err != nil {
		t.Fatalf("Search variant: %v", err)
	}
	if emb.calls != 1 {
		t.Errorf("embedder called %d times, want 1", emb.calls)
	}
}

func TestSearchAttributesFailures(t *testing.T) {
	t.Parallel()
	boom := errors.New("backend down")

	e := newTestEngine(&fakeEmbedder{err: boom}, &fakeIndex{})
	_, err := e.Search(context.Background(), "maps", 5, true)
	if !errors.Is(err, boom) {
		t.Fatalf("embedding failure not propagated: %v", err)
	}
	if got := models.FailedStage(err); got != models.StageEmbedding {
		t.Errorf("stage = %q, want %q", got, models.StageEmbedding)
	}

	e = newTestEngine(&fakeEmbedder{vec: []float32{1}}, &fakeIndex{vectorErr: boom})
	_, err = e.Search(context.Background(), "maps", 5, true)
	if !errors.Is(err, boom) {
		t.Fatalf("index failure not propagated: %v", err)
	}
	if got := models.FailedStage(err); got != models.StageRetrieval {
		t.Errorf("stage = %q, want %q", got, models.StageRetrieval)
	}
}
