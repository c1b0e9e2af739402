package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/hamedsk/corpusqa/config"
	"github.com/hamedsk/corpusqa/internal/cache"
	"github.com/hamedsk/corpusqa/internal/index"
	"github.com/hamedsk/corpusqa/models"
)

// Embedder is the slice of the provider contract this engine needs.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Engine answers passage queries against the index. Hybrid mode fuses a
// vector-similarity result set with a keyword match set using weighted scores;
// query embeddings go through the embedding cache first.
type Engine struct {
	embedder Embedder
	idx      index.Index
	cache    *cache.Service
	cfg      config.RetrievalConfig
	embTTL   time.Duration
	logger   *log.Logger
}

// NewEngine wires the retrieval collaborators. A nil logger gets a prefixed
// default; weights and topK fall back to their configured defaults.
func NewEngine(embedder Embedder, idx index.Index, cacheSvc *cache.Service, cfg config.RetrievalConfig, embTTL time.Duration, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	return &Engine{
		embedder: embedder,
		idx:      idx,
		cache:    cacheSvc,
		cfg:      cfg.Normalize(),
		embTTL:   embTTL,
		logger:   logger,
	}
}

// Search returns at most topK passages for the query, descending by score.
// With useHybrid set, vector results are over-fetched at twice topK and fused
// with keyword matches; without it, raw vector similarity order is returned.
// Collaborator failures are not retried here and surface to the caller with
// stage attribution.
func (e *Engine) Search(ctx context.Context, query string, topK int, useHybrid bool) ([]models.RankedResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", models.ErrInvalidArgument)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", models.ErrInvalidArgument, topK)
	}

	vec, err := e.queryEmbedding(ctx, query)
	if err != nil {
		return nil, models.NewStageError(models.StageEmbedding, err)
	}

	fetchK := topK
	if useHybrid {
		fetchK = 2 * topK
	}
	vectorHits, err := e.idx.VectorSearch(ctx, vec, fetchK)
	if err != nil {
		return nil, models.NewStageError(models.StageRetrieval, fmt.Errorf("vector search: %w", err))
	}
	if !useHybrid {
		return vectorHits, nil
	}

	keywordHits, err := e.idx.KeywordSearch(ctx, query)
	if err != nil {
		return nil, models.NewStageError(models.StageRetrieval, fmt.Errorf("keyword search: %w", err))
	}
	return e.fuse(vectorHits, keywordHits, topK), nil
}

// fuse computes combinedScore = vectorWeight*vectorScore + keywordWeight*keywordScore
// per passage, with a missing modality contributing 0. Keyword matches score a
// flat 1.0 since the index reports presence, not graded relevance. Ties sort by
// original vector rank; keyword-only passages come after all vector hits.
func (e *Engine) fuse(vectorHits []models.RankedResult, keywordHits []models.Passage, topK int) []models.RankedResult {
	type candidate struct {
		passage      models.Passage
		vectorScore  float64
		keywordScore float64
	}

	ordered := make([]*candidate, 0, len(vectorHits)+len(keywordHits))
	byID := make(map[string]*candidate, len(vectorHits)+len(keywordHits))
	for _, hit := range vectorHits {
		c := &candidate{passage: hit.Passage, vectorScore: hit.Score}
		ordered = append(ordered, c)
		byID[hit.Passage.ID] = c
	}
	for _, p := range keywordHits {
		if c, ok := byID[p.ID]; ok {
			c.keywordScore = 1.0
			continue
		}
		c := &candidate{passage: p, keywordScore: 1.0}
		ordered = append(ordered, c)
		byID[p.ID] = c
	}

	combined := func(c *candidate) float64 {
		return e.cfg.VectorWeight*c.vectorScore + e.cfg.KeywordWeight*c.keywordScore
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return combined(ordered[i]) > combined(ordered[j])
	})

	if len(ordered) > topK {
		ordered = ordered[:topK]
	}
	out := make([]models.RankedResult, 0, len(ordered))
	for i, c := range ordered {
		score := combined(c)
		p := c.passage
		p.Score = score
		out = append(out, models.RankedResult{Passage: p, Score: score, Rank: i + 1})
	}
	return out
}

// queryEmbedding resolves the query vector cache-aside: a cached JSON vector is
// reused, otherwise the embedder is called once and the result stored with the
// configured TTL. A corrupt cached value is recomputed, not surfaced.
func (e *Engine) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	key := cache.EmbeddingKey(query)
	if raw, ok := e.cache.Get(ctx, key); ok {
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
		e.logger.Printf("discarding undecodable cached embedding for %s", key)
	}

	vecs, err := e.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embed query: provider returned no vector")
	}
	if encoded, err := json.Marshal(vecs[0]); err == nil {
		e.cache.Set(ctx, key, string(encoded), e.embTTL)
	}
	return vecs[0], nil
}
