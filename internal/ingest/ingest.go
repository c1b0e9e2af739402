package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/hamedsk/corpusqa/internal/chunker"
	"github.com/hamedsk/corpusqa/internal/index"
	"github.com/hamedsk/corpusqa/models"
)

// Source yields the documents to index.
type Source interface {
	Load(ctx context.Context) ([]models.SourceDocument, error)
}

// Embedder is the slice of the provider contract ingestion needs.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// JSONLSource reads one JSON-encoded SourceDocument per line.
type JSONLSource struct {
	Path string
}

func (s JSONLSource) Load(_ context.Context) ([]models.SourceDocument, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	var docs []models.SourceDocument
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var doc models.SourceDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("corpus line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return docs, nil
}

// Stats summarizes one ingestion pass.
type Stats struct {
	Documents int
	Skipped   int
	Passages  int
	Indexed   int64
}

// Pipeline chunks source documents, embeds the chunks in batches and writes
// them to the index.
type Pipeline struct {
	source    Source
	chunker   *chunker.Chunker
	embedder  Embedder
	idx       index.Index
	batchSize int
	logger    *log.Logger
}

// NewPipeline wires the ingestion collaborators. batchSize bounds how many
// passages go into one embedding call.
func NewPipeline(source Source, ch *chunker.Chunker, embedder Embedder, idx index.Index, batchSize int, logger *log.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = 32
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Pipeline{source: source, chunker: ch, embedder: embedder, idx: idx, batchSize: batchSize, logger: logger}
}

// Run executes one full ingestion pass. Documents that fail the chunkability
// invariant (non-positive id or no tags) are skipped and counted, not fatal.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	docs, err := p.source.Load(ctx)
	if err != nil {
		return stats, err
	}
	stats.Documents = len(docs)

	var passages []models.Passage
	for _, doc := range docs {
		if !doc.Chunkable() {
			stats.Skipped++
			p.logger.Printf("skipping document %d: not chunkable", doc.ID)
			continue
		}
		chunks, err := p.chunker.Chunk(doc)
		if err != nil {
			return stats, fmt.Errorf("chunk document %d: %w", doc.ID, err)
		}
		passages = append(passages, chunks...)
	}
	stats.Passages = len(passages)

	for start := 0; start < len(passages); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := start + p.batchSize
		if end > len(passages) {
			end = len(passages)
		}
		batch := passages[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}
		vectors, err := p.embedder.CreateEmbedding(ctx, texts)
		if err != nil {
			return stats, models.NewStageError(models.StageEmbedding, fmt.Errorf("embed batch at %d: %w", start, err))
		}
		if len(vectors) != len(batch) {
			return stats, models.NewStageError(models.StageEmbedding, fmt.Errorf("embed batch at %d: got %d vectors for %d texts", start, len(vectors), len(batch)))
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}
		if err := p.idx.Upsert(ctx, batch); err != nil {
			return stats, fmt.Errorf("index batch at %d: %w", start, err)
		}
	}

	stats.Indexed, err = p.idx.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("count indexed passages: %w", err)
	}
	p.logger.Printf("ingested %d documents (%d skipped) into %d passages, index now holds %d",
		stats.Documents, stats.Skipped, stats.Passages, stats.Indexed)
	return stats, nil
}
