package index

import (
	"context"

	"github.com/hamedsk/corpusqa/models"
)

// Index is the passage store the retrieval engine searches. Implementations
// are read-mostly from the pipeline's perspective: search never mutates stored
// passages, and writes happen only on the ingestion path.
type Index interface {
	// Upsert stores or replaces the given passages.
	Upsert(ctx context.Context, passages []models.Passage) error

	// VectorSearch returns up to k passages ranked by descending similarity
	// to the query vector. Passages without an embedding never appear.
	VectorSearch(ctx context.Context, vector []float32, k int) ([]models.RankedResult, error)

	// KeywordSearch returns the passages whose text matches the query. The
	// result set carries no ordering guarantee; relevance is binary.
	KeywordSearch(ctx context.Context, query string) ([]models.Passage, error)

	// Count reports the number of stored passages.
	Count(ctx context.Context) (int64, error)
}
