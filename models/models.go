package models

import (
	"fmt"
	"time"
)

// SourceDocument is one record of the fixed question/answer corpus. The core
// never owns these; ingestion reads them and turns them into passages.
type SourceDocument struct {
	ID     int64    `json:"id"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Answer string   `json:"answer,omitempty"`
	Tags   []string `json:"tags"`
}

// Chunkable reports whether the document satisfies the ingestion invariants:
// a positive identifier and at least one tag.
func (d SourceDocument) Chunkable() bool {
	return d.ID > 0 && len(d.Tags) > 0
}

// Passage is one overlap-aware chunk of a source document, the unit of
// retrieval. Score is transient: it is populated only on copies returned from
// a search response and is never persisted.
type Passage struct {
	ID        string    `json:"id"`
	SourceID  int64     `json:"source_id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Ordinal   int       `json:"ordinal"`
	Embedding []float32 `json:"embedding,omitempty"`
	Score     float64   `json:"score,omitempty"`
}

// PassageID builds the deterministic passage identifier for a source/ordinal pair.
func PassageID(sourceID int64, ordinal int) string {
	return fmt.Sprintf("%d_%d", sourceID, ordinal)
}

// RankedResult is a single modality's scored hit (vector-only or keyword-only)
// before fusion. Rank is 1-based within its modality.
type RankedResult struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// Citation is a deduplicated, per-source reference derived from the passages
// used to produce an answer. Created fresh per answer, never persisted.
type Citation struct {
	SourceID int64   `json:"source_id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Score    float64 `json:"score"`
}

// Answer is the cached/streamed response payload for one question.
type Answer struct {
	ID        string     `json:"id"`
	Question  string     `json:"question"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	Cached    bool       `json:"cached,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
