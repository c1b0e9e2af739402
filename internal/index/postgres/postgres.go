package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/hamedsk/corpusqa/models"
)

// Index is the Postgres-backed passage store. Vector search uses pgvector's
// cosine distance operator; keyword search uses a tsvector match. Schema is
// managed by the migrate command.
type Index struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Index, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Index{DB: db}, nil
}

// Upsert stores or replaces passages. A missing embedding is stored as NULL
// and the passage is excluded from vector search until re-ingested with one.
func (idx *Index) Upsert(ctx context.Context, passages []models.Passage) (err error) {
	if len(passages) == 0 {
		return nil
	}
	tx, err := idx.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO passages (id, source_id, title, content, ordinal, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6::vector,NOW())
ON CONFLICT (id) DO UPDATE SET
  source_id = EXCLUDED.source_id,
  title = EXCLUDED.title,
  content = EXCLUDED.content,
  ordinal = EXCLUDED.ordinal,
  embedding = EXCLUDED.embedding,
  created_at = NOW();
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range passages {
		if p.ID == "" {
			return fmt.Errorf("passage id required")
		}
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("passage %s has empty text", p.ID)
		}
		var vectorLiteral interface{}
		if len(p.Embedding) > 0 {
			lit, encErr := encodeVectorLiteral(p.Embedding)
			if encErr != nil {
				return encErr
			}
			vectorLiteral = lit
		}
		if _, err = stmt.ExecContext(ctx, p.ID, p.SourceID, p.Title, p.Text, p.Ordinal, vectorLiteral); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit passages: %w", err)
	}
	return nil
}

// VectorSearch returns the k nearest passages by cosine similarity.
func (idx *Index) VectorSearch(ctx context.Context, vector []float32, k int) ([]models.RankedResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := idx.DB.QueryContext(ctx, `
SELECT id, source_id, title, content, ordinal, 1 - (embedding <=> $1::vector) AS score
FROM passages
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1::vector
LIMIT $2
`, vecLiteral, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.RankedResult
	for rows.Next() {
		var p models.Passage
		if err := rows.Scan(&p.ID, &p.SourceID, &p.Title, &p.Text, &p.Ordinal, &p.Score); err != nil {
			return nil, err
		}
		results = append(results, models.RankedResult{Passage: p, Score: p.Score, Rank: len(results) + 1})
	}
	return results, rows.Err()
}

// KeywordSearch returns passages whose content matches the query terms.
func (idx *Index) KeywordSearch(ctx context.Context, query string) ([]models.Passage, error) {
	rows, err := idx.DB.QueryContext(ctx, `
SELECT id, source_id, title, content, ordinal
FROM passages
WHERE to_tsvector('english', title || ' ' || content) @@ plainto_tsquery('english', $1)
`, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Passage
	for rows.Next() {
		var p models.Passage
		if err := rows.Scan(&p.ID, &p.SourceID, &p.Title, &p.Text, &p.Ordinal); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Count reports the number of stored passages.
func (idx *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	err := idx.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n)
	return n, err
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
