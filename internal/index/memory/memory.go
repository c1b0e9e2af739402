package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/hamedsk/corpusqa/models"
)

type storedVector struct {
	passageID string
	vec       []float32
}

// Index is an in-process passage index: a mem-only bleve index for keyword
// match plus a flat vector list with cosine similarity, sized for small
// corpora and tests.
type Index struct {
	mu      sync.RWMutex
	keyword bleve.Index
	meta    map[string]models.Passage
	vectors []storedVector
}

type keywordDoc struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// New builds an empty in-memory index.
func New() (*Index, error) {
	kw, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{keyword: kw, meta: make(map[string]models.Passage)}, nil
}

// Upsert stores the passages and indexes their text for keyword search.
// Passages without an embedding stay keyword-searchable only.
func (idx *Index) Upsert(_ context.Context, passages []models.Passage) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, p := range passages {
		if _, exists := idx.meta[p.ID]; exists {
			idx.removeVectorLocked(p.ID)
		}
		idx.meta[p.ID] = p
		if len(p.Embedding) > 0 {
			idx.vectors = append(idx.vectors, storedVector{passageID: p.ID, vec: p.Embedding})
		}
		if err := idx.keyword.Index(p.ID, keywordDoc{Title: p.Title, Text: p.Text}); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) removeVectorLocked(passageID string) {
	for i, v := range idx.vectors {
		if v.passageID == passageID {
			idx.vectors = append(idx.vectors[:i], idx.vectors[i+1:]...)
			return
		}
	}
}

// VectorSearch ranks stored vectors by cosine similarity to the query vector.
func (idx *Index) VectorSearch(_ context.Context, vector []float32, k int) ([]models.RankedResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	scoreds := make([]scored, 0, len(idx.vectors))
	for _, v := range idx.vectors {
		scoreds = append(scoreds, scored{id: v.passageID, score: cosine(vector, v.vec)})
	}
	sort.SliceStable(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })

	out := make([]models.RankedResult, 0, k)
	for i, sc := range scoreds {
		if len(out) >= k {
			break
		}
		p := idx.meta[sc.id]
		p.Score = sc.score
		out = append(out, models.RankedResult{Passage: p, Score: sc.score, Rank: i + 1})
	}
	return out, nil
}

// KeywordSearch returns passages whose indexed text matches the query.
func (idx *Index) KeywordSearch(_ context.Context, query string) ([]models.Passage, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, len(idx.meta)+1, 0, false)
	res, err := idx.keyword.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]models.Passage, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if p, ok := idx.meta[hit.ID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Count reports the number of stored passages.
func (idx *Index) Count(_ context.Context) (int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return int64(len(idx.meta)), nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
