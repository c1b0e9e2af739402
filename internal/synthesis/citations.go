package synthesis

import (
	"fmt"
	"sort"

	"github.com/hamedsk/corpusqa/models"
)

const (
	defaultMaxCitations = 5
	defaultCitationURL  = "https://stackoverflow.com/questions/%d"
)

// ExtractCitations projects the passages that went into a prompt down to at
// most maxCitations entries, one per distinct source. Each source keeps the
// maximum score observed across its passages and the title of the passage that
// carried it. Output is sorted descending by that score; equal scores keep
// first-seen source order.
func ExtractCitations(passages []models.RankedResult, maxCitations int, urlTemplate string) []models.Citation {
	if maxCitations <= 0 {
		maxCitations = defaultMaxCitations
	}
	if urlTemplate == "" {
		urlTemplate = defaultCitationURL
	}

	var order []int64
	best := make(map[int64]models.Citation)
	for _, r := range passages {
		c, seen := best[r.Passage.SourceID]
		if !seen {
			order = append(order, r.Passage.SourceID)
			c = models.Citation{
				SourceID: r.Passage.SourceID,
				Title:    r.Passage.Title,
				URL:      fmt.Sprintf(urlTemplate, r.Passage.SourceID),
				Score:    r.Score,
			}
		} else if r.Score > c.Score {
			c.Score = r.Score
			c.Title = r.Passage.Title
		}
		best[r.Passage.SourceID] = c
	}

	out := make([]models.Citation, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > maxCitations {
		out = out[:maxCitations]
	}
	return out
}
