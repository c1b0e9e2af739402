package synthesis

import (
	"fmt"
	"strings"

	"github.com/hamedsk/corpusqa/models"
)

// BuildPrompt renders the grounding block for the generation call. Passages are
// numbered 1-based in the order they arrive; that order carries relevance
// priority, so it must be the fused retrieval order. Output is deterministic
// for identical inputs.
func BuildPrompt(question string, passages []models.RankedResult) string {
	var b strings.Builder
	b.WriteString("You are a technical assistant. Answer the question using only the context passages below.\n\n")
	b.WriteString("Context passages:\n")
	for i, r := range passages {
		fmt.Fprintf(&b, "[%d] %s (relevance %.4f)\n%s\n\n", i+1, r.Passage.Title, r.Score, r.Passage.Text)
	}
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString("Answer concisely and cite the passages you used by their bracketed numbers.")
	return b.String()
}
