package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hamedsk/corpusqa/models"
)

// charsPerToken is the fixed approximation used everywhere a token estimate is
// needed: roughly four characters per token.
const charsPerToken = 4

var sentenceSplitter = regexp.MustCompile(`(?s)(.*?[.!?])(?:\s+|$)`)

// Chunker splits source documents into overlapping, sentence-boundary
// respecting passages of bounded estimated token length.
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

// New validates the chunk bounds and returns a Chunker. The overlap must be
// strictly smaller than the chunk size and both must be positive.
func New(maxTokens, overlapTokens int) (*Chunker, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", models.ErrInvalidArgument, maxTokens)
	}
	if overlapTokens < 0 {
		return nil, fmt.Errorf("%w: overlap tokens must not be negative, got %d", models.ErrInvalidArgument, overlapTokens)
	}
	if overlapTokens >= maxTokens {
		return nil, fmt.Errorf("%w: overlap tokens (%d) must be smaller than max tokens (%d)", models.ErrInvalidArgument, overlapTokens, maxTokens)
	}
	return &Chunker{maxTokens: maxTokens, overlapTokens: overlapTokens}, nil
}

// Chunk splits the document's displayable text into ordered passages. A
// document with no extractable sentences yields an empty slice, not an error.
func (c *Chunker) Chunk(doc models.SourceDocument) ([]models.Passage, error) {
	text := joinDocumentText(doc)
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	var (
		passages []models.Passage
		current  strings.Builder
	)

	emit := func() {
		chunkText := strings.TrimSpace(current.String())
		if chunkText == "" {
			return
		}
		ordinal := len(passages)
		passages = append(passages, models.Passage{
			ID:       models.PassageID(doc.ID, ordinal),
			SourceID: doc.ID,
			Title:    doc.Title,
			Text:     chunkText,
			Ordinal:  ordinal,
		})
	}

	for _, sentence := range sentences {
		if current.Len() > 0 && estimateTokens(current.Len()+1+len(sentence)) > c.maxTokens {
			emit()
			seed := overlapSeed(passages[len(passages)-1].Text, c.overlapTokens)
			current.Reset()
			current.WriteString(seed)
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	emit()

	return passages, nil
}

// estimateTokens approximates the token count of n characters, rounding up.
func estimateTokens(n int) int {
	return (n + charsPerToken - 1) / charsPerToken
}

// joinDocumentText concatenates the displayable fields into one body of text.
func joinDocumentText(doc models.SourceDocument) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{doc.Title, doc.Body, doc.Answer} {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// splitSentences finds split points at sentence-ending punctuation followed by
// whitespace. It never removes content: trailing text without terminal
// punctuation is kept as a final sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	consumed := 0
	for _, m := range sentenceSplitter.FindAllStringSubmatchIndex(text, -1) {
		s := strings.TrimSpace(text[m[2]:m[3]])
		if s != "" {
			out = append(out, s)
		}
		consumed = m[1]
	}
	if rest := strings.TrimSpace(text[consumed:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// overlapSeed returns the trailing overlapTokens-worth of characters from the
// previous chunk. A cut that lands mid-word is trimmed forward to the next
// word boundary so the seed never starts with a partial word.
func overlapSeed(prev string, overlapTokens int) string {
	if overlapTokens <= 0 {
		return ""
	}
	budget := overlapTokens * charsPerToken
	if budget >= len(prev) {
		return prev
	}
	seed := prev[len(prev)-budget:]
	if !isWordBoundary(prev[len(prev)-budget-1]) {
		idx := strings.IndexAny(seed, " \t\n")
		if idx < 0 {
			return ""
		}
		seed = seed[idx+1:]
	}
	return strings.TrimSpace(seed)
}

func isWordBoundary(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n'
}
