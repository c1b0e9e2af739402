package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Key namespaces. Embedding keys depend only on the normalized query text;
// response keys depend on every semantically relevant request parameter.
const (
	nsEmbedding = "emb"
	nsResponse  = "resp"
)

// NormalizeQuery canonicalizes query text for key derivation: lower-cased,
// trimmed, inner whitespace collapsed. Two queries that normalize equally are
// considered the same cached question.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// EmbeddingKey derives the cache key for a query embedding.
func EmbeddingKey(query string) string {
	return deriveKey(nsEmbedding, NormalizeQuery(query))
}

// ResponseKey derives the cache key for a synthesized answer. Any change to
// the query, the requested passage count, or the retrieval mode changes the key.
func ResponseKey(query string, topK int, hybrid bool) string {
	return deriveKey(nsResponse, NormalizeQuery(query), strconv.Itoa(topK), strconv.FormatBool(hybrid))
}

// deriveKey is pure: identical parameter tuples always yield the identical key.
// Parameters are length-prefixed before hashing so adjacent fields cannot
// collide by concatenation.
func deriveKey(kind string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	return kind + ":" + hex.EncodeToString(h.Sum(nil))
}
