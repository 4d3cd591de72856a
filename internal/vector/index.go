// Package vector provides similarity helpers, embedding codecs and a brute-force in-memory index.
package vector

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity
}
