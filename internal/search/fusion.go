// Package search implements the retrieval engine and the fusion of vector and keyword result sets.
package search

import "github.com/hyperjump/kioku/internal/models"

// VectorBoost multiplies vector-origin similarity before fusion.
const VectorBoost = 1.2

// BoostVector returns copies of results with similarity multiplied by factor and capped at 1.
func BoostVector(results []*models.SearchResult, factor float64) []*models.SearchResult {
	out := make([]*models.SearchResult, len(results))
	for i, r := range results {
		c := r.Clone()
		c.Similarity = min(c.Similarity*factor, 1.0)
		out[i] = c
	}
	return out
}

// Fuse merges a and b by record id. Shared ids keep the larger similarity and
// the larger relevance; a memoized recency bonus survives from either side.
// Inputs are not modified. Output is in first-seen order, a then b.
func Fuse(a, b []*models.SearchResult) []*models.SearchResult {
	merged := make(map[string]*models.SearchResult, len(a)+len(b))
	order := make([]string, 0, len(a)+len(b))

	add := func(r *models.SearchResult) {
		id := r.Record.ID
		existing, ok := merged[id]
		if !ok {
			merged[id] = r.Clone()
			order = append(order, id)
			return
		}
		existing.Similarity = max(existing.Similarity, r.Similarity)
		existing.Relevance = max(existing.Relevance, r.Relevance)
		if existing.RecencyBonus == nil && r.RecencyBonus != nil {
			v := *r.RecencyBonus
			existing.RecencyBonus = &v
		}
	}
	for _, r := range a {
		add(r)
	}
	for _, r := range b {
		add(r)
	}

	out := make([]*models.SearchResult, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return out
}
