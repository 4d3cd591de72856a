package models

// SearchResult is a single retrieval hit.
// Similarity is cosine similarity for vector hits, term overlap for keyword
// hits and 1.0 for recency fallback hits.
type SearchResult struct {
	Record       *Record  `json:"memory"`
	Similarity   float64  `json:"similarity"`
	Relevance    float64  `json:"relevance_score"`
	RecencyBonus *float64 `json:"recency_bonus,omitempty"`
}

// Clone returns a copy that shares the record but not the scores.
func (r *SearchResult) Clone() *SearchResult {
	c := *r
	if r.RecencyBonus != nil {
		v := *r.RecencyBonus
		c.RecencyBonus = &v
	}
	return &c
}

// ContextResult is the output of a context-expanded retrieval.
type ContextResult struct {
	Primary []*SearchResult `json:"primary"`
	Context []*Record       `json:"context"`
}
