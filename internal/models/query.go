package models

import (
	"fmt"
	"time"
)

const (
	// DefaultLimit is the result count used when a query leaves Limit unset.
	DefaultLimit = 10
	// DefaultThreshold is the minimum vector similarity used when a query leaves Threshold unset.
	DefaultThreshold = 0.5
)

// TimeRange bounds record timestamps. Both bounds are inclusive; a nil bound imposes no constraint.
type TimeRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether ts lies within the range.
func (tr *TimeRange) Contains(ts time.Time) bool {
	if tr == nil {
		return true
	}
	if tr.Start != nil && ts.Before(*tr.Start) {
		return false
	}
	if tr.End != nil && ts.After(*tr.End) {
		return false
	}
	return true
}

// Query is the input to a retrieval call.
type Query struct {
	OwnerID           string     `json:"owner_id"`
	Text              string     `json:"query,omitempty"`
	Embedding         []float32  `json:"embedding,omitempty"`
	Limit             int        `json:"limit,omitempty"`
	Threshold         *float64   `json:"threshold,omitempty"`
	Platforms         []Platform `json:"platforms,omitempty"`
	TimeRange         *TimeRange `json:"time_range,omitempty"`
	IncludeImportance bool       `json:"include_importance,omitempty"`
	Moods             []string   `json:"moods,omitempty"`
}

// Validate checks the query invariants. A zero Limit and a nil Threshold are
// valid and mean "use the default".
func (q *Query) Validate() error {
	if q == nil {
		return fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}
	if q.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidQuery)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidQuery, q.Limit)
	}
	if q.Threshold != nil && (*q.Threshold < 0 || *q.Threshold > 1) {
		return fmt.Errorf("%w: threshold must be within [0,1], got %g", ErrInvalidQuery, *q.Threshold)
	}
	for _, p := range q.Platforms {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown platform %q", ErrInvalidQuery, p)
		}
	}
	return nil
}

// ThresholdOr returns the query threshold, or def when unset.
func (q *Query) ThresholdOr(def float64) float64 {
	if q.Threshold == nil {
		return def
	}
	return *q.Threshold
}

// AllowsPlatform reports whether p passes the platform allow-list.
func (q *Query) AllowsPlatform(p Platform) bool {
	if len(q.Platforms) == 0 {
		return true
	}
	for _, allowed := range q.Platforms {
		if allowed == p {
			return true
		}
	}
	return false
}

// HasMoodFilter reports whether the query carries a mood allow-list.
func (q *Query) HasMoodFilter() bool {
	return len(q.Moods) > 0
}

// AllowsMood reports whether mood is in the mood allow-list.
func (q *Query) AllowsMood(mood string) bool {
	for _, m := range q.Moods {
		if m == mood {
			return true
		}
	}
	return false
}

// Clone returns a shallow copy of the query.
func (q *Query) Clone() *Query {
	c := *q
	return &c
}
