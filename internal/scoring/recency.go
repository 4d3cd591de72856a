package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

const (
	// RecencyHalfLife is the age at which the recency bonus halves.
	RecencyHalfLife = 24 * time.Hour
	decayConstant   = 0.693

	// RelevanceWeight and RecencyWeight blend the combined score.
	RelevanceWeight = 0.8
	RecencyWeight   = 0.2
)

// RecencyBonus returns exp(-0.693 * hours / 24) for the age of ts at now.
// Timestamps in the future count as zero elapsed time.
func RecencyBonus(ts, now time.Time) float64 {
	elapsed := now.Sub(ts)
	if elapsed < 0 {
		elapsed = 0
	}
	hours := elapsed.Hours()
	return math.Exp(-decayConstant * hours / RecencyHalfLife.Hours())
}

// Memoize stores the recency bonus on r unless it is already set.
func Memoize(r *models.SearchResult, now time.Time) {
	if r.RecencyBonus != nil {
		return
	}
	v := RecencyBonus(r.Record.CreatedAt, now)
	r.RecencyBonus = &v
}

// CombinedScore is the ranking key: 0.8*relevance + 0.2*recency.
func CombinedScore(r *models.SearchResult, now time.Time) float64 {
	var recency float64
	if r.RecencyBonus != nil {
		recency = *r.RecencyBonus
	} else {
		recency = RecencyBonus(r.Record.CreatedAt, now)
	}
	return r.Relevance*RelevanceWeight + recency*RecencyWeight
}

// Rank memoizes recency on every result and sorts them by non-increasing
// combined score. Ties keep their input order.
func Rank(results []*models.SearchResult, now time.Time) {
	for _, r := range results {
		Memoize(r, now)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return CombinedScore(results[i], now) > CombinedScore(results[j], now)
	})
}
