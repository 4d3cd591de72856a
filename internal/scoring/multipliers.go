// Package scoring computes relevance, recency and the combined ranking key for search results.
package scoring

import "github.com/hyperjump/kioku/internal/models"

const (
	// BaselineSimilarity seeds relevance when no similarity is available.
	BaselineSimilarity = 0.5

	// ImportanceWeight scales importance into a (1 + importance*w) multiplier.
	ImportanceWeight = 0.5
	// PlatformAffinityBoost applies when a record's platform matches its query platform hint.
	PlatformAffinityBoost = 1.1
	// MoodBoost applies when a record's mood is in the query's mood allow-list.
	MoodBoost = 1.2

	// MaxRelevance is the clamp applied after all multipliers.
	MaxRelevance = 1.0
)

// Multiplier adjusts a relevance score for one record.
type Multiplier interface {
	Name() string
	Multiply(rec *models.Record, q *models.Query, score float64) float64
}

// ImportanceMultiplier weights the score by record importance when the query asks for it.
type ImportanceMultiplier struct{}

// Name returns the multiplier name.
func (ImportanceMultiplier) Name() string { return "importance" }

// Multiply applies (1 + importance*0.5) when IncludeImportance is set.
func (ImportanceMultiplier) Multiply(rec *models.Record, q *models.Query, score float64) float64 {
	if !q.IncludeImportance {
		return score
	}
	return score * (1 + rec.Importance*ImportanceWeight)
}

// PlatformAffinityMultiplier favors records captured on the platform they were replying to.
type PlatformAffinityMultiplier struct{}

// Name returns the multiplier name.
func (PlatformAffinityMultiplier) Name() string { return "platform_affinity" }

// Multiply applies the affinity boost when metadata["queryPlatform"] equals the record platform.
func (PlatformAffinityMultiplier) Multiply(rec *models.Record, _ *models.Query, score float64) float64 {
	if hint, ok := rec.QueryPlatform(); ok && hint == rec.Platform {
		return score * PlatformAffinityBoost
	}
	return score
}

// MoodMultiplier favors records whose mood the query asked for.
type MoodMultiplier struct{}

// Name returns the multiplier name.
func (MoodMultiplier) Name() string { return "mood" }

// Multiply applies the mood boost when the record mood is in the allow-list.
func (MoodMultiplier) Multiply(rec *models.Record, q *models.Query, score float64) float64 {
	if rec.Emotion == nil || !q.HasMoodFilter() {
		return score
	}
	if q.AllowsMood(rec.Emotion.Mood) {
		return score * MoodBoost
	}
	return score
}

// DefaultMultipliers is the fixed order in which relevance multipliers compose.
// Order matters because the clamp happens once at the end.
func DefaultMultipliers() []Multiplier {
	return []Multiplier{
		ImportanceMultiplier{},
		PlatformAffinityMultiplier{},
		MoodMultiplier{},
	}
}

var defaultChain = DefaultMultipliers()

// Relevance scores rec for q starting from similarity.
func Relevance(rec *models.Record, q *models.Query, similarity float64) float64 {
	score := similarity
	for _, m := range defaultChain {
		score = m.Multiply(rec, q, score)
	}
	if score > MaxRelevance {
		return MaxRelevance
	}
	return score
}

// BaselineRelevance scores rec for q when no similarity is available.
func BaselineRelevance(rec *models.Record, q *models.Query) float64 {
	return Relevance(rec, q, BaselineSimilarity)
}
