// Package keyword provides lexical term extraction and substring scoring.
package keyword

import (
	"strings"
	"unicode/utf8"
)

// MinTermLength is the shortest token, in characters, kept as a search term.
const MinTermLength = 3

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {}, "at": {},
	"to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "from": {}, "up": {}, "about": {},
	"into": {}, "through": {}, "during": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {},
	"did": {}, "will": {}, "would": {}, "could": {}, "should": {}, "may": {}, "might": {},
}

// IsStopWord reports whether the lower-cased word is ignored during extraction.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// ExtractKeywords lower-cases query, splits it on whitespace and keeps the
// distinct tokens longer than two characters that are not stop words.
// Terms are returned in first-occurrence order.
func ExtractKeywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < MinTermLength || IsStopWord(f) {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// Matches reports whether content contains any term as a substring,
// ignoring case. It does not respect word boundaries.
func Matches(content string, terms []string) bool {
	lower := strings.ToLower(content)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// Similarity returns the fraction of terms found in content. It is 0 when
// terms is empty.
func Similarity(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
