package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// BERT special tokens and the id space word hashes fold into.
const (
	tokenCLS  = 101
	tokenSEP  = 102
	vocabSize = 30000

	defaultMaxTokens = 256
)

// Tokenizer produces the three input tensors of a BERT-style encoder.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer maps lowercased words to hashed ids. It needs no vocabulary
// file, so ids only line up with a model's vocabulary by accident; pair it with
// models exported for hashed input.
type SimpleTokenizer struct{}

// Tokenize wraps the words of text in [CLS] ... [SEP] and pads to maxTokens.
// Words past maxTokens-2 are dropped.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1
	for _, word := range SplitWords(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(HashString(strings.ToLower(word)) % vocabSize)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = tokenSEP
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text on Unicode whitespace and trims surrounding punctuation.
func SplitWords(text string) []string {
	fields := strings.Fields(text)
	words := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, unicode.IsPunct)
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

// HashString returns a deterministic non-negative FNV-1a hash of s.
func HashString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32())
}
