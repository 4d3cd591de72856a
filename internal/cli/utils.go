// Package cli provides output helpers for the kioku command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const contentWidth = 200

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteResults writes retrieval results to w in the given format.
func WriteResults(w io.Writer, results []*models.SearchResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"results": results})
	}
	fmt.Fprintf(w, "\nFound %d memories\n\n", len(results))
	for i, result := range results {
		writeOneResult(w, i+1, result)
	}
	return nil
}

// WriteContext writes a context-expanded retrieval to w in the given format.
func WriteContext(w io.Writer, res *models.ContextResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "\nFound %d memories, %d in context\n\n", len(res.Primary), len(res.Context))
	for i, result := range res.Primary {
		writeOneResult(w, i+1, result)
	}
	if len(res.Context) > 0 {
		fmt.Fprintln(w, "--- Context ---")
		for _, rec := range res.Context {
			writeOneRecord(w, rec)
		}
	}
	return nil
}

// WriteRecords writes stored records to w in the given format.
func WriteRecords(w io.Writer, recs []*models.Record, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"memories": recs})
	}
	fmt.Fprintf(w, "\n%d memories\n\n", len(recs))
	for _, rec := range recs {
		writeOneRecord(w, rec)
	}
	return nil
}

func writeOneResult(w io.Writer, rank int, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Relevance: %.4f | Similarity: %.4f", rank, result.Relevance, result.Similarity)
	if result.RecencyBonus != nil {
		fmt.Fprintf(w, " | Recency: %.4f", *result.RecencyBonus)
	}
	fmt.Fprintln(w)
	writeRecordBody(w, result.Record)
}

func writeOneRecord(w io.Writer, rec *models.Record) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	writeRecordBody(w, rec)
}

func writeRecordBody(w io.Writer, rec *models.Record) {
	fmt.Fprintf(w, "ID: %s [%s] %s\n", rec.ID, rec.Platform, rec.CreatedAt.Local().Format(time.DateTime))
	if rec.Emotion != nil && rec.Emotion.Mood != "" {
		fmt.Fprintf(w, "Mood: %s (%.2f)\n", rec.Emotion.Mood, rec.Emotion.Intensity)
	}
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(rec.Content, contentWidth))
}
