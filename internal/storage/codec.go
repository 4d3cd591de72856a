package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hyperjump/kioku/internal/models"
)

// RecordColumns holds the JSON-encoded optional columns shared by the SQL backends.
type RecordColumns struct {
	Metadata   sql.NullString
	Emotion    sql.NullString
	References sql.NullString
}

// EncodeColumns marshals the optional record fields. Empty values encode as NULL.
func EncodeColumns(rec *models.Record) (RecordColumns, error) {
	var cols RecordColumns
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return cols, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		cols.Metadata = sql.NullString{String: string(b), Valid: true}
	}
	if rec.Emotion != nil {
		b, err := json.Marshal(rec.Emotion)
		if err != nil {
			return cols, fmt.Errorf("failed to marshal emotional context: %w", err)
		}
		cols.Emotion = sql.NullString{String: string(b), Valid: true}
	}
	if len(rec.References) > 0 {
		b, err := json.Marshal(rec.References)
		if err != nil {
			return cols, fmt.Errorf("failed to marshal references: %w", err)
		}
		cols.References = sql.NullString{String: string(b), Valid: true}
	}
	return cols, nil
}

// Decode fills the optional fields of rec from the columns.
func (c RecordColumns) Decode(rec *models.Record) error {
	if c.Metadata.Valid && c.Metadata.String != "" {
		if err := json.Unmarshal([]byte(c.Metadata.String), &rec.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if c.Emotion.Valid && c.Emotion.String != "" {
		var emo models.EmotionalContext
		if err := json.Unmarshal([]byte(c.Emotion.String), &emo); err != nil {
			return fmt.Errorf("failed to unmarshal emotional context: %w", err)
		}
		rec.Emotion = &emo
	}
	if c.References.Valid && c.References.String != "" {
		if err := json.Unmarshal([]byte(c.References.String), &rec.References); err != nil {
			return fmt.Errorf("failed to unmarshal references: %w", err)
		}
	}
	return nil
}
