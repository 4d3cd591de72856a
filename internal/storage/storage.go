// Package storage defines the persistence contract for memory records and its SQLite and in-memory backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hyperjump/kioku/internal/models"
)

var (
	// ErrNotFound is returned by GetByID when no record has the id.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a record id is reused.
	ErrAlreadyExists = errors.New("record already exists")
)

// ScoredRecord is a vector search hit.
type ScoredRecord struct {
	Record     *models.Record
	Similarity float64
}

// RecordStore is the read contract the retrieval engine depends on.
type RecordStore interface {
	// GetByID returns the record or ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Record, error)
	// ListByOwner returns up to limit of the owner's records, newest first.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Record, error)
	// VectorSearch returns up to limit of the owner's records in slot whose
	// cosine similarity to query is strictly greater than threshold, best first.
	VectorSearch(ctx context.Context, ownerID string, query []float32, slot models.Slot, limit int, threshold float64) ([]*ScoredRecord, error)
}

// Store is a RecordStore that also accepts writes.
type Store interface {
	RecordStore

	Create(ctx context.Context, rec *models.Record) error
	BatchCreate(ctx context.Context, recs []*models.Record) error
	Count(ctx context.Context) (int64, error)

	Close() error
}

// ValidateRecord checks a record before it is written.
func ValidateRecord(rec *models.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: id is required", models.ErrInvalidRecord)
	}
	if rec.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", models.ErrInvalidRecord)
	}
	if !rec.Platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", models.ErrInvalidRecord, rec.Platform)
	}
	if len(rec.Embedding) > 0 {
		if _, ok := rec.Slot(); !ok {
			return fmt.Errorf("%w: unsupported embedding dimension %d", models.ErrInvalidRecord, len(rec.Embedding))
		}
	}
	if math.IsNaN(rec.Importance) || rec.Importance < 0 || rec.Importance > 1 {
		return fmt.Errorf("%w: importance %g outside [0,1]", models.ErrInvalidRecord, rec.Importance)
	}
	return nil
}
