package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// MemoryStorage is an in-process Store backed by maps and one vector.MemoryIndex
// per owner and slot. It suits tests and ephemeral deployments.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]*models.Record
	byOwner map[string][]*models.Record
	indexes map[indexKey]*vector.MemoryIndex
}

type indexKey struct {
	owner string
	slot  models.Slot
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*models.Record),
		byOwner: make(map[string][]*models.Record),
		indexes: make(map[indexKey]*vector.MemoryIndex),
	}
}

// Create stores a copy of rec.
func (m *MemoryStorage) Create(_ context.Context, rec *models.Record) error {
	if err := ValidateRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(rec)
}

// BatchCreate stores every record or none of them.
func (m *MemoryStorage) BatchCreate(_ context.Context, recs []*models.Record) error {
	seen := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		if err := ValidateRecord(rec); err != nil {
			return err
		}
		if _, dup := seen[rec.ID]; dup {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
		}
		seen[rec.ID] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		if _, ok := m.records[rec.ID]; ok {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
		}
	}
	for _, rec := range recs {
		if err := m.insertLocked(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStorage) insertLocked(rec *models.Record) error {
	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
	}
	cp := copyRecord(rec)
	if slot, ok := cp.Slot(); ok {
		key := indexKey{owner: cp.OwnerID, slot: slot}
		idx, exists := m.indexes[key]
		if !exists {
			var err error
			idx, err = vector.NewMemoryIndex(slot.Dimensions())
			if err != nil {
				return err
			}
			m.indexes[key] = idx
		}
		if err := idx.Add(cp.ID, cp.Embedding); err != nil {
			return err
		}
	}
	m.records[cp.ID] = cp
	m.byOwner[cp.OwnerID] = append(m.byOwner[cp.OwnerID], cp)
	return nil
}

// GetByID returns a copy of the record.
func (m *MemoryStorage) GetByID(_ context.Context, id string) (*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyRecord(rec), nil
}

// ListByOwner returns the owner's most recent records, newest first.
func (m *MemoryStorage) ListByOwner(_ context.Context, ownerID string, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	owned := append([]*models.Record(nil), m.byOwner[ownerID]...)
	m.mu.RUnlock()

	// newest first; later insertions win ties
	for i, j := 0, len(owned)-1; i < j; i, j = i+1, j-1 {
		owned[i], owned[j] = owned[j], owned[i]
	}
	sort.SliceStable(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })
	if len(owned) > limit {
		owned = owned[:limit]
	}
	out := make([]*models.Record, len(owned))
	for i, rec := range owned {
		out[i] = copyRecord(rec)
	}
	return out, nil
}

// VectorSearch searches the owner's index for slot.
func (m *MemoryStorage) VectorSearch(_ context.Context, ownerID string, query []float32, slot models.Slot, limit int, threshold float64) ([]*ScoredRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if len(query) != slot.Dimensions() {
		return nil, fmt.Errorf("%w: query has %d dimensions, slot %d", vector.ErrDimensionMismatch, len(query), slot)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[indexKey{owner: ownerID, slot: slot}]
	if !ok {
		return nil, nil
	}
	hits, err := idx.Search(query, limit, threshold)
	if err != nil {
		return nil, err
	}
	out := make([]*ScoredRecord, 0, len(hits))
	for _, h := range hits {
		out = append(out, &ScoredRecord{Record: copyRecord(m.records[h.ID]), Similarity: h.Score})
	}
	return out, nil
}

// Count returns the number of stored records.
func (m *MemoryStorage) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// Close is a no-op for MemoryStorage.
func (m *MemoryStorage) Close() error {
	return nil
}

func copyRecord(rec *models.Record) *models.Record {
	cp := *rec
	if rec.Embedding != nil {
		cp.Embedding = append([]float32(nil), rec.Embedding...)
	}
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	if rec.Emotion != nil {
		emo := *rec.Emotion
		cp.Emotion = &emo
	}
	if rec.References != nil {
		cp.References = append([]string(nil), rec.References...)
	}
	return &cp
}
