package vector

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force cosine index over vectors of one dimension.
type MemoryIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	positions  map[string]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		positions:  make(map[string]int),
	}, nil
}

// Add stores vec under id, replacing any previous vector for that id.
func (m *MemoryIndex) Add(id string, vec []float32) error {
	if len(vec) != m.dimensions {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), m.dimensions)
	}
	cp := make([]float32, m.dimensions)
	copy(cp, vec)

	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[id]; ok {
		m.vectors[pos] = cp
		return nil
	}
	m.positions[id] = len(m.ids)
	m.ids = append(m.ids, id)
	m.vectors = append(m.vectors, cp)
	return nil
}

// Search returns up to k hits whose cosine similarity to query is strictly
// greater than threshold, best first.
func (m *MemoryIndex) Search(query []float32, k int, threshold float64) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	results := make([]*VectorResult, 0, len(m.ids))
	for i, vec := range m.vectors {
		score := CosineSimilarity(query, vec)
		if score > threshold {
			results = append(results, &VectorResult{ID: m.ids[i], Score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}
