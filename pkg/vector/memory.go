package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryProvider is an in-process Provider used by tests and local
// development. Similarity is cosine, matching the hosted providers.
type MemoryProvider struct {
	mu      sync.RWMutex
	indexes map[string]*memoryIndex
}

type memoryIndex struct {
	dimension int
	metric    string
	// insertion order is kept so that equal scores tie-break stably
	order   []string
	records map[string]Record
}

// NewMemoryProvider constructs an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{indexes: make(map[string]*memoryIndex)}
}

// ListIndexes implements Provider.
func (m *MemoryProvider) ListIndexes(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.indexes))
	for name := range m.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateIndex implements Provider. Creating an existing index is a no-op.
func (m *MemoryProvider) CreateIndex(_ context.Context, name string, dimension int, metric string) error {
	if dimension <= 0 {
		return fmt.Errorf("memory create index: dimension required")
	}
	if metric == "" {
		metric = "cosine"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[name]; ok {
		return nil
	}
	m.indexes[name] = &memoryIndex{
		dimension: dimension,
		metric:    metric,
		records:   make(map[string]Record),
	}
	return nil
}

// DeleteIndex implements Provider. Deleting a missing index is a no-op.
func (m *MemoryProvider) DeleteIndex(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes, name)
	return nil
}

// Upsert implements Provider.
func (m *MemoryProvider) Upsert(_ context.Context, index string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[index]
	if !ok {
		return fmt.Errorf("memory upsert: index %s not found", index)
	}
	for _, rec := range records {
		if len(rec.Values) != idx.dimension {
			return fmt.Errorf("memory upsert: dimension mismatch: got %d want %d", len(rec.Values), idx.dimension)
		}
		if _, exists := idx.records[rec.ID]; !exists {
			idx.order = append(idx.order, rec.ID)
		}
		idx.records[rec.ID] = rec
	}
	return nil
}

// Query implements Provider. A missing index yields no matches rather than
// an error so retrieval degrades gracefully.
func (m *MemoryProvider) Query(_ context.Context, index string, vec []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[index]
	if !ok {
		return nil, nil
	}
	if len(vec) != idx.dimension {
		return nil, fmt.Errorf("memory query: dimension mismatch: got %d want %d", len(vec), idx.dimension)
	}
	matches := make([]Match, 0, len(idx.order))
	for _, id := range idx.order {
		rec := idx.records[id]
		matches = append(matches, Match{
			ID:       rec.ID,
			Score:    cosineSimilarity(vec, rec.Values),
			Metadata: rec.Metadata,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteRecords implements Provider.
func (m *MemoryProvider) DeleteRecords(_ context.Context, index string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[index]
	if !ok {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
		delete(idx.records, id)
	}
	kept := idx.order[:0]
	for _, id := range idx.order {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	idx.order = kept
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
