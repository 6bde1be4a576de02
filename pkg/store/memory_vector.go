package store

import (
	"context"
	"sort"
	"sync"
)

type indexEntry struct {
	embedding []float32
	createdAt int64
}

// MemoryVectorIndex is an in-memory VectorIndex using linear scan with
// cosine similarity. Exact and fast enough for per-user collections of a
// few thousand vectors.
type MemoryVectorIndex struct {
	mu      sync.RWMutex
	entries map[string]indexEntry
}

// NewMemoryVectorIndex creates an empty in-memory vector index.
func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{
		entries: make(map[string]indexEntry),
	}
}

// Upsert inserts or replaces the vector for a memory. The embedding is
// copied so the caller may reuse its slice.
func (idx *MemoryVectorIndex) Upsert(ctx context.Context, memoryID string, embedding []float32, createdAt int64) error {
	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[memoryID] = indexEntry{embedding: vec, createdAt: createdAt}
	return nil
}

// Remove drops a memory's vector. Removing an absent ID is a no-op.
func (idx *MemoryVectorIndex) Remove(ctx context.Context, memoryID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, memoryID)
	return nil
}

// Search scans every entry and returns up to limit matches at or above
// minSimilarity, most similar first. Equal similarities rank the newer
// memory first so results are deterministic. limit <= 0 returns every
// admissible match.
func (idx *MemoryVectorIndex) Search(ctx context.Context, query []float32, limit int, minSimilarity float64) ([]VectorMatch, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scored struct {
		VectorMatch
		createdAt int64
	}

	var results []scored
	for id, entry := range idx.entries {
		sim := CosineSimilarity(query, entry.embedding)
		if sim < minSimilarity {
			continue
		}
		results = append(results, scored{
			VectorMatch: VectorMatch{MemoryID: id, Similarity: sim},
			createdAt:   entry.createdAt,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].createdAt != results[j].createdAt {
			return results[i].createdAt > results[j].createdAt
		}
		return results[i].MemoryID < results[j].MemoryID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	matches := make([]VectorMatch, len(results))
	for i, r := range results {
		matches[i] = r.VectorMatch
	}
	return matches, nil
}

// Len reports the number of indexed vectors.
func (idx *MemoryVectorIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Clear drops every vector.
func (idx *MemoryVectorIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[string]indexEntry)
}

// Compile-time interface check
var _ VectorIndex = (*MemoryVectorIndex)(nil)
