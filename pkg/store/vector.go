package store

import (
	"context"
	"encoding/binary"
	"math"
)

// VectorMatch is a single result from a similarity search.
type VectorMatch struct {
	MemoryID   string
	Similarity float64
}

// VectorIndex is a per-user index over memory embeddings. It is derived
// state: every entry can be rebuilt from the store's EmbeddingRows, so an
// index is never the source of truth.
type VectorIndex interface {
	// Upsert inserts or replaces the vector for a memory.
	Upsert(ctx context.Context, memoryID string, embedding []float32, createdAt int64) error

	// Remove drops a memory's vector. Removing an absent ID is a no-op.
	Remove(ctx context.Context, memoryID string) error

	// Search returns up to limit memories whose cosine similarity to the
	// query vector is at least minSimilarity, most similar first. Ties
	// break toward the newer memory. limit <= 0 returns every admissible
	// match.
	Search(ctx context.Context, query []float32, limit int, minSimilarity float64) ([]VectorMatch, error)

	// Len reports the number of indexed vectors.
	Len() int

	// Clear drops every vector.
	Clear()
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths or a zero-norm vector yield 0, never NaN.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// serializeEmbedding converts a float32 slice to a little-endian byte blob
// for storage. Returns nil for an empty embedding.
func serializeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding converts a stored blob back to a float32 slice.
func deserializeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding
}
