package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedClient wraps an EmbeddingClient with a ristretto cache so repeated
// texts are embedded at most once. Cache keys include the text hash only;
// callers using multiple models should keep one CachedClient per model.
type CachedClient struct {
	inner EmbeddingClient
	cache *ristretto.Cache
}

// NewCachedClient wraps client with a cache holding roughly maxEntries
// embeddings. maxEntries <= 0 defaults to 10000.
func NewCachedClient(client EmbeddingClient, maxEntries int64) (*CachedClient, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedClient{inner: client, cache: cache}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed resolves each text from the cache, then embeds the misses in one
// batch call to the wrapped client.
func (c *CachedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if cached, ok := c.cache.Get(cacheKey(text)); ok {
			results[i] = cached.([]float32)
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	embedded, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missTexts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(missTexts), len(embedded))
	}

	for j, emb := range embedded {
		results[missIdx[j]] = emb
		c.cache.Set(cacheKey(missTexts[j]), emb, 1)
	}

	return results, nil
}

// EmbedOne generates an embedding for a single text, served from cache
// when available.
func (c *CachedClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return embeddings[0], nil
}

// Wait blocks until buffered writes have been applied to the cache.
func (c *CachedClient) Wait() {
	c.cache.Wait()
}

// Close releases the cache's resources.
func (c *CachedClient) Close() {
	c.cache.Close()
}

// Compile-time interface check
var _ EmbeddingClient = (*CachedClient)(nil)
