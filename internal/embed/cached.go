package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of embeddings to cache.
// At 768 dimensions * 4 bytes * 2048 entries it stays around 6MB.
const DefaultEmbeddingCacheSize = 2048

// CachedProvider wraps a Provider with LRU caching to avoid redundant
// embedding computations. Repeated query texts and unchanged documents
// hit the cache instead of the API.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedProvider creates a cached provider wrapping the given one.
func NewCachedProvider(inner Provider, cacheSize int) *CachedProvider {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedProvider{
		inner: inner,
		cache: cache,
	}
}

// cacheKey derives a unique key from model and text. SHA256 keeps keys
// fixed-length regardless of document size.
func (c *CachedProvider) cacheKey(text string) string {
	combined := c.inner.ModelName() + "\x00" + text
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed returns a cached embedding if available, otherwise computes and caches.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts, consulting the
// cache per text so partially cached batches only embed the misses.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	newEmbeddings, err := c.inner.EmbedBatch(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range uncachedIndices {
		results[idx] = newEmbeddings[j]
		c.cache.Add(c.cacheKey(texts[idx]), newEmbeddings[j])
	}

	return results, nil
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (c *CachedProvider) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (c *CachedProvider) ModelName() string {
	return c.inner.ModelName()
}

// Name returns the provider identifier (passthrough to inner).
func (c *CachedProvider) Name() string {
	return c.inner.Name()
}

// Available checks if the provider is ready (passthrough to inner).
func (c *CachedProvider) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close releases resources and closes the inner provider.
func (c *CachedProvider) Close() error {
	return c.inner.Close()
}

// Inner returns the underlying provider.
func (c *CachedProvider) Inner() Provider {
	return c.inner
}

// Verify interface implementation at compile time
var _ Provider = (*CachedProvider)(nil)
