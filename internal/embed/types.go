// Package embed provides embedding providers that turn document text
// into vectors: Gemini (cloud), Ollama (local), and a deterministic
// static fallback, plus an LRU caching wrapper.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultTimeout is the default per-request timeout
	DefaultTimeout = 60 * time.Second

	// DefaultColdTimeout covers the first request, when a local model
	// may still need loading
	DefaultColdTimeout = 180 * time.Second

	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3
)

// Static provider constants
const (
	// StaticDimensions is the embedding dimension for the static provider
	StaticDimensions = 256
)

// Provider generates vector embeddings for text.
// A collection's provenance pins (provider, model, dimension); queries
// against the collection must use a compatible provider.
type Provider interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Name returns the provider identifier ("gemini", "ollama", "static")
	Name() string

	// Available checks if the provider is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
