// Package store provides the persistence layer for collections: the
// bleve keyword index, the HNSW vector index, and the SQLite catalog
// that holds document text, metadata, and build provenance.
package store

import (
	"context"
	"fmt"
	"time"
)

// DocumentRecord is a catalog row for one document in a collection.
type DocumentRecord struct {
	Collection string
	DocKey     string
	Text       string
	Metadata   map[string]any
	TextHash   string // SHA256 of Text
	VectorID   uint64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Provenance records which provider and model built a collection's vectors.
// Mixed-model collections are rejected at build time, so one row per
// collection is sufficient.
type Provenance struct {
	Collection string
	Provider   string
	Model      string
	Dimension  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	DocKey string
	Score  float64
}

// KeywordIndex provides full-text search over document text.
type KeywordIndex interface {
	// Upsert adds or replaces documents keyed by doc_key.
	Upsert(ctx context.Context, docs []KeywordDocument) error

	// Search returns documents matching query in descending score order.
	Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error)

	// Delete removes documents by doc_key.
	Delete(ctx context.Context, docKeys []string) error

	// AllKeys returns every doc_key in the index (for consistency checks).
	AllKeys() ([]string, error)

	// Count returns the number of indexed documents.
	Count() (int, error)

	Close() error
}

// KeywordDocument is the unit handed to KeywordIndex.Upsert.
type KeywordDocument struct {
	DocKey string
	Text   string
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	VectorID uint64
	Distance float32 // Cosine distance, 0 (identical) to 2 (opposite)
	Score    float32 // Normalized similarity, 0-1
}

// VectorStore provides approximate nearest-neighbor search over
// document embeddings, keyed by catalog-assigned vector ids.
type VectorStore interface {
	// Add inserts vectors under fresh ids. Re-adding a live or
	// tombstoned id is an error; updates delete the old id first.
	Add(ctx context.Context, ids []uint64, vectors [][]float32) error

	// Search finds the k nearest neighbors to query.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete tombstones vectors by id.
	Delete(ctx context.Context, ids []uint64) error

	// AllIDs returns all live vector ids (for consistency checks).
	AllIDs() []uint64

	// Contains reports whether id is live.
	Contains(id uint64) bool

	// Count returns the number of live vectors.
	Count() int

	// Dimensions returns the fixed vector dimension, 0 before first Add.
	Dimensions() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the embedding dimension. 0 means adopt the
	// dimension of the first added vector.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer.
	M int

	// EfSearch is HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// CollectionStats summarizes one collection for list/info commands.
type CollectionStats struct {
	Collection    string
	DocumentCount int
	Provenance    *Provenance
}

// ErrDimensionMismatch indicates a vector did not match the store dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild the collection with the original model)", e.Expected, e.Got)
}
