// Package datastore is the public surface for embedding corpora: named,
// searchable document collections built from JSON or folders, queried
// by keyword, embedding, or hybrid fusion, and shared through a
// Hugging Face Hub dataset repo.
package datastore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/corpora-dev/corpora/internal/config"
	"github.com/corpora-dev/corpora/internal/embed"
	corperrors "github.com/corpora-dev/corpora/internal/errors"
	"github.com/corpora-dev/corpora/internal/ingest"
	"github.com/corpora-dev/corpora/internal/search"
	"github.com/corpora-dev/corpora/internal/store"
	corpsync "github.com/corpora-dev/corpora/internal/sync"
)

// Document is re-exported so tool callers need only this package.
type Document = ingest.Document

// Result is one search hit with its payload.
type Result = search.Result

// BuildSummary reports a build's terminal document states.
type BuildSummary = ingest.BuildSummary

// Manifest describes a published bundle.
type Manifest = corpsync.Manifest

// DefaultToolTopK matches the callable-tool contract's default.
const DefaultToolTopK = 5

// Store is a handle on one cache root and its collections.
type Store struct {
	cfg     *config.Config
	root    string
	catalog *store.Catalog

	mu          sync.Mutex
	collections map[string]*collection
	defaultProv embed.Provider // lazily created from cfg
}

// collection bundles one collection's opened artifacts.
type collection struct {
	name     string
	keyword  *store.BleveKeywordIndex
	vector   *store.HNSWStore
	provider embed.Provider
	engine   *search.Engine
	pipeline *ingest.Pipeline
}

// Open loads configuration and opens the catalog under the cache root.
// A nil cfg loads the default config (file plus environment).
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}

	catalog, err := store.OpenCatalog(store.CatalogPath(cfg.Home))
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}

	return &Store{
		cfg:         cfg,
		root:        cfg.Home,
		catalog:     catalog,
		collections: make(map[string]*collection),
	}, nil
}

// Close releases every opened collection and the catalog.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, c := range s.collections {
		if err := c.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.collections, name)
	}
	if s.defaultProv != nil {
		if err := s.defaultProv.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.defaultProv = nil
	}
	if err := s.catalog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *collection) close() error {
	var firstErr error
	if c.keyword != nil {
		if err := c.keyword.Close(); err != nil {
			firstErr = err
		}
	}
	if c.vector != nil {
		if err := c.vector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// provider returns the config-selected embedding provider, creating it
// on first use.
func (s *Store) provider(ctx context.Context) (embed.Provider, error) {
	if s.defaultProv == nil {
		p, err := embed.New(ctx, s.cfg)
		if err != nil {
			return nil, err
		}
		s.defaultProv = p
	}
	return s.defaultProv, nil
}

// open returns the collection handle, opening artifacts on first use.
// When the collection has recorded provenance, its provider/model pin
// the embedding provider regardless of current config.
func (s *Store) open(ctx context.Context, name string) (*collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(ctx, name)
}

func (s *Store) openLocked(ctx context.Context, name string) (*collection, error) {
	if err := store.ValidateCollectionName(name); err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInvalidInput, err)
	}
	if c, ok := s.collections[name]; ok {
		return c, nil
	}

	prov, err := s.catalog.Provenance(ctx, name)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}

	var provider embed.Provider
	if prov != nil {
		provider, err = embed.ForProvenance(ctx, s.cfg, prov.Provider, prov.Model)
	} else {
		provider, err = s.provider(ctx)
	}
	if err != nil {
		return nil, err
	}

	if _, err := store.EnsureCollectionDir(s.root, name); err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}

	keyword, err := store.NewBleveKeywordIndex(store.KeywordPath(s.root, name))
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeCorruptIndex, err)
	}

	dims := 0
	if prov != nil {
		dims = prov.Dimension
	}
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		_ = keyword.Close()
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	vectorPath := store.VectorPath(s.root, name)
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vector.Load(vectorPath); err != nil {
			_ = keyword.Close()
			_ = vector.Close()
			return nil, corperrors.Wrap(corperrors.ErrCodeCorruptIndex, err)
		}
	}

	engine, err := search.NewEngine(name, keyword, vector, provider, s.catalog)
	if err != nil {
		_ = keyword.Close()
		_ = vector.Close()
		return nil, err
	}
	pipeline, err := ingest.NewPipeline(name, s.root, keyword, vector, s.catalog, provider, s.pipelineConfig())
	if err != nil {
		_ = keyword.Close()
		_ = vector.Close()
		return nil, err
	}

	c := &collection{
		name:     name,
		keyword:  keyword,
		vector:   vector,
		provider: provider,
		engine:   engine,
		pipeline: pipeline,
	}
	s.collections[name] = c
	return c, nil
}

func (s *Store) pipelineConfig() ingest.Config {
	cfg := ingest.DefaultConfig()
	if s.cfg.Ingest.Workers > 0 {
		cfg.Workers = s.cfg.Ingest.Workers
	}
	if s.cfg.Embeddings.BatchSize > 0 {
		cfg.BatchSize = s.cfg.Embeddings.BatchSize
	}
	if s.cfg.Ingest.MaxDocuments > 0 {
		cfg.MaxDocuments = s.cfg.Ingest.MaxDocuments
	}
	cfg.CompactionEnabled = s.cfg.Compaction.Enabled
	if s.cfg.Compaction.TombstoneThreshold > 0 {
		cfg.TombstoneThreshold = s.cfg.Compaction.TombstoneThreshold
	}
	if s.cfg.Compaction.MinTombstones > 0 {
		cfg.MinTombstones = s.cfg.Compaction.MinTombstones
	}
	return cfg
}

// Build ingests documents into a collection, creating it on first use.
// An existing collection is repaired first if its catalog and vector
// index have diverged.
func (s *Store) Build(ctx context.Context, name string, docs []Document) (*BuildSummary, error) {
	c, err := s.open(ctx, name)
	if err != nil {
		return nil, err
	}

	prov, err := s.catalog.Provenance(ctx, name)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	if prov != nil {
		if _, err := c.pipeline.Reconcile(ctx); err != nil {
			return nil, err
		}
	}

	return c.pipeline.Build(ctx, docs)
}

// BuildFolder ingests one document per file under folder.
func (s *Store) BuildFolder(ctx context.Context, name, folder string) (*BuildSummary, error) {
	docs, err := ingest.LoadFolder(folder)
	if err != nil {
		return nil, err
	}
	return s.Build(ctx, name, docs)
}

// SyncFolder makes a collection mirror a folder: builds from its files,
// then prunes documents whose source file no longer exists.
func (s *Store) SyncFolder(ctx context.Context, name, folder string) (*BuildSummary, int, error) {
	docs, err := ingest.LoadFolder(folder)
	if err != nil {
		return nil, 0, err
	}
	summary, err := s.Build(ctx, name, docs)
	if err != nil {
		return nil, 0, err
	}

	c, err := s.open(ctx, name)
	if err != nil {
		return summary, 0, err
	}
	keep := make([]string, len(docs))
	for i, d := range docs {
		keep[i] = d.DocKey
	}
	pruned, err := c.pipeline.Prune(ctx, keep)
	return summary, pruned, err
}

// Search queries a collection. method is hybrid, keyword, or embedding
// (empty means hybrid); topK <= 0 uses the tool default of 5; alpha
// weighs the embedding leg in hybrid fusion.
func (s *Store) Search(ctx context.Context, name, query, method string, topK int, alpha float64) ([]*Result, error) {
	if !store.CollectionExists(s.root, name) {
		return nil, corperrors.NotFoundError(fmt.Sprintf("collection %q does not exist (build it first)", name))
	}
	m, err := search.ParseMethod(method)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultToolTopK
	}

	c, err := s.open(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.engine.Search(ctx, query, search.Options{Method: m, TopK: topK, Alpha: alpha})
}

// Publish bundles a collection and uploads it to a Hub dataset repo.
// Opened artifacts are flushed first so the bundle is current.
func (s *Store) Publish(ctx context.Context, name, repo string, private bool) (*Manifest, error) {
	if repo == "" {
		repo = s.cfg.Sync.Repo
	}
	s.mu.Lock()
	if c, ok := s.collections[name]; ok {
		if err := c.vector.Save(store.VectorPath(s.root, name)); err != nil {
			s.mu.Unlock()
			return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
		}
	}
	s.mu.Unlock()

	manager, err := corpsync.NewManager(s.hubClient(), s.root, s.catalog)
	if err != nil {
		return nil, err
	}
	return manager.Publish(ctx, name, repo, private)
}

// Fetch downloads a published collection and installs it locally. Any
// open handle for that collection is closed before the swap.
func (s *Store) Fetch(ctx context.Context, repo, name string, overwrite bool) (*Manifest, error) {
	s.mu.Lock()
	if c, ok := s.collections[name]; ok {
		_ = c.close()
		delete(s.collections, name)
	}
	s.mu.Unlock()

	manager, err := corpsync.NewManager(s.hubClient(), s.root, s.catalog)
	if err != nil {
		return nil, err
	}
	return manager.Fetch(ctx, repo, name, overwrite)
}

func (s *Store) hubClient() *corpsync.HFClient {
	return corpsync.NewHFClient(s.cfg.Sync.Endpoint, s.cfg.Sync.Token)
}

// Delete removes a collection's artifacts and catalog rows.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := store.ValidateCollectionName(name); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInvalidInput, err)
	}

	s.mu.Lock()
	if c, ok := s.collections[name]; ok {
		_ = c.close()
		delete(s.collections, name)
	}
	s.mu.Unlock()

	if !store.CollectionExists(s.root, name) {
		return corperrors.NotFoundError(fmt.Sprintf("collection %q does not exist", name))
	}
	if err := s.catalog.DeleteCollection(ctx, name); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	if err := os.RemoveAll(store.CollectionDir(s.root, name)); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}
	return nil
}

// List returns every local collection with document counts and
// provenance.
func (s *Store) List(ctx context.Context) ([]*store.CollectionStats, error) {
	return s.catalog.Collections(ctx)
}

// CollectionInfo describes one collection's local state.
type CollectionInfo struct {
	Name          string            `json:"name"`
	DocumentCount int               `json:"document_count"`
	Provenance    *store.Provenance `json:"provenance,omitempty"`
	KeywordPath   string            `json:"keyword_path"`
	VectorPath    string            `json:"vector_path"`
	KeywordBytes  int64             `json:"keyword_bytes"`
	VectorBytes   int64             `json:"vector_bytes"`
}

// Info reports artifact paths, sizes, and provenance for a collection.
func (s *Store) Info(ctx context.Context, name string) (*CollectionInfo, error) {
	if err := store.ValidateCollectionName(name); err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInvalidInput, err)
	}
	if !store.CollectionExists(s.root, name) {
		return nil, corperrors.NotFoundError(fmt.Sprintf("collection %q does not exist", name))
	}

	count, err := s.catalog.Count(ctx, name)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	prov, err := s.catalog.Provenance(ctx, name)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	kwBytes, vecBytes, err := store.ArtifactSizes(s.root, name)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}

	return &CollectionInfo{
		Name:          name,
		DocumentCount: count,
		Provenance:    prov,
		KeywordPath:   store.KeywordPath(s.root, name),
		VectorPath:    store.VectorPath(s.root, name),
		KeywordBytes:  kwBytes,
		VectorBytes:   vecBytes,
	}, nil
}
