package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corpora-dev/corpora/internal/embed"
	corperrors "github.com/corpora-dev/corpora/internal/errors"
	"github.com/corpora-dev/corpora/internal/store"
)

// Config tunes a build run.
type Config struct {
	// Workers bounds concurrent embedding batches in flight.
	Workers int

	// BatchSize is documents per embedding call.
	BatchSize int

	// MaxDocuments caps one build invocation.
	MaxDocuments int

	// Compaction of the vector index after a build where tombstones
	// exceed TombstoneThreshold of graph nodes (and at least
	// MinTombstones absolute).
	CompactionEnabled  bool
	TombstoneThreshold float64
	MinTombstones      int
}

// DefaultConfig returns build defaults sized to the host.
func DefaultConfig() Config {
	return Config{
		Workers:            runtime.NumCPU(),
		BatchSize:          embed.DefaultBatchSize,
		MaxDocuments:       1_000_000,
		CompactionEnabled:  true,
		TombstoneThreshold: 0.2,
		MinTombstones:      100,
	}
}

// FailedDocument names a document that could not be indexed and why.
type FailedDocument struct {
	DocKey string `json:"doc_key"`
	Reason string `json:"reason"`
}

// BuildSummary reports the terminal state of every document in a build.
type BuildSummary struct {
	Collection      string           `json:"collection"`
	Total           int              `json:"total"`
	Indexed         int              `json:"indexed"`
	Skipped         int              `json:"skipped"`
	Failed          int              `json:"failed"`
	FailedDocuments []FailedDocument `json:"failed_documents,omitempty"`
	Provider        string           `json:"provider"`
	Model           string           `json:"model"`
	Dimension       int              `json:"dimension"`
	Compacted       bool             `json:"compacted,omitempty"`
	Duration        time.Duration    `json:"duration_ns"`
}

// Pipeline builds one collection from documents.
type Pipeline struct {
	collection string
	root       string
	keyword    store.KeywordIndex
	vector     store.VectorStore
	catalog    *store.Catalog
	embedder   embed.Provider
	cfg        Config

	provMu sync.Mutex // guards first-batch provenance establishment
}

// NewPipeline wires a build pipeline for one collection. The root is the
// cache root holding the collection's artifacts and lock file.
func NewPipeline(collection, root string, keyword store.KeywordIndex, vector store.VectorStore, catalog *store.Catalog, embedder embed.Provider, cfg Config) (*Pipeline, error) {
	switch {
	case keyword == nil:
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput, "keyword index is required", nil)
	case vector == nil:
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput, "vector store is required", nil)
	case catalog == nil:
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput, "catalog is required", nil)
	case embedder == nil:
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput, "embedding provider is required", nil)
	}
	if err := store.ValidateCollectionName(collection); err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInvalidInput, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = DefaultConfig().MaxDocuments
	}
	return &Pipeline{
		collection: collection,
		root:       root,
		keyword:    keyword,
		vector:     vector,
		catalog:    catalog,
		embedder:   embedder,
		cfg:        cfg,
	}, nil
}

// task is one document that needs embedding and indexing.
type task struct {
	doc      Document
	hash     string
	existing *store.DocumentRecord // prior record when text changed, nil for new docs
}

// Build runs the full pipeline: validate, hash-check, keyword upsert,
// concurrent embedding, dual write. Per-document provider failures are
// collected in the summary; collection-wide invariant violations
// (provenance, dimension) abort the build.
func (p *Pipeline) Build(ctx context.Context, docs []Document) (*BuildSummary, error) {
	start := time.Now()

	if err := ValidateDocuments(docs); err != nil {
		return nil, err
	}
	if len(docs) > p.cfg.MaxDocuments {
		return nil, corperrors.Newf(corperrors.ErrCodeInvalidInput,
			"build of %d documents exceeds the %d document limit", len(docs), p.cfg.MaxDocuments)
	}

	if _, err := store.EnsureCollectionDir(p.root, p.collection); err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}

	lock := store.NewBuildLock(p.root, p.collection)
	held, err := lock.TryLock()
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeLockHeld, err)
	}
	if !held {
		return nil, corperrors.Newf(corperrors.ErrCodeLockHeld,
			"collection %q is locked by another build (%s)", p.collection, lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	if err := p.checkProvenance(ctx); err != nil {
		return nil, err
	}

	slog.Info("build_started",
		slog.String("collection", p.collection),
		slog.Int("documents", len(docs)),
		slog.String("provider", p.embedder.Name()),
		slog.String("model", p.embedder.ModelName()))

	// Hash check: unchanged documents are skipped without touching any
	// index.
	var pending []task
	skipped := 0
	for _, d := range docs {
		hash := TextHash(d.Text)
		rec, err := p.catalog.Get(ctx, p.collection, d.DocKey)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
		}
		if rec != nil && rec.TextHash == hash {
			skipped++
			continue
		}
		pending = append(pending, task{doc: d, hash: hash, existing: rec})
	}

	// Keyword text goes in up front: cheap, and useful even if the
	// embedding phase fails partway.
	if len(pending) > 0 {
		kw := make([]store.KeywordDocument, len(pending))
		for i, t := range pending {
			kw[i] = store.KeywordDocument{DocKey: t.doc.DocKey, Text: t.doc.Text}
		}
		if err := p.keyword.Upsert(ctx, kw); err != nil {
			return nil, corperrors.Wrap(corperrors.ErrCodeIndexFailed, err)
		}
	}

	col := &collector{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for begin := 0; begin < len(pending); begin += p.cfg.BatchSize {
		end := begin + p.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[begin:end]
		g.Go(func() error {
			return p.processBatch(gctx, batch, col)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &BuildSummary{
		Collection:      p.collection,
		Total:           len(docs),
		Indexed:         col.indexed,
		Skipped:         skipped,
		Failed:          len(col.failures),
		FailedDocuments: col.failures,
		Provider:        p.embedder.Name(),
		Model:           p.embedder.ModelName(),
		Dimension:       p.vector.Dimensions(),
		Duration:        time.Since(start),
	}

	summary.Compacted = p.maybeCompact()

	if err := p.persist(); err != nil {
		return nil, err
	}

	slog.Info("build_completed",
		slog.String("collection", p.collection),
		slog.Int("indexed", summary.Indexed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration))

	return summary, nil
}

// Prune removes every document whose doc_key is not in keep, from all
// three stores. Folder watch uses it so deleted files disappear from
// search results.
func (p *Pipeline) Prune(ctx context.Context, keep []string) (int, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		keepSet[k] = struct{}{}
	}

	recs, err := p.catalog.List(ctx, p.collection)
	if err != nil {
		return 0, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}

	var stale []*store.DocumentRecord
	for _, rec := range recs {
		if _, ok := keepSet[rec.DocKey]; !ok {
			stale = append(stale, rec)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	keys := make([]string, len(stale))
	ids := make([]uint64, len(stale))
	for i, rec := range stale {
		keys[i] = rec.DocKey
		ids[i] = rec.VectorID
	}
	if err := p.keyword.Delete(ctx, keys); err != nil {
		return 0, corperrors.Wrap(corperrors.ErrCodeIndexFailed, err)
	}
	if err := p.vector.Delete(ctx, ids); err != nil {
		return 0, corperrors.Wrap(corperrors.ErrCodeIndexFailed, err)
	}
	for _, rec := range stale {
		if _, err := p.catalog.Delete(ctx, p.collection, rec.DocKey); err != nil {
			return 0, corperrors.Wrap(corperrors.ErrCodeInternal, err)
		}
	}

	p.maybeCompact()
	if err := p.persist(); err != nil {
		return len(stale), err
	}

	slog.Info("prune_completed",
		slog.String("collection", p.collection),
		slog.Int("removed", len(stale)))
	return len(stale), nil
}

// collector accumulates per-document outcomes across batch goroutines.
type collector struct {
	mu       sync.Mutex
	indexed  int
	failures []FailedDocument
}

func (c *collector) addIndexed(n int) {
	c.mu.Lock()
	c.indexed += n
	c.mu.Unlock()
}

func (c *collector) addFailures(batch []task, reason string) {
	c.mu.Lock()
	for _, t := range batch {
		c.failures = append(c.failures, FailedDocument{DocKey: t.doc.DocKey, Reason: reason})
	}
	c.mu.Unlock()
}

// processBatch embeds one batch and performs the per-document dual write.
// Provider failures mark the batch's documents failed and return nil so
// other batches continue; invariant violations propagate and abort.
func (p *Pipeline) processBatch(ctx context.Context, batch []task, col *collector) error {
	texts := make([]string, len(batch))
	for i, t := range batch {
		texts[i] = t.doc.Text
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if isFatalBuildError(err) || ctx.Err() != nil {
			return err
		}
		slog.Warn("embed_batch_failed",
			slog.String("collection", p.collection),
			slog.Int("batch_size", len(batch)),
			slog.String("error", err.Error()))
		col.addFailures(batch, err.Error())
		return nil
	}

	if err := p.establishProvenance(ctx, len(vectors[0])); err != nil {
		return err
	}

	first, err := p.catalog.NextVectorID(ctx, p.collection, len(batch))
	if err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}

	for i, t := range batch {
		id := first + uint64(i)

		// Changed documents keep their doc_key but get a fresh vector
		// id; the old vector is tombstoned.
		if t.existing != nil {
			if err := p.vector.Delete(ctx, []uint64{t.existing.VectorID}); err != nil {
				return corperrors.Wrap(corperrors.ErrCodeIndexFailed, err)
			}
		}

		if err := p.vector.Add(ctx, []uint64{id}, [][]float32{vectors[i]}); err != nil {
			var dim store.ErrDimensionMismatch
			if errors.As(err, &dim) {
				return corperrors.DimensionMismatchError(dim.Expected, dim.Got)
			}
			return corperrors.Wrap(corperrors.ErrCodeIndexFailed, err)
		}

		rec := &store.DocumentRecord{
			Collection: p.collection,
			DocKey:     t.doc.DocKey,
			Text:       t.doc.Text,
			Metadata:   t.doc.Metadata,
			TextHash:   t.hash,
			VectorID:   id,
		}
		if err := p.catalog.Put(ctx, rec); err != nil {
			// Vector added but catalog write lost: Reconcile repairs
			// this document on the next build.
			return corperrors.Wrap(corperrors.ErrCodeInternal, err)
		}
	}
	col.addIndexed(len(batch))
	return nil
}

// checkProvenance rejects builds that would mix providers, models, or
// dimensions within one collection.
func (p *Pipeline) checkProvenance(ctx context.Context) error {
	prov, err := p.catalog.Provenance(ctx, p.collection)
	if err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	if prov == nil {
		return nil
	}
	if prov.Provider != p.embedder.Name() || prov.Model != p.embedder.ModelName() {
		return corperrors.Newf(corperrors.ErrCodeInvalidInput,
			"collection %q was built with %s/%s; rebuild it or use the same provider (got %s/%s)",
			p.collection, prov.Provider, prov.Model, p.embedder.Name(), p.embedder.ModelName())
	}
	if d := p.embedder.Dimensions(); d > 0 && d != prov.Dimension {
		return corperrors.DimensionMismatchError(prov.Dimension, d)
	}
	return nil
}

// establishProvenance records provider/model/dimension on the first
// successful embedding batch, and verifies it afterwards.
func (p *Pipeline) establishProvenance(ctx context.Context, dimension int) error {
	p.provMu.Lock()
	defer p.provMu.Unlock()

	prov, err := p.catalog.Provenance(ctx, p.collection)
	if err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	if prov != nil {
		if prov.Dimension != dimension {
			return corperrors.DimensionMismatchError(prov.Dimension, dimension)
		}
		return nil
	}
	now := time.Now().UTC()
	return p.catalog.SetProvenance(ctx, &store.Provenance{
		Collection: p.collection,
		Provider:   p.embedder.Name(),
		Model:      p.embedder.ModelName(),
		Dimension:  dimension,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// compactable is implemented by vector stores that support tombstone
// compaction.
type compactable interface {
	Stats() store.HNSWStats
	Compact() error
}

func (p *Pipeline) maybeCompact() bool {
	if !p.cfg.CompactionEnabled {
		return false
	}
	c, ok := p.vector.(compactable)
	if !ok {
		return false
	}
	stats := c.Stats()
	if stats.GraphNodes == 0 || stats.Tombstones < p.cfg.MinTombstones {
		return false
	}
	if float64(stats.Tombstones)/float64(stats.GraphNodes) < p.cfg.TombstoneThreshold {
		return false
	}
	if err := c.Compact(); err != nil {
		slog.Warn("vector_compaction_failed",
			slog.String("collection", p.collection),
			slog.String("error", err.Error()))
		return false
	}
	slog.Info("vector_compaction_completed",
		slog.String("collection", p.collection),
		slog.Int("tombstones_dropped", stats.Tombstones))
	return true
}

// persist flushes the vector graph and checkpoints the catalog WAL.
// The keyword index persists itself.
func (p *Pipeline) persist() error {
	if _, err := store.EnsureCollectionDir(p.root, p.collection); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}
	if err := p.vector.Save(store.VectorPath(p.root, p.collection)); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInternal, fmt.Errorf("saving vector index: %w", err))
	}
	if err := p.catalog.Checkpoint(); err != nil {
		slog.Warn("catalog_checkpoint_failed", slog.String("error", err.Error()))
	}
	return nil
}

// isFatalBuildError reports whether an embedding failure violates a
// collection-wide invariant rather than one document's processing.
func isFatalBuildError(err error) bool {
	var ce *corperrors.CorporaError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case corperrors.ErrCodeDimensionMismatch,
		corperrors.ErrCodeConfigInvalid,
		corperrors.ErrCodeCorruptIndex,
		corperrors.ErrCodeProviderAuth:
		return true
	}
	return false
}
