package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-dev/corpora/internal/embed"
	corperrors "github.com/corpora-dev/corpora/internal/errors"
	"github.com/corpora-dev/corpora/internal/store"
)

const testCollection = "docs"

type pipelineFixture struct {
	root     string
	keyword  *store.BleveKeywordIndex
	vector   *store.HNSWStore
	catalog  *store.Catalog
	pipeline *Pipeline
}

func newFixture(t *testing.T, provider embed.Provider, cfg Config) *pipelineFixture {
	t.Helper()

	root := t.TempDir()

	keyword, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = keyword.Close() })

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })

	catalog, err := store.OpenCatalog("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	p, err := NewPipeline(testCollection, root, keyword, vector, catalog, provider, cfg)
	require.NoError(t, err)

	return &pipelineFixture{root: root, keyword: keyword, vector: vector, catalog: catalog, pipeline: p}
}

func sampleDocs() []Document {
	return []Document{
		{DocKey: "alpha", Text: "first document about search engines", Metadata: map[string]any{"lang": "en"}},
		{DocKey: "beta", Text: "second document about vector embeddings"},
		{DocKey: "gamma", Text: "third document about ranking functions"},
	}
}

func TestPipeline_BuildIndexesAllDocuments(t *testing.T) {
	// Given: a fresh collection
	f := newFixture(t, embed.NewStaticProvider(), DefaultConfig())
	ctx := context.Background()

	// When: building from three documents
	summary, err := f.pipeline.Build(ctx, sampleDocs())
	require.NoError(t, err)

	// Then: everything lands in all three stores
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Indexed)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, "static", summary.Provider)
	assert.Equal(t, embed.StaticDimensions, summary.Dimension)

	count, err := f.catalog.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, f.vector.Count())
	kwCount, err := f.keyword.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, kwCount)

	// Provenance was recorded from the first successful batch
	prov, err := f.catalog.Provenance(ctx, testCollection)
	require.NoError(t, err)
	require.NotNil(t, prov)
	assert.Equal(t, "static", prov.Provider)
	assert.Equal(t, embed.StaticDimensions, prov.Dimension)
}

func TestPipeline_RebuildIsIdempotent(t *testing.T) {
	// Given: a collection already built from these documents
	f := newFixture(t, embed.NewStaticProvider(), DefaultConfig())
	ctx := context.Background()
	_, err := f.pipeline.Build(ctx, sampleDocs())
	require.NoError(t, err)

	// When: building again with identical input
	summary, err := f.pipeline.Build(ctx, sampleDocs())
	require.NoError(t, err)

	// Then: every document is skipped and nothing is duplicated
	assert.Zero(t, summary.Indexed)
	assert.Equal(t, 3, summary.Skipped)

	count, err := f.catalog.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, f.vector.Count())
}

func TestPipeline_ChangedDocumentGetsFreshVector(t *testing.T) {
	// Given: a built collection
	f := newFixture(t, embed.NewStaticProvider(), DefaultConfig())
	ctx := context.Background()
	docs := sampleDocs()
	_, err := f.pipeline.Build(ctx, docs)
	require.NoError(t, err)

	before, err := f.catalog.Get(ctx, testCollection, "alpha")
	require.NoError(t, err)

	// When: one document's text changes and the build reruns
	docs[0].Text = "completely rewritten first document"
	summary, err := f.pipeline.Build(ctx, docs)
	require.NoError(t, err)

	// Then: only that document is re-embedded, under a fresh vector id
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 2, summary.Skipped)

	after, err := f.catalog.Get(ctx, testCollection, "alpha")
	require.NoError(t, err)
	assert.NotEqual(t, before.VectorID, after.VectorID)
	assert.False(t, f.vector.Contains(before.VectorID))
	assert.True(t, f.vector.Contains(after.VectorID))
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestPipeline_PruneRemovesStaleDocuments(t *testing.T) {
	// Given: a built collection of three documents
	f := newFixture(t, embed.NewStaticProvider(), DefaultConfig())
	ctx := context.Background()
	_, err := f.pipeline.Build(ctx, sampleDocs())
	require.NoError(t, err)

	gamma, err := f.catalog.Get(ctx, testCollection, "gamma")
	require.NoError(t, err)

	// When: pruning down to two surviving doc keys
	removed, err := f.pipeline.Prune(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)

	// Then: the third document leaves all three stores
	assert.Equal(t, 1, removed)
	count, err := f.catalog.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.False(t, f.vector.Contains(gamma.VectorID))
	kwCount, err := f.keyword.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, kwCount)

	// Pruning with nothing stale is a no-op
	removed, err = f.pipeline.Prune(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPipeline_LockedCollectionRejectsBuild(t *testing.T) {
	// Given: another process holds the build lock
	f := newFixture(t, embed.NewStaticProvider(), DefaultConfig())
	_, err := store.EnsureCollectionDir(f.root, testCollection)
	require.NoError(t, err)
	other := store.NewBuildLock(f.root, testCollection)
	require.NoError(t, other.Lock())
	defer func() { _ = other.Unlock() }()

	// When: a build is attempted
	_, err = f.pipeline.Build(context.Background(), sampleDocs())

	// Then: it fails fast with the lock error
	require.Error(t, err)
	assert.Equal(t, corperrors.ErrCodeLockHeld, errCode(t, err))
}

// fakeProvider wraps the static provider with an overridable identity and
// scripted failures.
type fakeProvider struct {
	inner     *embed.StaticProvider
	name      string
	model     string
	dims      int
	failMatch string
	failCode  string
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failMatch != "" {
		for _, t := range texts {
			if strings.Contains(t, f.failMatch) {
				code := f.failCode
				if code == "" {
					code = corperrors.ErrCodeProviderUnavailable
				}
				return nil, corperrors.New(code, "scripted provider failure", nil)
			}
		}
	}
	return f.inner.EmbedBatch(ctx, texts)
}

func (f *fakeProvider) Dimensions() int {
	if f.dims != 0 {
		return f.dims
	}
	return f.inner.Dimensions()
}

func (f *fakeProvider) ModelName() string {
	if f.model != "" {
		return f.model
	}
	return f.inner.ModelName()
}

func (f *fakeProvider) Name() string {
	if f.name != "" {
		return f.name
	}
	return f.inner.Name()
}

func (f *fakeProvider) Available(ctx context.Context) bool { return true }
func (f *fakeProvider) Close() error                       { return nil }

func TestPipeline_PartialFailureContinues(t *testing.T) {
	// Given: a provider that fails for one document, batch size 1 so
	// failures stay per-document
	provider := &fakeProvider{inner: embed.NewStaticProvider(), failMatch: "ranking"}
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	f := newFixture(t, provider, cfg)

	// When: building
	summary, err := f.pipeline.Build(context.Background(), sampleDocs())
	require.NoError(t, err)

	// Then: the bad document is reported, the rest are indexed
	assert.Equal(t, 2, summary.Indexed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.FailedDocuments, 1)
	assert.Equal(t, "gamma", summary.FailedDocuments[0].DocKey)
	assert.Contains(t, summary.FailedDocuments[0].Reason, "scripted provider failure")
}

func TestPipeline_AuthFailureAbortsBuild(t *testing.T) {
	// Given: a provider whose credentials get rejected mid-build
	provider := &fakeProvider{
		inner:     embed.NewStaticProvider(),
		failMatch: "ranking",
		failCode:  corperrors.ErrCodeProviderAuth,
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	f := newFixture(t, provider, cfg)

	// When: building
	_, err := f.pipeline.Build(context.Background(), sampleDocs())

	// Then: the rejection fails the whole build instead of becoming a
	// per-document warning
	require.Error(t, err)
	assert.Equal(t, corperrors.ErrCodeProviderAuth, errCode(t, err))
}

func TestPipeline_MixedModelRejected(t *testing.T) {
	// Given: a collection built with the static model
	f := newFixture(t, embed.NewStaticProvider(), DefaultConfig())
	ctx := context.Background()
	_, err := f.pipeline.Build(ctx, sampleDocs())
	require.NoError(t, err)

	// When: rebuilding with a different model identity
	other := &fakeProvider{inner: embed.NewStaticProvider(), model: "some-other-model"}
	p2, err := NewPipeline(testCollection, f.root, f.keyword, f.vector, f.catalog, other, DefaultConfig())
	require.NoError(t, err)
	_, err = p2.Build(ctx, sampleDocs())

	// Then: the build aborts before any write
	require.Error(t, err)
	assert.Equal(t, corperrors.ErrCodeInvalidInput, errCode(t, err))
}

func TestPipeline_DimensionMismatchIsFatal(t *testing.T) {
	// Given: a collection with 256-dim provenance
	f := newFixture(t, embed.NewStaticProvider(), DefaultConfig())
	ctx := context.Background()
	_, err := f.pipeline.Build(ctx, sampleDocs())
	require.NoError(t, err)

	// When: the same model identity reports a different dimension
	other := &fakeProvider{inner: embed.NewStaticProvider(), dims: 8}
	p2, err := NewPipeline(testCollection, f.root, f.keyword, f.vector, f.catalog, other, DefaultConfig())
	require.NoError(t, err)
	_, err = p2.Build(ctx, []Document{{DocKey: "delta", Text: "new content"}})

	// Then: the dimension invariant aborts the whole build
	require.Error(t, err)
	assert.Equal(t, corperrors.ErrCodeDimensionMismatch, errCode(t, err))
}

func TestPipeline_ReconcileRepairsLostVector(t *testing.T) {
	// Given: a built collection where one vector went missing
	f := newFixture(t, embed.NewStaticProvider(), DefaultConfig())
	ctx := context.Background()
	_, err := f.pipeline.Build(ctx, sampleDocs())
	require.NoError(t, err)

	rec, err := f.catalog.Get(ctx, testCollection, "beta")
	require.NoError(t, err)
	require.NoError(t, f.vector.Delete(ctx, []uint64{rec.VectorID}))
	require.Equal(t, 2, f.vector.Count())

	// When: reconciling
	result, err := f.pipeline.Reconcile(ctx)
	require.NoError(t, err)

	// Then: only the divergent document was re-embedded
	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, []string{"beta"}, result.MissingVectors)
	assert.Equal(t, 1, result.Repaired)
	assert.Equal(t, 3, f.vector.Count())

	after, err := f.catalog.Get(ctx, testCollection, "beta")
	require.NoError(t, err)
	assert.NotEqual(t, rec.VectorID, after.VectorID)
	assert.True(t, f.vector.Contains(after.VectorID))
}

func TestPipeline_ReconcileDropsOrphanVectors(t *testing.T) {
	// Given: a live vector no catalog row points at
	f := newFixture(t, embed.NewStaticProvider(), DefaultConfig())
	ctx := context.Background()
	_, err := f.pipeline.Build(ctx, sampleDocs())
	require.NoError(t, err)

	orphan := make([]float32, embed.StaticDimensions)
	orphan[0] = 1
	require.NoError(t, f.vector.Add(ctx, []uint64{9999}, [][]float32{orphan}))

	// When: reconciling
	result, err := f.pipeline.Reconcile(ctx)
	require.NoError(t, err)

	// Then: the orphan is tombstoned
	assert.Equal(t, 1, result.OrphanVectors)
	assert.False(t, f.vector.Contains(9999))
	assert.Equal(t, 3, f.vector.Count())
}

func TestPipeline_ValidationBeforeAnyWrite(t *testing.T) {
	// Given: an input batch with a duplicate doc_key
	f := newFixture(t, embed.NewStaticProvider(), DefaultConfig())
	docs := append(sampleDocs(), Document{DocKey: "alpha", Text: "duplicate"})

	// When: building
	_, err := f.pipeline.Build(context.Background(), docs)

	// Then: rejected up front, nothing written
	require.Error(t, err)
	assert.Equal(t, corperrors.ErrCodeDuplicateDocKey, errCode(t, err))
	count, cerr := f.catalog.Count(context.Background(), testCollection)
	require.NoError(t, cerr)
	assert.Zero(t, count)
}
