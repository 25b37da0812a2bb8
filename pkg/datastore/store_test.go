package datastore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-dev/corpora/internal/config"
	corperrors "github.com/corpora-dev/corpora/internal/errors"
	"github.com/corpora-dev/corpora/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Home = t.TempDir()
	cfg.Embeddings.Provider = "static"
	return cfg
}

func openTestStore(t *testing.T, cfg *config.Config) *Store {
	t.Helper()
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDocs() []Document {
	return []Document{
		{DocKey: "go-routines", Text: "goroutines are lightweight threads managed by the runtime"},
		{DocKey: "go-channels", Text: "channels synchronize goroutines and carry typed values"},
		{DocKey: "sourdough", Text: "a sourdough starter ferments flour and water for bread"},
	}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	var ce *corperrors.CorporaError
	require.ErrorAs(t, err, &ce)
	return ce.Code
}

func TestStore_BuildAndSearch(t *testing.T) {
	// Given: an empty cache root
	s := openTestStore(t, testConfig(t))
	ctx := context.Background()

	// When: building a collection and querying each method
	summary, err := s.Build(ctx, "notes", sampleDocs())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Indexed)

	for _, method := range []string{"keyword", "embedding", "hybrid", ""} {
		results, err := s.Search(ctx, "notes", "goroutines and channels", method, 0, 0.5)
		require.NoError(t, err, "method %q", method)

		// Then: every method returns hits with payloads attached
		require.NotEmpty(t, results, "method %q", method)
		assert.LessOrEqual(t, len(results), DefaultToolTopK)
		assert.NotEmpty(t, results[0].Text)
	}
}

func TestStore_KeywordRoundTrip(t *testing.T) {
	// Given: two unrelated documents
	s := openTestStore(t, testConfig(t))
	ctx := context.Background()
	docs := []Document{
		{DocKey: "d1", Text: "Mitochondria is the powerhouse of the cell."},
		{DocKey: "d2", Text: "Insulin is a hormone regulating glucose."},
	}
	_, err := s.Build(ctx, "bio", docs)
	require.NoError(t, err)

	// When: querying a term that appears only in one of them
	results, err := s.Search(ctx, "bio", "glucose", "keyword", 5, 0)
	require.NoError(t, err)

	// Then: that document ranks first
	require.NotEmpty(t, results)
	assert.Equal(t, "d2", results[0].DocKey)
}

func TestStore_SearchMissingCollection(t *testing.T) {
	// Given: a store with no collections
	s := openTestStore(t, testConfig(t))

	// When: searching a name that was never built
	_, err := s.Search(context.Background(), "ghost", "anything", "hybrid", 5, 0.5)

	// Then: a not-found error, not an empty result set
	assert.Equal(t, corperrors.ErrCodeNotFound, errCode(t, err))
}

func TestStore_SearchRejectsUnknownMethod(t *testing.T) {
	s := openTestStore(t, testConfig(t))
	ctx := context.Background()
	_, err := s.Build(ctx, "notes", sampleDocs())
	require.NoError(t, err)

	_, err = s.Search(ctx, "notes", "anything", "psychic", 5, 0.5)
	assert.Equal(t, corperrors.ErrCodeInvalidQuery, errCode(t, err))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	// Given: a collection built and closed
	cfg := testConfig(t)
	ctx := context.Background()

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	_, err = s.Build(ctx, "notes", sampleDocs())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// When: reopening the same root
	s2 := openTestStore(t, cfg)

	// Then: search loads artifacts from disk
	results, err := s2.Search(ctx, "notes", "sourdough bread", "embedding", 1, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sourdough", results[0].DocKey)

	info, err := s2.Info(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, 3, info.DocumentCount)
	require.NotNil(t, info.Provenance)
	assert.Equal(t, "static", info.Provenance.Provider)
	assert.Positive(t, info.VectorBytes)
}

func TestStore_BuildRepairsLostVectorIndex(t *testing.T) {
	// Given: a built collection whose vector file vanished on disk
	cfg := testConfig(t)
	ctx := context.Background()

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	_, err = s.Build(ctx, "notes", sampleDocs())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, os.Remove(store.VectorPath(cfg.Home, "notes")))

	// When: the next build runs
	s2 := openTestStore(t, cfg)
	summary, err := s2.Build(ctx, "notes", sampleDocs())
	require.NoError(t, err)

	// Then: reconciliation re-embeds the lost vectors and the build
	// itself skips the unchanged documents
	assert.Equal(t, 3, summary.Skipped)
	results, err := s2.Search(ctx, "notes", "sourdough bread", "embedding", 1, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sourdough", results[0].DocKey)
}

func TestStore_ListAndDelete(t *testing.T) {
	// Given: two built collections
	s := openTestStore(t, testConfig(t))
	ctx := context.Background()

	_, err := s.Build(ctx, "notes", sampleDocs())
	require.NoError(t, err)
	_, err = s.Build(ctx, "recipes", sampleDocs()[2:])
	require.NoError(t, err)

	stats, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	// When: deleting one
	require.NoError(t, s.Delete(ctx, "recipes"))

	// Then: its artifacts and catalog rows are gone
	stats, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "notes", stats[0].Collection)
	assert.False(t, store.CollectionExists(s.root, "recipes"))

	err = s.Delete(ctx, "recipes")
	assert.Equal(t, corperrors.ErrCodeNotFound, errCode(t, err))
}

func TestStore_SyncFolderPrunesDeletedFiles(t *testing.T) {
	// Given: a collection mirroring a two-file folder
	s := openTestStore(t, testConfig(t))
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/keep.md", []byte("this file stays around"), 0o644))
	require.NoError(t, os.WriteFile(dir+"/gone.md", []byte("this file will be deleted"), 0o644))

	_, pruned, err := s.SyncFolder(ctx, "mirror", dir)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	// When: one source file disappears and the folder syncs again
	require.NoError(t, os.Remove(dir+"/gone.md"))
	summary, pruned, err := s.SyncFolder(ctx, "mirror", dir)
	require.NoError(t, err)

	// Then: its document leaves all stores
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 1, summary.Skipped)
	info, err := s.Info(ctx, "mirror")
	require.NoError(t, err)
	assert.Equal(t, 1, info.DocumentCount)

	results, err := s.Search(ctx, "mirror", "deleted", "keyword", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_PublishUnbuiltCollection(t *testing.T) {
	s := openTestStore(t, testConfig(t))

	_, err := s.Publish(context.Background(), "ghost", "alice/corpora-ghost", false)

	var ce *corperrors.CorporaError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, corperrors.ErrCodeNotFound, ce.Code)
}

func TestStore_BuildFolder(t *testing.T) {
	// Given: a folder of text files
	s := openTestStore(t, testConfig(t))
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/intro.md", []byte("welcome to the handbook"), 0o644))
	require.NoError(t, os.WriteFile(dir+"/setup.md", []byte("install the toolchain first"), 0o644))

	// When: quick-building from it
	summary, err := s.BuildFolder(ctx, "handbook", dir)
	require.NoError(t, err)

	// Then: one document per file, keyed by relative path
	assert.Equal(t, 2, summary.Indexed)
	results, err := s.Search(ctx, "handbook", "install toolchain", "keyword", 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "setup.md", results[0].DocKey)
}
