package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeywordIndex(t *testing.T) *BleveKeywordIndex {
	t.Helper()
	idx, err := NewBleveKeywordIndex("") // in-memory
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestKeywordIndex_UpsertAndSearch(t *testing.T) {
	// Given: an index with a few documents
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	docs := []KeywordDocument{
		{DocKey: "doc-1", Text: "the quick brown fox jumps over the lazy dog"},
		{DocKey: "doc-2", Text: "golang concurrency patterns with channels"},
		{DocKey: "doc-3", Text: "vector databases and embedding search"},
	}
	require.NoError(t, idx.Upsert(ctx, docs))

	// When: searching for a term present in one document
	results, err := idx.Search(ctx, "concurrency", 10)
	require.NoError(t, err)

	// Then: only the matching document is returned
	require.Len(t, results, 1)
	assert.Equal(t, "doc-2", results[0].DocKey)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestKeywordIndex_UpsertReplacesExisting(t *testing.T) {
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []KeywordDocument{
		{DocKey: "doc-1", Text: "original text about ships"},
	}))
	require.NoError(t, idx.Upsert(ctx, []KeywordDocument{
		{DocKey: "doc-1", Text: "replacement text about trains"},
	}))

	// Old text no longer matches
	results, err := idx.Search(ctx, "ships", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	// New text matches, count stays at one
	results, err = idx.Search(ctx, "trains", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestKeywordIndex_EmptyQueryReturnsNoHits(t *testing.T) {
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []KeywordDocument{
		{DocKey: "doc-1", Text: "some content"},
	}))

	for _, q := range []string{"", "   ", "\t\n"} {
		results, err := idx.Search(ctx, q, 10)
		require.NoError(t, err)
		assert.Empty(t, results, "query %q", q)
	}
}

func TestKeywordIndex_Delete(t *testing.T) {
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []KeywordDocument{
		{DocKey: "doc-1", Text: "alpha"},
		{DocKey: "doc-2", Text: "beta"},
	}))

	require.NoError(t, idx.Delete(ctx, []string{"doc-1"}))

	keys, err := idx.AllKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-2"}, keys)
}

func TestKeywordIndex_AllKeysEmptyIndex(t *testing.T) {
	idx := newTestKeywordIndex(t)

	keys, err := idx.AllKeys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestKeywordIndex_PersistsAcrossReopen(t *testing.T) {
	// Given: a disk-based index with one document
	path := filepath.Join(t.TempDir(), "keyword.bleve")
	ctx := context.Background()

	idx, err := NewBleveKeywordIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, []KeywordDocument{
		{DocKey: "doc-1", Text: "persistent storage layer"},
	}))
	require.NoError(t, idx.Close())

	// When: the index is reopened
	reopened, err := NewBleveKeywordIndex(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	// Then: the document is still searchable
	results, err := reopened.Search(ctx, "persistent", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].DocKey)
}

func TestKeywordIndex_ClosedIndexErrors(t *testing.T) {
	idx := newTestKeywordIndex(t)
	require.NoError(t, idx.Close())

	ctx := context.Background()
	assert.Error(t, idx.Upsert(ctx, []KeywordDocument{{DocKey: "x", Text: "y"}}))
	_, err := idx.Search(ctx, "y", 1)
	assert.Error(t, err)
	assert.NoError(t, idx.Close(), "double close is safe")
}
