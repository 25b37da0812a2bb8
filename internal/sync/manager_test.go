package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corperrors "github.com/corpora-dev/corpora/internal/errors"
	"github.com/corpora-dev/corpora/internal/store"
)

func TestManager_PublishThenFetch(t *testing.T) {
	// Given: a built collection and a hub
	srcRoot, srcCatalog := newBuiltCollection(t)
	_, client := newTestHub(t, "alice")
	ctx := context.Background()

	publisher, err := NewManager(client, srcRoot, srcCatalog)
	require.NoError(t, err)

	// When: publishing without an explicit repo
	manifest, err := publisher.Publish(ctx, testCollection, "", true)
	require.NoError(t, err)
	assert.Equal(t, 3, manifest.DocumentCount)

	// And: fetching it on a second machine
	dstRoot := t.TempDir()
	dstCatalog, err := store.OpenCatalog("")
	require.NoError(t, err)
	defer dstCatalog.Close()
	fetcher, err := NewManager(client, dstRoot, dstCatalog)
	require.NoError(t, err)

	fetched, err := fetcher.Fetch(ctx, DefaultRepo("alice", testCollection), testCollection, false)
	require.NoError(t, err)

	// Then: the manifest round-trips and the collection is installed
	assert.Equal(t, manifest.Checksum, fetched.Checksum)
	assert.True(t, store.CollectionExists(dstRoot, testCollection))
	count, err := dstCatalog.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestManager_PublishMissingCollection(t *testing.T) {
	_, client := newTestHub(t, "alice")
	catalog, err := store.OpenCatalog("")
	require.NoError(t, err)
	defer catalog.Close()
	m, err := NewManager(client, t.TempDir(), catalog)
	require.NoError(t, err)

	_, err = m.Publish(context.Background(), "ghost", "", false)
	require.Error(t, err)
	assert.Equal(t, corperrors.ErrCodeNotFound, errCode(t, err))
}

func TestManager_FetchRefusesClobber(t *testing.T) {
	// Given: the collection already exists locally
	_, client := newTestHub(t, "alice")
	root := t.TempDir()
	_, err := store.EnsureCollectionDir(root, testCollection)
	require.NoError(t, err)
	catalog, err := store.OpenCatalog("")
	require.NoError(t, err)
	defer catalog.Close()
	m, err := NewManager(client, root, catalog)
	require.NoError(t, err)

	// When: fetching without overwrite
	_, err = m.Fetch(context.Background(), "alice/corpora-handbook", testCollection, false)

	// Then: refused before any network transfer of the bundle
	require.Error(t, err)
	assert.Equal(t, corperrors.ErrCodeSyncConflict, errCode(t, err))
}

func TestManager_FetchMissingRepo(t *testing.T) {
	_, client := newTestHub(t, "alice")
	catalog, err := store.OpenCatalog("")
	require.NoError(t, err)
	defer catalog.Close()
	m, err := NewManager(client, t.TempDir(), catalog)
	require.NoError(t, err)

	_, err = m.Fetch(context.Background(), "alice/ghost", "handbook", false)
	require.Error(t, err)
	assert.Equal(t, corperrors.ErrCodeNotFound, errCode(t, err))
}
