package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	corperrors "github.com/corpora-dev/corpora/internal/errors"
	"github.com/corpora-dev/corpora/internal/store"
)

// bundleRemotePath and manifestRemotePath name the two files in a repo.
func bundleRemotePath(collection string) string   { return collection + ".tar.gz" }
func manifestRemotePath(collection string) string { return collection + ".manifest.json" }

// Manager orchestrates publish and fetch between the local cache root
// and a Hub repo.
type Manager struct {
	client  *HFClient
	root    string
	catalog *store.Catalog
}

// NewManager wires a sync manager over an opened catalog.
func NewManager(client *HFClient, root string, catalog *store.Catalog) (*Manager, error) {
	if client == nil {
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput, "hub client is required", nil)
	}
	if catalog == nil {
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput, "catalog is required", nil)
	}
	return &Manager{client: client, root: root, catalog: catalog}, nil
}

// Publish bundles a collection and uploads it. An empty repo resolves to
// <user>/corpora-<collection> for the authenticated user.
func (m *Manager) Publish(ctx context.Context, collection, repo string, private bool) (*Manifest, error) {
	if !store.CollectionExists(m.root, collection) {
		return nil, corperrors.NotFoundError(fmt.Sprintf("collection %q does not exist locally", collection))
	}

	if repo == "" {
		user, err := m.client.WhoAmI(ctx)
		if err != nil {
			return nil, err
		}
		repo = DefaultRepo(user, collection)
	}

	workDir, err := os.MkdirTemp("", "corpora-publish-*")
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}
	defer os.RemoveAll(workDir)

	bundlePath := filepath.Join(workDir, bundleRemotePath(collection))
	manifest, err := WriteBundle(ctx, m.root, collection, m.catalog, bundlePath)
	if err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(workDir, manifestRemotePath(collection))
	if err := manifest.WriteFile(manifestPath); err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}

	slog.Info("publish_started",
		slog.String("collection", collection),
		slog.String("repo", repo),
		slog.Int("documents", manifest.DocumentCount))

	if err := m.client.CreateRepo(ctx, repo, private); err != nil {
		return nil, err
	}
	if err := m.client.Upload(ctx, repo, bundleRemotePath(collection), bundlePath); err != nil {
		return nil, err
	}
	if err := m.client.Upload(ctx, repo, manifestRemotePath(collection), manifestPath); err != nil {
		return nil, err
	}

	slog.Info("publish_completed",
		slog.String("collection", collection),
		slog.String("repo", repo),
		slog.String("checksum", manifest.Checksum))
	return manifest, nil
}

// Fetch downloads a published collection and installs it locally.
// Nothing local is touched until the bundle is fully downloaded and its
// checksum verified.
func (m *Manager) Fetch(ctx context.Context, repo, collection string, overwrite bool) (*Manifest, error) {
	if err := store.ValidateCollectionName(collection); err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInvalidInput, err)
	}
	if store.CollectionExists(m.root, collection) && !overwrite {
		return nil, corperrors.Newf(corperrors.ErrCodeSyncConflict,
			"collection %q already exists locally (use --overwrite to replace it)", collection)
	}

	workDir, err := os.MkdirTemp("", "corpora-fetch-*")
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}
	defer os.RemoveAll(workDir)

	manifestPath := filepath.Join(workDir, "manifest.json")
	if err := m.client.Download(ctx, repo, manifestRemotePath(collection), manifestPath); err != nil {
		return nil, err
	}
	manifest, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if manifest.Collection != collection {
		return nil, corperrors.Newf(corperrors.ErrCodeSyncChecksum,
			"manifest is for collection %q, expected %q", manifest.Collection, collection)
	}

	bundlePath := filepath.Join(workDir, "bundle.tar.gz")
	if err := m.client.Download(ctx, repo, bundleRemotePath(collection), bundlePath); err != nil {
		return nil, err
	}

	if err := InstallBundle(ctx, m.root, collection, bundlePath, manifest, m.catalog, overwrite); err != nil {
		return nil, err
	}

	slog.Info("fetch_completed",
		slog.String("collection", collection),
		slog.String("repo", repo),
		slog.Int("documents", manifest.DocumentCount))
	return manifest, nil
}
