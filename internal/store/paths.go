package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Artifact layout under the cache root:
//
//	<root>/catalog.db                     shared SQLite catalog
//	<root>/<collection>/keyword.bleve/    bleve index directory
//	<root>/<collection>/vectors.hnsw      HNSW graph
//	<root>/<collection>/vectors.hnsw.meta gob id-map sidecar
//	<root>/<collection>/.build.lock       advisory build lock
const (
	CatalogFileName = "catalog.db"
	KeywordDirName  = "keyword.bleve"
	VectorFileName  = "vectors.hnsw"
	LockFileName    = ".build.lock"
)

// collectionNameRe restricts collection names to filesystem-safe tokens.
var collectionNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateCollectionName rejects names that would escape the cache root
// or collide with shared files.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("collection name must not be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("collection name too long: %d chars (max 128)", len(name))
	}
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("invalid collection name %q: use letters, digits, '.', '_', '-'", name)
	}
	if name == CatalogFileName {
		return fmt.Errorf("collection name %q is reserved", name)
	}
	return nil
}

// CollectionDir returns the artifact directory for a collection.
func CollectionDir(root, collection string) string {
	return filepath.Join(root, collection)
}

// KeywordPath returns the bleve index directory for a collection.
func KeywordPath(root, collection string) string {
	return filepath.Join(root, collection, KeywordDirName)
}

// VectorPath returns the HNSW index file for a collection.
func VectorPath(root, collection string) string {
	return filepath.Join(root, collection, VectorFileName)
}

// CatalogPath returns the shared catalog database path.
func CatalogPath(root string) string {
	return filepath.Join(root, CatalogFileName)
}

// LockPath returns the build lock file for a collection.
func LockPath(root, collection string) string {
	return filepath.Join(root, collection, LockFileName)
}

// EnsureCollectionDir creates the artifact directory for a collection.
func EnsureCollectionDir(root, collection string) (string, error) {
	dir := CollectionDir(root, collection)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create collection directory %s: %w", dir, err)
	}
	return dir, nil
}

// CollectionExists reports whether a collection has local artifacts.
func CollectionExists(root, collection string) bool {
	info, err := os.Stat(CollectionDir(root, collection))
	return err == nil && info.IsDir()
}

// ArtifactSizes returns the on-disk sizes of a collection's indexes.
func ArtifactSizes(root, collection string) (keywordBytes, vectorBytes int64, err error) {
	kwDir := KeywordPath(root, collection)
	err = filepath.Walk(kwDir, func(_ string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if !info.IsDir() {
			keywordBytes += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, 0, err
	}

	for _, p := range []string{VectorPath(root, collection), VectorPath(root, collection) + ".meta"} {
		if info, statErr := os.Stat(p); statErr == nil {
			vectorBytes += info.Size()
		}
	}
	return keywordBytes, vectorBytes, nil
}
