package sync

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	corperrors "github.com/corpora-dev/corpora/internal/errors"
	"github.com/corpora-dev/corpora/internal/store"
)

// documentsFileName is the catalog export inside a bundle.
const documentsFileName = "documents.jsonl"

// exportedDocument is one catalog row in the bundle's JSONL export.
type exportedDocument struct {
	DocKey   string         `json:"doc_key"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	TextHash string         `json:"text_hash"`
	VectorID uint64         `json:"vector_id"`
}

// WriteBundle serializes a collection's artifacts into a tar.gz at
// outPath and returns the manifest describing it. The bundle holds the
// keyword index directory, the vector index with its sidecar, and the
// catalog rows as JSONL.
func WriteBundle(ctx context.Context, root, collection string, catalog *store.Catalog, outPath string) (*Manifest, error) {
	prov, err := catalog.Provenance(ctx, collection)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	if prov == nil {
		return nil, corperrors.NotFoundError(fmt.Sprintf("collection %q has never been built", collection))
	}
	records, err := catalog.List(ctx, collection)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}
	defer out.Close()

	// Checksum the compressed stream as it is written.
	hasher := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(out, hasher))
	tw := tar.NewWriter(gz)

	if err := addCatalogExport(tw, records); err != nil {
		return nil, err
	}
	if err := addArtifactTree(tw, store.CollectionDir(root, collection)); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	if err := gz.Close(); err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	if err := out.Close(); err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}

	return &Manifest{
		FormatVersion: ManifestFormatVersion,
		Collection:    collection,
		Provider:      prov.Provider,
		Model:         prov.Model,
		Dimension:     prov.Dimension,
		DocumentCount: len(records),
		Checksum:      hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func addCatalogExport(tw *tar.Writer, records []*store.DocumentRecord) error {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(exportedDocument{
			DocKey:   rec.DocKey,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			TextHash: rec.TextHash,
			VectorID: rec.VectorID,
		}); err != nil {
			return corperrors.Wrap(corperrors.ErrCodeInternal, err)
		}
	}
	data := buf.String()
	if err := tw.WriteHeader(&tar.Header{
		Name: documentsFileName,
		Mode: 0o644,
		Size: int64(len(data)),
	}); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	if _, err := io.WriteString(tw, data); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	return nil
}

func addArtifactTree(tw *tar.Writer, dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." || rel == store.LockFileName {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	return nil
}

// VerifyChecksum compares a file's sha256 against the manifest's.
func VerifyChecksum(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return corperrors.Wrap(corperrors.ErrCodeFileNotFound, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if got != want {
		return corperrors.Newf(corperrors.ErrCodeSyncChecksum,
			"bundle checksum mismatch: got %s, manifest says %s", got, want)
	}
	return nil
}

// InstallBundle verifies and unpacks a downloaded bundle, then imports
// its catalog rows. The unpack is staged in a temp directory and swapped
// in only once fully extracted, so a partial download or bad archive
// never replaces local data.
func InstallBundle(ctx context.Context, root, collection, bundlePath string, manifest *Manifest, catalog *store.Catalog, overwrite bool) error {
	if err := store.ValidateCollectionName(collection); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInvalidInput, err)
	}
	if err := VerifyChecksum(bundlePath, manifest.Checksum); err != nil {
		return err
	}
	if store.CollectionExists(root, collection) && !overwrite {
		return corperrors.Newf(corperrors.ErrCodeSyncConflict,
			"collection %q already exists locally (use --overwrite to replace it)", collection)
	}

	staging := filepath.Join(root, ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}
	defer os.RemoveAll(staging)

	docsPath, err := extractBundle(bundlePath, staging)
	if err != nil {
		return err
	}
	docs, err := readDocumentExport(docsPath)
	if err != nil {
		return err
	}
	if len(docs) != manifest.DocumentCount {
		return corperrors.Newf(corperrors.ErrCodeSyncChecksum,
			"bundle holds %d documents, manifest says %d", len(docs), manifest.DocumentCount)
	}
	// The export only travels inside the bundle; the catalog is the
	// local source of truth.
	if err := os.Remove(docsPath); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}

	target := store.CollectionDir(root, collection)
	if err := os.RemoveAll(target); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}
	if err := os.Rename(staging, target); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}

	return importCatalog(ctx, catalog, collection, manifest, docs)
}

// extractBundle unpacks the tar.gz into dir and returns the catalog
// export path. Entries escaping dir are rejected.
func extractBundle(bundlePath, dir string) (string, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return "", corperrors.Wrap(corperrors.ErrCodeFileNotFound, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", corperrors.New(corperrors.ErrCodeSyncChecksum, "bundle is not a gzip stream: "+err.Error(), err)
	}
	defer gz.Close()

	var docsPath string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", corperrors.New(corperrors.ErrCodeSyncChecksum, "corrupt bundle archive: "+err.Error(), err)
		}

		name := filepath.Clean(hdr.Name)
		if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
			return "", corperrors.Newf(corperrors.ErrCodeInvalidPath, "bundle entry escapes extraction dir: %s", hdr.Name)
		}
		dest := filepath.Join(dir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return "", corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return "", corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
			}
			out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return "", corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return "", corperrors.Wrap(corperrors.ErrCodeInternal, err)
			}
			if err := out.Close(); err != nil {
				return "", corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
			}
			if name == documentsFileName {
				docsPath = dest
			}
		}
	}

	if docsPath == "" {
		return "", corperrors.New(corperrors.ErrCodeSyncChecksum, "bundle is missing its catalog export", nil)
	}
	return docsPath, nil
}

func readDocumentExport(path string) ([]exportedDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeFileNotFound, err)
	}
	defer f.Close()

	var docs []exportedDocument
	dec := json.NewDecoder(f)
	for dec.More() {
		var d exportedDocument
		if err := dec.Decode(&d); err != nil {
			return nil, corperrors.New(corperrors.ErrCodeSyncChecksum, "corrupt catalog export: "+err.Error(), err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// importCatalog replaces the collection's catalog rows with the bundle's
// export in one transaction, so an interrupted install never leaves a
// half-imported collection behind.
func importCatalog(ctx context.Context, catalog *store.Catalog, collection string, manifest *Manifest, docs []exportedDocument) error {
	recs := make([]*store.DocumentRecord, len(docs))
	var maxID uint64
	for i, d := range docs {
		recs[i] = &store.DocumentRecord{
			Collection: collection,
			DocKey:     d.DocKey,
			Text:       d.Text,
			Metadata:   d.Metadata,
			TextHash:   d.TextHash,
			VectorID:   d.VectorID,
		}
		if d.VectorID > maxID {
			maxID = d.VectorID
		}
	}

	now := time.Now().UTC()
	prov := &store.Provenance{
		Collection: collection,
		Provider:   manifest.Provider,
		Model:      manifest.Model,
		Dimension:  manifest.Dimension,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := catalog.ImportCollection(ctx, collection, recs, prov, maxID+1); err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}
	return nil
}
