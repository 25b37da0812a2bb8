package ingest

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	corperrors "github.com/corpora-dev/corpora/internal/errors"
)

// MaxFolderFileSize is the largest file loaded as a single document.
// Bigger files are almost certainly not prose and are skipped.
const MaxFolderFileSize int64 = 10 * 1024 * 1024

// LoadFolder walks root and returns one document per regular file.
// doc_key is the slash-separated path relative to root; metadata gets a
// title (base name) and source (relative path). Hidden files and
// anything under a hidden directory are skipped.
func LoadFolder(root string) ([]Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, corperrors.Newf(corperrors.ErrCodeFileNotFound, "folder not found: %s", root)
		}
		return nil, corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}
	if !info.IsDir() {
		return nil, corperrors.Newf(corperrors.ErrCodeInvalidPath, "not a directory: %s", root)
	}

	var docs []Document
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() == 0 {
			return nil
		}
		if fi.Size() > MaxFolderFileSize {
			slog.Warn("skipping oversized file",
				slog.String("path", path),
				slog.Int64("size_bytes", fi.Size()))
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !utf8.Valid(data) {
			slog.Debug("skipping non-text file", slog.String("path", path))
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		docs = append(docs, Document{
			DocKey: rel,
			Text:   string(data),
			Metadata: map[string]any{
				"title":  name,
				"source": rel,
			},
		})
		return nil
	})
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}

	if len(docs) == 0 {
		return nil, corperrors.Newf(corperrors.ErrCodeInvalidInput,
			"folder %s contains no ingestable text files", root)
	}
	return docs, nil
}
