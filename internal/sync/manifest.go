// Package sync publishes collections to and fetches them from a
// Hugging Face Hub dataset repo. A published collection is a tar.gz
// bundle of its on-disk artifacts plus a manifest describing provenance
// and a checksum over the bundle bytes.
package sync

import (
	"encoding/json"
	"os"
	"time"

	corperrors "github.com/corpora-dev/corpora/internal/errors"
)

// ManifestFormatVersion is bumped when the bundle layout changes.
const ManifestFormatVersion = 1

// Manifest describes one published bundle.
type Manifest struct {
	FormatVersion int       `json:"format_version"`
	Collection    string    `json:"collection"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Dimension     int       `json:"dimension"`
	DocumentCount int       `json:"document_count"`
	Checksum      string    `json:"checksum"` // sha256 over the bundle tar.gz
	CreatedAt     time.Time `json:"created_at"`
}

// Validate rejects manifests this version cannot install.
func (m *Manifest) Validate() error {
	if m.FormatVersion != ManifestFormatVersion {
		return corperrors.Newf(corperrors.ErrCodeInvalidInput,
			"unsupported bundle format version %d (want %d)", m.FormatVersion, ManifestFormatVersion)
	}
	if m.Collection == "" {
		return corperrors.New(corperrors.ErrCodeInvalidInput, "manifest has no collection name", nil)
	}
	if m.Checksum == "" {
		return corperrors.New(corperrors.ErrCodeInvalidInput, "manifest has no checksum", nil)
	}
	return nil
}

// WriteFile serializes the manifest as indented JSON.
func (m *Manifest) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadManifest parses a manifest file and validates it.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeFileNotFound, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput, "malformed manifest: "+err.Error(), err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
