// Package ingest builds collections: it loads documents from JSON or
// folders, embeds them through a provider, and performs the dual write
// into the keyword index, vector store, and catalog.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	corperrors "github.com/corpora-dev/corpora/internal/errors"
)

// Document is one unit of ingestable content.
type Document struct {
	DocKey   string         `json:"doc_key" validate:"required"`
	Text     string         `json:"text" validate:"required"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

var validate = validator.New()

// LoadDocumentsJSON reads a JSON array of documents from path and
// validates it. Nothing is written anywhere on validation failure.
func LoadDocumentsJSON(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, corperrors.Newf(corperrors.ErrCodeFileNotFound, "documents file not found: %s", path)
		}
		return nil, corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
	}

	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput,
			fmt.Sprintf("documents file is not a JSON array of {doc_key, text, metadata}: %v", err), err)
	}

	if err := ValidateDocuments(docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// ValidateDocuments checks required fields and rejects duplicate doc_keys
// within the batch. Runs before any write.
func ValidateDocuments(docs []Document) error {
	if len(docs) == 0 {
		return corperrors.New(corperrors.ErrCodeInvalidInput, "no documents to ingest", nil)
	}

	seen := make(map[string]bool, len(docs))
	for i, d := range docs {
		if err := validate.Struct(d); err != nil {
			return corperrors.New(corperrors.ErrCodeInvalidInput,
				fmt.Sprintf("document %d (%q): %s", i, d.DocKey, describeValidationError(err)), err)
		}
		if strings.TrimSpace(d.Text) == "" {
			return corperrors.Newf(corperrors.ErrCodeInvalidInput,
				"document %d (%q): text is blank", i, d.DocKey)
		}
		if seen[d.DocKey] {
			return corperrors.Newf(corperrors.ErrCodeDuplicateDocKey,
				"duplicate doc_key %q in input batch", d.DocKey)
		}
		seen[d.DocKey] = true
	}
	return nil
}

func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fields := make([]string, len(verrs))
	for i, fe := range verrs {
		fields[i] = fmt.Sprintf("field %s failed %q", fe.Field(), fe.Tag())
	}
	return strings.Join(fields, "; ")
}

// TextHash returns the canonical content hash used for change detection.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
