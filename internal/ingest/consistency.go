package ingest

import (
	"context"
	"log/slog"
	"time"

	corperrors "github.com/corpora-dev/corpora/internal/errors"
)

// ReconcileResult reports catalog/vector-store divergence and repairs.
type ReconcileResult struct {
	Checked        int
	OrphanVectors  int      // live vectors with no catalog row, tombstoned
	MissingVectors []string // doc_keys whose vector was lost, re-embedded
	Repaired       int
	Duration       time.Duration
}

// Reconcile compares the catalog's vector_id assignments against the
// vector store's membership and repairs divergence document by document:
// orphan vectors are tombstoned, documents with a lost vector are
// re-embedded under a fresh id. The whole collection is never rebuilt.
func (p *Pipeline) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	start := time.Now()

	records, err := p.catalog.List(ctx, p.collection)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}

	result := &ReconcileResult{Checked: len(records)}

	known := make(map[uint64]bool, len(records))
	var divergent []task
	for _, rec := range records {
		known[rec.VectorID] = true
		if !p.vector.Contains(rec.VectorID) {
			result.MissingVectors = append(result.MissingVectors, rec.DocKey)
			divergent = append(divergent, task{
				doc: Document{
					DocKey:   rec.DocKey,
					Text:     rec.Text,
					Metadata: rec.Metadata,
				},
				hash:     rec.TextHash,
				existing: rec,
			})
		}
	}

	var orphans []uint64
	for _, id := range p.vector.AllIDs() {
		if !known[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		if err := p.vector.Delete(ctx, orphans); err != nil {
			return nil, corperrors.Wrap(corperrors.ErrCodeIndexFailed, err)
		}
		result.OrphanVectors = len(orphans)
		result.Repaired += len(orphans)
	}

	if len(divergent) > 0 {
		slog.Warn("index_inconsistency_detected",
			slog.String("collection", p.collection),
			slog.Int("missing_vectors", len(divergent)),
			slog.Int("orphan_vectors", len(orphans)))

		col := &collector{}
		for begin := 0; begin < len(divergent); begin += p.cfg.BatchSize {
			end := begin + p.cfg.BatchSize
			if end > len(divergent) {
				end = len(divergent)
			}
			if err := p.processBatch(ctx, divergent[begin:end], col); err != nil {
				return nil, err
			}
		}
		if len(col.failures) > 0 {
			return nil, corperrors.Newf(corperrors.ErrCodeIndexInconsistent,
				"repair re-embedding failed for %d of %d documents (first: %s: %s)",
				len(col.failures), len(divergent), col.failures[0].DocKey, col.failures[0].Reason)
		}
		result.Repaired += col.indexed
	}

	if result.Repaired > 0 {
		if err := p.persist(); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}
