package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/corpora-dev/corpora/internal/embed"
	corperrors "github.com/corpora-dev/corpora/internal/errors"
	"github.com/corpora-dev/corpora/internal/store"
)

// Method selects which legs a query runs.
type Method string

const (
	MethodHybrid    Method = "hybrid"
	MethodKeyword   Method = "keyword"
	MethodEmbedding Method = "embedding"
)

// ParseMethod validates a user-supplied method string.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodHybrid, "":
		return MethodHybrid, nil
	case MethodKeyword:
		return MethodKeyword, nil
	case MethodEmbedding:
		return MethodEmbedding, nil
	default:
		return "", corperrors.Newf(corperrors.ErrCodeInvalidQuery,
			"unknown search method %q (want hybrid, keyword, or embedding)", s)
	}
}

const (
	// DefaultTopK is the result count when the caller does not set one.
	DefaultTopK = 10
	// DefaultAlpha balances the two legs evenly-ish, favoring neither.
	DefaultAlpha = 0.5

	// Each leg over-fetches candidates so that top_k truncation happens
	// after fusion, not before.
	overFetchFactor = 3
	minCandidates   = 50
)

// Options controls a single query.
type Options struct {
	Method Method
	TopK   int
	Alpha  float64
}

// DefaultOptions returns hybrid search with the package defaults.
func DefaultOptions() Options {
	return Options{Method: MethodHybrid, TopK: DefaultTopK, Alpha: DefaultAlpha}
}

// Result is one ranked document with its catalog payload attached.
type Result struct {
	DocKey         string         `json:"doc_key"`
	Text           string         `json:"text"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Score          float64        `json:"score"`
	KeywordScore   float64        `json:"keyword_score,omitempty"`
	EmbeddingScore float64        `json:"embedding_score,omitempty"`
}

// Engine runs queries against one collection's indexes.
type Engine struct {
	collection string
	keyword    store.KeywordIndex
	vector     store.VectorStore
	embedder   embed.Provider
	catalog    *store.Catalog
}

// NewEngine wires a query engine over an opened collection.
// All dependencies are required.
func NewEngine(collection string, keyword store.KeywordIndex, vector store.VectorStore, embedder embed.Provider, catalog *store.Catalog) (*Engine, error) {
	switch {
	case keyword == nil:
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput, "keyword index is required", nil)
	case vector == nil:
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput, "vector store is required", nil)
	case embedder == nil:
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput, "embedding provider is required", nil)
	case catalog == nil:
		return nil, corperrors.New(corperrors.ErrCodeInvalidInput, "catalog is required", nil)
	}
	return &Engine{
		collection: collection,
		keyword:    keyword,
		vector:     vector,
		embedder:   embedder,
		catalog:    catalog,
	}, nil
}

// Search executes a query and returns up to opts.TopK enriched results.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*Result{}, nil
	}
	if opts.Method == "" {
		opts.Method = MethodHybrid
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Alpha < 0 || opts.Alpha > 1 {
		return nil, corperrors.Newf(corperrors.ErrCodeInvalidInput,
			"alpha must be in [0,1], got %g", opts.Alpha)
	}

	fetch := opts.TopK * overFetchFactor
	if fetch < minCandidates {
		fetch = minCandidates
	}

	var fused []*FusedResult
	switch opts.Method {
	case MethodKeyword:
		leg, err := e.keywordLeg(ctx, query, fetch)
		if err != nil {
			return nil, err
		}
		fused = FuseMinMax(leg, nil, 0)
	case MethodEmbedding:
		leg, err := e.embeddingLeg(ctx, query, fetch)
		if err != nil {
			return nil, err
		}
		fused = FuseMinMax(nil, leg, 1)
	case MethodHybrid:
		var err error
		fused, err = e.hybrid(ctx, query, fetch, opts.Alpha)
		if err != nil {
			return nil, err
		}
	default:
		return nil, corperrors.Newf(corperrors.ErrCodeInvalidQuery,
			"unknown search method %q", opts.Method)
	}

	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	return e.enrich(ctx, fused)
}

// hybrid runs both legs concurrently and fuses them. If exactly one leg
// fails the query degrades to the surviving leg with a warning; the error
// surfaces only when both legs fail.
func (e *Engine) hybrid(ctx context.Context, query string, fetch int, alpha float64) ([]*FusedResult, error) {
	var (
		kwLeg, embLeg []Scored
		kwErr, embErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kwLeg, kwErr = e.keywordLeg(gctx, query, fetch)
		return nil
	})
	g.Go(func() error {
		embLeg, embErr = e.embeddingLeg(gctx, query, fetch)
		return nil
	})
	_ = g.Wait()

	if kwErr != nil && embErr != nil {
		return nil, corperrors.New(corperrors.ErrCodeSearchFailed,
			fmt.Sprintf("both search legs failed: keyword: %v; embedding: %v", kwErr, embErr), kwErr)
	}
	if kwErr != nil {
		slog.Warn("keyword leg failed, degrading to embedding-only results",
			slog.String("collection", e.collection),
			slog.String("error", kwErr.Error()))
	}
	if embErr != nil {
		slog.Warn("embedding leg failed, degrading to keyword-only results",
			slog.String("collection", e.collection),
			slog.String("error", embErr.Error()))
	}

	return FuseMinMax(kwLeg, embLeg, alpha), nil
}

func (e *Engine) keywordLeg(ctx context.Context, query string, fetch int) ([]Scored, error) {
	hits, err := e.keyword.Search(ctx, query, fetch)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeSearchFailed, err)
	}
	leg := make([]Scored, len(hits))
	for i, h := range hits {
		leg[i] = Scored{DocKey: h.DocKey, Score: h.Score}
	}
	return leg, nil
}

// embeddingLeg embeds the query text and resolves vector ids back to doc
// keys through the catalog. Tombstoned or unresolvable ids are dropped.
func (e *Engine) embeddingLeg(ctx context.Context, query string, fetch int) ([]Scored, error) {
	if d := e.vector.Dimensions(); d > 0 && e.embedder.Dimensions() > 0 && d != e.embedder.Dimensions() {
		return nil, corperrors.DimensionMismatchError(d, e.embedder.Dimensions())
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeEmbeddingFailed, err)
	}

	hits, err := e.vector.Search(ctx, vec, fetch)
	if err != nil {
		return nil, corperrors.Wrap(corperrors.ErrCodeSearchFailed, err)
	}

	leg := make([]Scored, 0, len(hits))
	for _, h := range hits {
		rec, err := e.catalog.GetByVectorID(ctx, e.collection, h.VectorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				slog.Debug("vector id has no catalog row, skipping",
					slog.String("collection", e.collection),
					slog.Uint64("vector_id", h.VectorID))
				continue
			}
			return nil, corperrors.Wrap(corperrors.ErrCodeSearchFailed, err)
		}
		leg = append(leg, Scored{DocKey: rec.DocKey, Score: float64(h.Score)})
	}
	return leg, nil
}

// enrich joins fused candidates against the catalog for text and metadata.
// Candidates whose catalog row vanished (deleted mid-query) are dropped.
func (e *Engine) enrich(ctx context.Context, fused []*FusedResult) ([]*Result, error) {
	results := make([]*Result, 0, len(fused))
	for _, f := range fused {
		rec, err := e.catalog.Get(ctx, e.collection, f.DocKey)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, corperrors.Wrap(corperrors.ErrCodeSearchFailed, err)
		}
		results = append(results, &Result{
			DocKey:         f.DocKey,
			Text:           rec.Text,
			Metadata:       rec.Metadata,
			Score:          f.Score,
			KeywordScore:   f.KeywordScore,
			EmbeddingScore: f.EmbeddingScore,
		})
	}
	return results, nil
}
