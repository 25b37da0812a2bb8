package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-dev/corpora/internal/embed"
	corperrors "github.com/corpora-dev/corpora/internal/errors"
	"github.com/corpora-dev/corpora/internal/store"
)

const testCollection = "articles"

type fixtureDoc struct {
	key  string
	text string
	meta map[string]any
}

// newTestEngine indexes the given documents across an in-memory keyword
// index, HNSW store, and catalog, embedding with the static provider.
func newTestEngine(t *testing.T, docs []fixtureDoc) *Engine {
	t.Helper()
	ctx := context.Background()

	keyword, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = keyword.Close() })

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })

	catalog, err := store.OpenCatalog("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	provider := embed.NewStaticProvider()

	for _, d := range docs {
		id, err := catalog.NextVectorID(ctx, testCollection, 1)
		require.NoError(t, err)

		vec, err := provider.Embed(ctx, d.text)
		require.NoError(t, err)
		require.NoError(t, vector.Add(ctx, []uint64{id}, [][]float32{vec}))

		require.NoError(t, keyword.Upsert(ctx, []store.KeywordDocument{{DocKey: d.key, Text: d.text}}))

		now := time.Now().UTC()
		require.NoError(t, catalog.Put(ctx, &store.DocumentRecord{
			Collection: testCollection,
			DocKey:     d.key,
			Text:       d.text,
			Metadata:   d.meta,
			TextHash:   d.key + "-hash",
			VectorID:   id,
			CreatedAt:  now,
			UpdatedAt:  now,
		}))
	}

	engine, err := NewEngine(testCollection, keyword, vector, provider, catalog)
	require.NoError(t, err)
	return engine
}

func fixtureDocs() []fixtureDoc {
	return []fixtureDoc{
		{key: "go-channels", text: "golang concurrency patterns with channels and goroutines", meta: map[string]any{"topic": "go"}},
		{key: "vector-search", text: "vector databases use approximate nearest neighbor search over embeddings", meta: map[string]any{"topic": "search"}},
		{key: "bread-recipe", text: "knead the dough and let the bread rise before baking", meta: map[string]any{"topic": "cooking"}},
		{key: "hybrid-ranking", text: "hybrid ranking fuses keyword relevance with embedding similarity", meta: map[string]any{"topic": "search"}},
	}
}

func resultKeys(results []*Result) []string {
	keys := make([]string, len(results))
	for i, r := range results {
		keys[i] = r.DocKey
	}
	return keys
}

func TestEngine_KeywordMethod(t *testing.T) {
	// Given: an indexed collection
	engine := newTestEngine(t, fixtureDocs())

	// When: running a keyword-only query
	results, err := engine.Search(context.Background(), "concurrency channels",
		Options{Method: MethodKeyword, TopK: 5})
	require.NoError(t, err)

	// Then: the matching document comes back enriched with its payload
	require.NotEmpty(t, results)
	assert.Equal(t, "go-channels", results[0].DocKey)
	assert.Contains(t, results[0].Text, "concurrency")
	assert.Equal(t, "go", results[0].Metadata["topic"])
	assert.Greater(t, results[0].KeywordScore, 0.0)
	assert.Zero(t, results[0].EmbeddingScore)
}

func TestEngine_EmbeddingMethod(t *testing.T) {
	// Given: an indexed collection; static embeddings are deterministic,
	// so a query equal to a document's text is its exact nearest neighbor
	docs := fixtureDocs()
	engine := newTestEngine(t, docs)

	// When: running an embedding-only query with one document's text
	results, err := engine.Search(context.Background(), docs[2].text,
		Options{Method: MethodEmbedding, TopK: 3})
	require.NoError(t, err)

	// Then: that document ranks first with the top similarity
	require.NotEmpty(t, results)
	assert.Equal(t, "bread-recipe", results[0].DocKey)
	assert.Greater(t, results[0].EmbeddingScore, 0.0)
}

func TestEngine_HybridAlphaZeroMatchesKeyword(t *testing.T) {
	// Given: the same collection queried two ways
	engine := newTestEngine(t, fixtureDocs())
	ctx := context.Background()
	query := "embedding similarity search"

	kwResults, err := engine.Search(ctx, query, Options{Method: MethodKeyword, TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, kwResults)

	// When: hybrid with alpha 0
	hybrid, err := engine.Search(ctx, query, Options{Method: MethodHybrid, TopK: 10, Alpha: 0})
	require.NoError(t, err)

	// Then: the keyword candidates appear first, in keyword order
	require.GreaterOrEqual(t, len(hybrid), len(kwResults))
	assert.Equal(t, resultKeys(kwResults), resultKeys(hybrid)[:len(kwResults)])
}

func TestEngine_HybridAlphaOneMatchesEmbedding(t *testing.T) {
	engine := newTestEngine(t, fixtureDocs())
	ctx := context.Background()
	query := "nearest neighbor embeddings"

	embResults, err := engine.Search(ctx, query, Options{Method: MethodEmbedding, TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, embResults)

	// When: hybrid with alpha 1
	hybrid, err := engine.Search(ctx, query, Options{Method: MethodHybrid, TopK: 10, Alpha: 1})
	require.NoError(t, err)

	// Then: the embedding ranking is preserved among embedding candidates
	hybridOrder := make([]string, 0, len(embResults))
	embSet := make(map[string]bool, len(embResults))
	for _, k := range resultKeys(embResults) {
		embSet[k] = true
	}
	for _, r := range hybrid {
		if embSet[r.DocKey] && r.Score > 0 {
			hybridOrder = append(hybridOrder, r.DocKey)
		}
	}
	embOrder := make([]string, 0, len(embResults))
	for i, r := range embResults {
		// Only candidates with positive normalized score keep a fixed
		// position; the per-leg minimum normalizes to 0 and may be
		// reordered against keyword-only zeros.
		if i < len(embResults)-1 {
			embOrder = append(embOrder, r.DocKey)
		}
	}
	require.GreaterOrEqual(t, len(hybridOrder), len(embOrder))
	assert.Equal(t, embOrder, hybridOrder[:len(embOrder)])
}

func TestEngine_HybridBlendsBothLegs(t *testing.T) {
	// Given: a query with both a strong keyword match and a strong
	// embedding match
	engine := newTestEngine(t, fixtureDocs())

	results, err := engine.Search(context.Background(),
		"hybrid ranking keyword relevance",
		Options{Method: MethodHybrid, TopK: 5, Alpha: 0.5})
	require.NoError(t, err)

	require.NotEmpty(t, results)
	assert.Equal(t, "hybrid-ranking", results[0].DocKey)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestEngine_EmptyQueryReturnsNoResults(t *testing.T) {
	engine := newTestEngine(t, fixtureDocs())

	results, err := engine.Search(context.Background(), "   ", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_TopKTruncatesAfterFusion(t *testing.T) {
	engine := newTestEngine(t, fixtureDocs())

	results, err := engine.Search(context.Background(), "search embeddings keyword",
		Options{Method: MethodHybrid, TopK: 2, Alpha: 0.5})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(results), 2)
}

func TestEngine_InvalidAlphaRejected(t *testing.T) {
	engine := newTestEngine(t, fixtureDocs())

	_, err := engine.Search(context.Background(), "anything",
		Options{Method: MethodHybrid, TopK: 5, Alpha: 1.5})
	require.Error(t, err)

	var ce *corperrors.CorporaError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, corperrors.ErrCodeInvalidInput, ce.Code)
}

func TestEngine_NilDependencyRejected(t *testing.T) {
	catalog, err := store.OpenCatalog("")
	require.NoError(t, err)
	defer catalog.Close()

	_, err = NewEngine(testCollection, nil, nil, nil, catalog)
	require.Error(t, err)
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		input   string
		want    Method
		wantErr bool
	}{
		{"hybrid", MethodHybrid, false},
		{"keyword", MethodKeyword, false},
		{"embedding", MethodEmbedding, false},
		{"", MethodHybrid, false},
		{"  Keyword ", MethodKeyword, false},
		{"semantic", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMethod(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}
