package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama serves /api/embed and /api/tags with fixed-dimension vectors.
func fakeOllama(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
		case "/api/embed":
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			var count int
			switch input := req.Input.(type) {
			case string:
				count = 1
			case []any:
				count = len(input)
			}

			embeddings := make([][]float64, count)
			for i := range embeddings {
				vec := make([]float64, dims)
				vec[i%dims] = 1 // unit-ish vectors that differ per position
				embeddings[i] = vec
			}
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{
				Model:      req.Model,
				Embeddings: embeddings,
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaProvider_DetectsDimensions(t *testing.T) {
	srv := fakeOllama(t, 8)
	defer srv.Close()

	e, err := NewOllamaProvider(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, 8, e.Dimensions())
	assert.Equal(t, "ollama", e.Name())
	assert.Equal(t, DefaultOllamaModel, e.ModelName())
}

func TestOllamaProvider_EmbedBatchSplitsAndOrders(t *testing.T) {
	srv := fakeOllama(t, 4)
	defer srv.Close()

	e, err := NewOllamaProvider(context.Background(), OllamaConfig{
		Host:      srv.URL,
		BatchSize: 2, // force splitting across requests
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	texts := []string{"one", "two", "", "four", "five"}
	results, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, results, 5)

	// Every slot is populated with the right dimension; the empty text
	// got a zero vector without an API call.
	for i, v := range results {
		assert.Len(t, v, 4, "index %d", i)
	}
	assert.Equal(t, make([]float32, 4), results[2])
}

func TestOllamaProvider_EmptyBatch(t *testing.T) {
	srv := fakeOllama(t, 4)
	defer srv.Close()

	e, err := NewOllamaProvider(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	results, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOllamaProvider_Available(t *testing.T) {
	srv := fakeOllama(t, 4)

	e, err := NewOllamaProvider(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	assert.True(t, e.Available(context.Background()))

	srv.Close()
	assert.False(t, e.Available(context.Background()))

	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))
}

func TestOllamaProvider_UnreachableHostFails(t *testing.T) {
	_, err := NewOllamaProvider(context.Background(), OllamaConfig{
		Host:       "http://127.0.0.1:1", // nothing listens here
		MaxRetries: 1,
	})
	require.Error(t, err)
}
