package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-dev/corpora/internal/config"
	corperrors "github.com/corpora-dev/corpora/internal/errors"
)

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	return cfg
}

func TestNew_ExplicitStatic(t *testing.T) {
	p, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	// The cache wrapper preserves the inner provider's identity
	assert.Equal(t, "static", p.Name())
	assert.Equal(t, StaticDimensions, p.Dimensions())

	cached, ok := p.(*CachedProvider)
	require.True(t, ok, "providers are cache-wrapped by default")
	assert.IsType(t, &StaticProvider{}, cached.Inner())
}

func TestNew_CacheDisabledViaEnv(t *testing.T) {
	t.Setenv("CORPORA_EMBED_CACHE", "false")

	p, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	assert.IsType(t, &StaticProvider{}, p)
}

func TestNew_UnknownProviderFails(t *testing.T) {
	cfg := testConfig()
	cfg.Embeddings.Provider = "openai"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embedding provider")
}

func TestNew_GeminiWithoutKeyFails(t *testing.T) {
	cfg := testConfig()
	cfg.Embeddings.Provider = "gemini"
	cfg.Embeddings.GeminiAPIKey = ""

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestClassifyGeminiError_AuthRejection(t *testing.T) {
	var ce *corperrors.CorporaError

	// Credential rejections get their own permanent code
	for _, msg := range []string{
		"rpc error: code 401 Unauthorized",
		"googleapi: Error 403: PERMISSION_DENIED",
		"API key not valid. Please pass a valid API key.",
	} {
		err := classifyGeminiError(errors.New(msg))
		require.True(t, errors.As(err, &ce), "message %q", msg)
		assert.Equal(t, corperrors.ErrCodeProviderAuth, ce.Code, "message %q", msg)
		assert.False(t, ce.Retryable)
	}

	// Malformed requests stay invalid-input
	err := classifyGeminiError(errors.New("googleapi: Error 400: INVALID_ARGUMENT"))
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, corperrors.ErrCodeInvalidInput, ce.Code)

	// Everything else is a transient provider failure
	err = classifyGeminiError(errors.New("connection reset by peer"))
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, corperrors.ErrCodeProviderUnavailable, ce.Code)
}

func TestForProvenance_UsesRecordedModel(t *testing.T) {
	cfg := testConfig()
	cfg.Embeddings.Provider = "" // would normally auto-detect

	p, err := ForProvenance(context.Background(), cfg, "static", "static-hash-256")
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	assert.Equal(t, "static", p.Name())
	assert.Equal(t, "static-hash-256", p.ModelName())
}
