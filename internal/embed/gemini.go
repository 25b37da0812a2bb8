package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	corperrors "github.com/corpora-dev/corpora/internal/errors"
)

// Gemini API constants
const (
	// DefaultGeminiModel is the default Gemini embedding model
	DefaultGeminiModel = "gemini-embedding-001"

	// geminiMaxBatch is the per-call content limit of the EmbedContent API
	geminiMaxBatch = 100

	// DefaultGeminiRequestsPerMinute is a conservative default for the
	// free-tier quota
	DefaultGeminiRequestsPerMinute = 100
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API (GEMINI_API_KEY)
	APIKey string

	// Model is the embedding model (default: gemini-embedding-001)
	Model string

	// Dimensions requests a specific output dimensionality (0 = model default)
	Dimensions int

	// MaxRetries for transient failures (default: 3)
	MaxRetries int

	// RequestsPerMinute rate-limits API calls (0 = free-tier default)
	RequestsPerMinute int
}

// GeminiProvider generates embeddings using the Gemini API.
type GeminiProvider struct {
	client  *genai.Client
	config  GeminiConfig
	limiter *rate.Limiter
	dims    int

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a new Gemini provider and detects the
// embedding dimension with a probe call.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, corperrors.Newf(corperrors.ErrCodeConfigInvalid, "gemini provider requires GEMINI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultGeminiRequestsPerMinute
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	e := &GeminiProvider{
		client:  client,
		config:  cfg,
		limiter: newLimiter(cfg.RequestsPerMinute),
		dims:    cfg.Dimensions,
	}

	// The dimension comes from the API, never from config guesswork.
	if e.dims == 0 {
		probe, err := e.embedWithRetry(ctx, []string{"dimension detection"})
		if err != nil {
			return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
		}
		if len(probe) == 0 || len(probe[0]) == 0 {
			return nil, fmt.Errorf("empty embedding returned during dimension detection")
		}
		e.dims = len(probe[0])
	}

	return e, nil
}

// Embed generates an embedding for a single text.
func (e *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("provider is closed")
	}
	e.mu.RUnlock()

	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	embeddings, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting into
// API-sized batches. Empty texts get zero vectors without an API call.
func (e *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("provider is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += geminiMaxBatch {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + geminiMaxBatch
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batch := nonEmpty[start:end]

		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.embedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

// embedWithRetry performs one EmbedContent call with backoff on
// transient failures. 4xx responses are permanent and abort immediately.
func (e *GeminiProvider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	retryCfg := corperrors.DefaultRetryConfig()
	retryCfg.MaxRetries = e.config.MaxRetries

	return corperrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		embeddings, err := e.doEmbed(ctx, texts)
		if err != nil {
			return nil, classifyGeminiError(err)
		}
		return embeddings, nil
	})
}

// doEmbed performs a single EmbedContent request.
func (e *GeminiProvider) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	var embedConfig *genai.EmbedContentConfig
	if e.config.Dimensions > 0 {
		outputDim := int32(e.config.Dimensions)
		embedConfig = &genai.EmbedContentConfig{OutputDimensionality: &outputDim}
	}

	result, err := e.client.Models.EmbedContent(ctx, e.config.Model, contents, embedConfig)
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), got)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		embeddings[i] = normalizeVector(emb.Values)
	}

	return embeddings, nil
}

// classifyGeminiError maps API failures onto retryable vs permanent codes.
func classifyGeminiError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return corperrors.New(corperrors.ErrCodeProviderRateLimited, "gemini rate limit exceeded", err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "UNAUTHENTICATED") || strings.Contains(msg, "PERMISSION_DENIED") ||
		strings.Contains(msg, "API key not valid") || strings.Contains(msg, "API_KEY_INVALID"):
		return corperrors.New(corperrors.ErrCodeProviderAuth, "gemini rejected the credentials", err)
	case strings.Contains(msg, "400") || strings.Contains(msg, "INVALID_ARGUMENT"):
		return corperrors.New(corperrors.ErrCodeInvalidInput, "gemini rejected the request", err)
	default:
		return corperrors.New(corperrors.ErrCodeProviderUnavailable, "gemini embedding call failed", err)
	}
}

// Dimensions returns the embedding dimension.
func (e *GeminiProvider) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *GeminiProvider) ModelName() string {
	return e.config.Model
}

// Name returns the provider identifier.
func (e *GeminiProvider) Name() string {
	return "gemini"
}

// Available reports whether the provider can serve calls.
// The genai client holds no persistent connection, so configured and
// open means available.
func (e *GeminiProvider) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.client != nil
}

// Close releases resources. genai.Client needs no explicit shutdown.
func (e *GeminiProvider) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.client = nil
	return nil
}
