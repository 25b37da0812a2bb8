package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/corpora-dev/corpora/internal/config"
	corperrors "github.com/corpora-dev/corpora/internal/errors"
)

// New creates a provider from configuration, wrapped in the LRU cache.
// Provider resolution order:
//  1. Explicit name in cfg (or CORPORA_PROVIDER, applied by config.Load)
//  2. Auto-detection: Gemini when an API key is present, then a
//     responding Ollama server, then the static fallback.
//
// An explicitly requested provider that cannot start is an error, never
// a silent fallback: a collection built with the wrong provider is
// unusable for queries against the intended one.
func New(ctx context.Context, cfg *config.Config) (Provider, error) {
	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cacheDisabled() {
		return provider, nil
	}
	return NewCachedProvider(provider, cfg.Embeddings.CacheSize), nil
}

// cacheDisabled checks if the embedding cache is disabled via environment.
func cacheDisabled() bool {
	v := strings.ToLower(os.Getenv("CORPORA_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off"
}

func newProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	name := strings.ToLower(cfg.Embeddings.Provider)

	switch name {
	case "gemini":
		return newGemini(ctx, cfg)
	case "ollama":
		return newOllama(ctx, cfg)
	case "static":
		return NewStaticProvider(), nil
	case "":
		return autoDetect(ctx, cfg)
	default:
		return nil, corperrors.Newf(corperrors.ErrCodeConfigInvalid,
			"unknown embedding provider %q (want gemini, ollama, or static)", cfg.Embeddings.Provider)
	}
}

// autoDetect picks the best available provider.
func autoDetect(ctx context.Context, cfg *config.Config) (Provider, error) {
	if cfg.Embeddings.GeminiAPIKey != "" {
		provider, err := newGemini(ctx, cfg)
		if err == nil {
			slog.Info("embedding_provider_selected", slog.String("provider", "gemini"))
			return provider, nil
		}
		// A rejected key means the user intended Gemini and misconfigured
		// it; building with a different provider would be worse than failing.
		var ce *corperrors.CorporaError
		if errors.As(err, &ce) && ce.Code == corperrors.ErrCodeProviderAuth {
			return nil, err
		}
		slog.Warn("gemini_unavailable", slog.String("error", err.Error()))
	}

	if provider, err := newOllama(ctx, cfg); err == nil {
		slog.Info("embedding_provider_selected", slog.String("provider", "ollama"))
		return provider, nil
	} else {
		slog.Warn("ollama_unavailable", slog.String("error", err.Error()))
	}

	slog.Info("embedding_provider_selected",
		slog.String("provider", "static"),
		slog.String("note", "hash-based fallback, reduced semantic quality"))
	return NewStaticProvider(), nil
}

func newGemini(ctx context.Context, cfg *config.Config) (Provider, error) {
	return NewGeminiProvider(ctx, GeminiConfig{
		APIKey:            cfg.Embeddings.GeminiAPIKey,
		Model:             cfg.Embeddings.Model,
		RequestsPerMinute: cfg.Embeddings.RequestsPerMinute,
	})
}

func newOllama(ctx context.Context, cfg *config.Config) (Provider, error) {
	return NewOllamaProvider(ctx, OllamaConfig{
		Host:              cfg.Embeddings.OllamaHost,
		Model:             cfg.Embeddings.Model,
		BatchSize:         cfg.Embeddings.BatchSize,
		RequestsPerMinute: cfg.Embeddings.RequestsPerMinute,
	})
}

// ForProvenance creates a provider matching a collection's recorded
// provenance, so queries embed with the same model the build used.
func ForProvenance(ctx context.Context, cfg *config.Config, provider, model string) (Provider, error) {
	resolved := *cfg
	resolved.Embeddings.Provider = provider
	resolved.Embeddings.Model = model
	p, err := New(ctx, &resolved)
	if err != nil {
		return nil, fmt.Errorf("collection was built with %s/%s: %w", provider, model, err)
	}
	return p, nil
}
