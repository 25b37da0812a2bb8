package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete corpora configuration.
type Config struct {
	Version     int              `yaml:"version" json:"version"`
	Home        string           `yaml:"home" json:"home"`
	Embeddings  EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search      SearchConfig     `yaml:"search" json:"search"`
	Ingest      IngestConfig     `yaml:"ingest" json:"ingest"`
	Sync        SyncConfig       `yaml:"sync" json:"sync"`
	Compaction  CompactionConfig `yaml:"compaction" json:"compaction"`
	LogLevel    string           `yaml:"log_level" json:"log_level"`
	LogToStderr bool             `yaml:"log_to_stderr" json:"log_to_stderr"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend.
	// Options: "gemini", "ollama", "static", or empty for auto-detection
	// (Gemini when GEMINI_API_KEY is set, then Ollama, then static).
	Provider string `yaml:"provider" json:"provider"`

	// Model is the embedding model name. Empty uses the provider default.
	Model string `yaml:"model" json:"model"`

	// Dimensions is the expected vector dimension. 0 auto-detects by
	// embedding a probe string at provider construction.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// BatchSize is the number of texts per EmbedBatch call.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// GeminiAPIKey authenticates against the Gemini API.
	// Normally supplied via GEMINI_API_KEY rather than the config file.
	GeminiAPIKey string `yaml:"gemini_api_key" json:"-"`

	// RequestsPerMinute rate-limits provider calls. 0 disables limiting.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`

	// CacheSize is the number of embeddings kept in the in-memory LRU cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// SearchConfig configures hybrid query defaults.
type SearchConfig struct {
	// Alpha is the default fusion weight: 0.0 = pure keyword,
	// 1.0 = pure embedding similarity.
	Alpha float64 `yaml:"alpha" json:"alpha"`

	// TopK is the default number of results per query.
	TopK int `yaml:"top_k" json:"top_k"`

	// MaxResults caps top_k requested by callers.
	MaxResults int `yaml:"max_results" json:"max_results"`
}

// IngestConfig configures the build pipeline.
type IngestConfig struct {
	// Workers is the number of concurrent embedding workers.
	Workers int `yaml:"workers" json:"workers"`

	// MaxDocuments caps the number of documents accepted per build.
	MaxDocuments int `yaml:"max_documents" json:"max_documents"`
}

// SyncConfig configures publishing to and fetching from the artifact hub.
type SyncConfig struct {
	// Endpoint is the hub base URL (default: https://huggingface.co).
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Repo is the default dataset repository, e.g. "org/corpora-artifacts".
	Repo string `yaml:"repo" json:"repo"`

	// Token authenticates uploads. Normally supplied via HF_TOKEN.
	Token string `yaml:"token" json:"-"`
}

// CompactionConfig configures vector index compaction.
type CompactionConfig struct {
	// Enabled enables compaction during builds when the tombstone
	// ratio exceeds the threshold.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// TombstoneThreshold is the deleted/total ratio that triggers a rebuild.
	// Range: 0.0-1.0, Default: 0.2 (20%)
	TombstoneThreshold float64 `yaml:"tombstone_threshold" json:"tombstone_threshold"`

	// MinTombstones is the minimum number of deleted vectors before a
	// rebuild is considered. Prevents churn on small collections.
	MinTombstones int `yaml:"min_tombstones" json:"min_tombstones"`
}

// DefaultHubEndpoint is the artifact hub used when sync.endpoint is unset.
const DefaultHubEndpoint = "https://huggingface.co"

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Home:    DefaultHome(),
		Embeddings: EmbeddingsConfig{
			Provider:          "", // Empty triggers auto-detection: Gemini -> Ollama -> Static
			Model:             "",
			Dimensions:        0, // Auto-detect from provider
			BatchSize:         32,
			OllamaHost:        "", // Empty uses default http://localhost:11434
			RequestsPerMinute: 0,  // Unlimited unless set
			CacheSize:         2048,
		},
		Search: SearchConfig{
			Alpha:      0.5,
			TopK:       10,
			MaxResults: 100,
		},
		Ingest: IngestConfig{
			Workers:      runtime.NumCPU(),
			MaxDocuments: 1_000_000,
		},
		Sync: SyncConfig{
			Endpoint: DefaultHubEndpoint,
		},
		Compaction: CompactionConfig{
			Enabled:            true,
			TombstoneThreshold: 0.2,
			MinTombstones:      100,
		},
		LogLevel:    "info",
		LogToStderr: false,
	}
}

// DefaultHome returns the default cache root, honoring CORPORA_HOME.
func DefaultHome() string {
	if v := os.Getenv("CORPORA_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".corpora")
	}
	return filepath.Join(home, ".corpora")
}

// ConfigPath returns the path to the configuration file under the cache root.
func ConfigPath() string {
	return filepath.Join(DefaultHome(), "config.yaml")
}

// Load loads configuration with increasing precedence:
//  1. Hardcoded defaults
//  2. ~/.corpora/config.yaml (if present)
//  3. Environment variables (CORPORA_*, GEMINI_API_KEY, HF_TOKEN)
func Load() (*Config, error) {
	cfg := NewConfig()

	path := ConfigPath()
	if fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Home != "" {
		c.Home = other.Home
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.GeminiAPIKey != "" {
		c.Embeddings.GeminiAPIKey = other.Embeddings.GeminiAPIKey
	}
	if other.Embeddings.RequestsPerMinute != 0 {
		c.Embeddings.RequestsPerMinute = other.Embeddings.RequestsPerMinute
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	// Search
	// Alpha zero is a meaningful value (pure keyword), so it only comes
	// through env or per-query flags, never the merge.
	if other.Search.Alpha != 0 {
		c.Search.Alpha = other.Search.Alpha
	}
	if other.Search.TopK != 0 {
		c.Search.TopK = other.Search.TopK
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	// Ingest
	if other.Ingest.Workers != 0 {
		c.Ingest.Workers = other.Ingest.Workers
	}
	if other.Ingest.MaxDocuments != 0 {
		c.Ingest.MaxDocuments = other.Ingest.MaxDocuments
	}

	// Sync
	if other.Sync.Endpoint != "" {
		c.Sync.Endpoint = other.Sync.Endpoint
	}
	if other.Sync.Repo != "" {
		c.Sync.Repo = other.Sync.Repo
	}
	if other.Sync.Token != "" {
		c.Sync.Token = other.Sync.Token
	}

	// Compaction: Enabled is boolean, so only merge when any compaction
	// field was actually set.
	if other.Compaction.TombstoneThreshold != 0 || other.Compaction.MinTombstones != 0 {
		c.Compaction.Enabled = other.Compaction.Enabled
	}
	if other.Compaction.TombstoneThreshold != 0 {
		c.Compaction.TombstoneThreshold = other.Compaction.TombstoneThreshold
	}
	if other.Compaction.MinTombstones != 0 {
		c.Compaction.MinTombstones = other.Compaction.MinTombstones
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogToStderr {
		c.LogToStderr = true
	}
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CORPORA_HOME"); v != "" {
		c.Home = v
	}
	if v := os.Getenv("CORPORA_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CORPORA_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CORPORA_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Embeddings.GeminiAPIKey = v
	}

	// Alpha supports explicit zero via env.
	if v := os.Getenv("CORPORA_ALPHA"); v != "" {
		if a, err := parseFloat64(v); err == nil && a >= 0 && a <= 1 {
			c.Search.Alpha = a
		}
	}
	if v := os.Getenv("CORPORA_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.TopK = k
		}
	}

	if v := os.Getenv("CORPORA_HUB_ENDPOINT"); v != "" {
		c.Sync.Endpoint = v
	}
	if v := os.Getenv("CORPORA_HUB_REPO"); v != "" {
		c.Sync.Repo = v
	}
	if v := os.Getenv("HF_TOKEN"); v != "" {
		c.Sync.Token = v
	}

	if v := os.Getenv("CORPORA_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return fmt.Errorf("search.alpha must be between 0 and 1, got %f", c.Search.Alpha)
	}
	if c.Search.TopK < 0 {
		return fmt.Errorf("search.top_k must be non-negative, got %d", c.Search.TopK)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Ingest.Workers < 0 {
		return fmt.Errorf("ingest.workers must be non-negative, got %d", c.Ingest.Workers)
	}

	if c.Embeddings.Provider != "" { // Empty string triggers auto-detection
		validProviders := map[string]bool{"gemini": true, "ollama": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'gemini', 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	if t := c.Compaction.TombstoneThreshold; math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("compaction.tombstone_threshold must be between 0 and 1, got %f", c.Compaction.TombstoneThreshold)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
