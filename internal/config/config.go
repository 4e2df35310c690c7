package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds chatfind configuration. All fields have working defaults so
// a missing config file is never an error.
type Config struct {
	DataDir string       `json:"data_dir,omitempty"`
	Store   StoreConfig  `json:"store,omitempty"`
	Vector  VectorConfig `json:"vector,omitempty"`
	Search  SearchConfig `json:"search,omitempty"`
	Chunk   ChunkConfig  `json:"chunk,omitempty"`
	Import  ImportConfig `json:"import,omitempty"`
}

// StoreConfig contains structured store settings.
type StoreConfig struct {
	// Path to the conversation database file. Derived from DataDir if empty.
	Path string `json:"path,omitempty"`
}

// VectorConfig holds configuration for the semantic search index.
type VectorConfig struct {
	// Path to the vector database file. Derived from DataDir if empty.
	Path string `json:"path,omitempty"`

	// EmbedProvider selects the embedding backend: "tfidf" (default,
	// fully local), "ollama", or "openai".
	EmbedProvider string `json:"embed_provider,omitempty"`

	// EmbedDims is the embedding dimensionality. Defaults depend on the
	// provider (4096 for TF-IDF, 768 for Ollama, 1536 for OpenAI).
	EmbedDims int `json:"embed_dims,omitempty"`

	Ollama *OllamaEmbedConfig `json:"ollama,omitempty"`
	OpenAI *OpenAIEmbedConfig `json:"openai,omitempty"`
}

// OllamaEmbedConfig holds configuration for the Ollama embedding provider.
type OllamaEmbedConfig struct {
	BaseURL string `json:"base_url,omitempty"` // Default: http://localhost:11434
	Model   string `json:"model,omitempty"`    // Default: nomic-embed-text
}

// OpenAIEmbedConfig holds configuration for the OpenAI embedding provider.
type OpenAIEmbedConfig struct {
	APIKey string `json:"api_key,omitempty"` // Supports ${ENV_VAR} expansion
	Model  string `json:"model,omitempty"`   // Default: text-embedding-3-small
}

// SearchConfig tunes the hybrid search engine.
type SearchConfig struct {
	// KeywordWeight and SemanticWeight control score fusion and must sum
	// to 1. Defaults: 0.3 keyword, 0.7 semantic.
	KeywordWeight  float64 `json:"keyword_weight,omitempty"`
	SemanticWeight float64 `json:"semantic_weight,omitempty"`

	// TimeoutMS bounds both search branches together. Default 5000.
	TimeoutMS int `json:"timeout_ms,omitempty"`

	// OverfetchFactor multiplies the requested limit on each branch so
	// post-merge deduplication still fills the page. Default 3.
	OverfetchFactor int `json:"overfetch_factor,omitempty"`

	// DefaultLimit and MaxLimit bound result counts. Defaults 20 / 100.
	DefaultLimit int `json:"default_limit,omitempty"`
	MaxLimit     int `json:"max_limit,omitempty"`
}

// ChunkConfig tunes the chunker.
type ChunkConfig struct {
	// Size is the target chunk size in characters. Default 2000.
	Size int `json:"size,omitempty"`

	// Overlap is the number of characters shared between consecutive
	// chunks of the same message. Default 200.
	Overlap int `json:"overlap,omitempty"`
}

// ImportConfig tunes the ingest pipeline.
type ImportConfig struct {
	// Workers is the number of conversations imported concurrently.
	// Default 4.
	Workers int `json:"workers,omitempty"`

	// EmbedRetries is how many times a failed chunk embedding is retried
	// before the chunk is degraded to keyword-only. Default 2.
	EmbedRetries int `json:"embed_retries,omitempty"`

	// EmbedTimeoutMS bounds each chunk's embedding attempts together so a
	// slow model cannot stall the import. Default 30000.
	EmbedTimeoutMS int `json:"embed_timeout_ms,omitempty"`
}

const (
	defaultKeywordWeight   = 0.3
	defaultSemanticWeight  = 0.7
	defaultSearchTimeoutMS = 5000
	defaultOverfetch       = 3
	defaultLimit           = 20
	defaultMaxLimit        = 100
	defaultChunkSize       = 2000
	defaultChunkOverlap    = 200
	defaultWorkers         = 4
	defaultEmbedRetries    = 2
	defaultEmbedTimeoutMS  = 30000
)

// DefaultDataDir returns the data directory, honoring CHATFIND_DATA_DIR.
func DefaultDataDir() string {
	if dir := os.Getenv("CHATFIND_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatfind"
	}
	return filepath.Join(home, ".chatfind")
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{DataDir: DefaultDataDir()}
	cfg.applyDefaults()
	return cfg
}

// Load reads the config file at path, or returns Default() if it does not
// exist. ${ENV_VAR} placeholders in secret fields are expanded.
func Load(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(DefaultDataDir(), "config.json")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnvVars()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// StorePath returns the structured store database path.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "conversations.db")
}

// VectorPath returns the vector database path.
func (c *Config) VectorPath() string {
	if c.Vector.Path != "" {
		return c.Vector.Path
	}
	return filepath.Join(c.DataDir, "vectors.db")
}

// Validate checks invariants that defaults alone cannot guarantee.
func (c *Config) Validate() error {
	sum := c.Search.KeywordWeight + c.Search.SemanticWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("search weights must sum to 1, got %.3f", sum)
	}
	if c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk overlap (%d) must be smaller than chunk size (%d)", c.Chunk.Overlap, c.Chunk.Size)
	}
	switch c.Vector.EmbedProvider {
	case "tfidf", "ollama", "openai":
	default:
		return fmt.Errorf("unknown embed provider %q (valid: tfidf, ollama, openai)", c.Vector.EmbedProvider)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	c.DataDir = expandTilde(c.DataDir)
	if c.Vector.EmbedProvider == "" {
		c.Vector.EmbedProvider = "tfidf"
	}
	if c.Search.KeywordWeight == 0 && c.Search.SemanticWeight == 0 {
		c.Search.KeywordWeight = defaultKeywordWeight
		c.Search.SemanticWeight = defaultSemanticWeight
	}
	if c.Search.TimeoutMS <= 0 {
		c.Search.TimeoutMS = defaultSearchTimeoutMS
	}
	if c.Search.OverfetchFactor <= 0 {
		c.Search.OverfetchFactor = defaultOverfetch
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = defaultLimit
	}
	if c.Search.MaxLimit <= 0 {
		c.Search.MaxLimit = defaultMaxLimit
	}
	if c.Chunk.Size <= 0 {
		c.Chunk.Size = defaultChunkSize
	}
	if c.Chunk.Overlap <= 0 {
		c.Chunk.Overlap = defaultChunkOverlap
	}
	if c.Import.Workers <= 0 {
		c.Import.Workers = defaultWorkers
	}
	if c.Import.EmbedRetries <= 0 {
		c.Import.EmbedRetries = defaultEmbedRetries
	}
	if c.Import.EmbedTimeoutMS <= 0 {
		c.Import.EmbedTimeoutMS = defaultEmbedTimeoutMS
	}
}

func (c *Config) expandEnvVars() {
	c.DataDir = os.ExpandEnv(c.DataDir)
	if c.Vector.OpenAI != nil {
		c.Vector.OpenAI.APIKey = os.ExpandEnv(c.Vector.OpenAI.APIKey)
	}
}

// expandTilde replaces a leading ~ with the user's home directory so both
// "~/foo" and "${SOME_PATH}" work in path fields.
func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
