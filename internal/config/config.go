// Package config loads the pipeline configuration from a YAML file, a .env file and
// CODERAG_* environment variables. It is built once at startup and passed to
// constructors; no component reads configuration globals.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dshills/coderag/pkg/types"
)

// EnvPrefix is the prefix of environment variable overrides, e.g. CODERAG_INDEX_PATH.
const EnvPrefix = "CODERAG"

// Config holds all application configuration.
type Config struct {
	Repo       RepoConfig       `mapstructure:"repo"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Index      IndexConfig      `mapstructure:"index"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Reranker   RerankerConfig   `mapstructure:"reranker"`
	Expansion  ExpansionConfig  `mapstructure:"expansion"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type RepoConfig struct {
	Path              string   `mapstructure:"path"`
	IncludeExtensions []string `mapstructure:"include_extensions"`
	ExcludePatterns   []string `mapstructure:"exclude_patterns"`
	MaxFileSize       int64    `mapstructure:"max_file_size"`
}

type ChunkingConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
}

type IndexConfig struct {
	Path      string `mapstructure:"path"`
	BatchSize int    `mapstructure:"batch_size"`
}

type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"` // jina, openai, hugot, local
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	ModelDir  string `mapstructure:"model_dir"`
	CacheSize int    `mapstructure:"cache_size"`
}

type RerankerConfig struct {
	Provider   string  `mapstructure:"provider"` // jina, lexical
	Model      string  `mapstructure:"model"`
	APIKey     string  `mapstructure:"api_key"`
	BaseURL    string  `mapstructure:"base_url"`
	BatchSize  int     `mapstructure:"batch_size"`
	Threshold  float64 `mapstructure:"threshold"`
	MaxPerFile int     `mapstructure:"max_per_file"`
	Ensemble   bool    `mapstructure:"ensemble"`
}

type ExpansionConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Provider string `mapstructure:"provider"` // openai, gemini, none
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Count    int    `mapstructure:"count"`
}

type RetrievalConfig struct {
	TopKRetrieval     int           `mapstructure:"top_k_retrieval"`
	TopKRanking       int           `mapstructure:"top_k_ranking"`
	MaxWorkers        int           `mapstructure:"max_workers"`
	SearchTimeout     time.Duration `mapstructure:"search_timeout"`
	CapabilityTimeout time.Duration `mapstructure:"capability_timeout"`
	CacheSize         int           `mapstructure:"cache_size"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

type EnrichmentConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	LookbackCommits int  `mapstructure:"lookback_commits"`
	MaxConcurrency  int  `mapstructure:"max_concurrency"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Defaults mirrors the values used when neither a file nor the environment set a key.
var Defaults = map[string]interface{}{
	"repo.path":               "./repo_to_index",
	"repo.include_extensions": []string{".py", ".js", ".ts", ".java", ".cpp", ".c", ".go", ".rs", ".rb", ".php"},
	"repo.exclude_patterns":   []string{"__pycache__", "node_modules", ".git", ".env"},
	"repo.max_file_size":      int64(1 << 20),

	"chunking.chunk_size": 512,
	"chunking.overlap":    50,

	"index.path":       "./data/index",
	"index.batch_size": 32,

	"embedding.provider":   "local",
	"embedding.model":      "sentence-transformers/all-MiniLM-L6-v2",
	"embedding.api_key":    "",
	"embedding.model_dir":  "./models",
	"embedding.cache_size": 1000,

	"reranker.provider":     "lexical",
	"reranker.model":        "",
	"reranker.api_key":      "",
	"reranker.base_url":     "",
	"reranker.batch_size":   32,
	"reranker.threshold":    0.5,
	"reranker.max_per_file": 0,
	"reranker.ensemble":     false,

	"expansion.enabled":  false,
	"expansion.provider": "none",
	"expansion.model":    "",
	"expansion.api_key":  "",
	"expansion.base_url": "",
	"expansion.count":    3,

	"retrieval.top_k_retrieval":    10,
	"retrieval.top_k_ranking":      5,
	"retrieval.max_workers":        4,
	"retrieval.search_timeout":     30 * time.Second,
	"retrieval.capability_timeout": 10 * time.Second,
	"retrieval.cache_size":         256,
	"retrieval.cache_ttl":          5 * time.Minute,

	"enrichment.enabled":          true,
	"enrichment.lookback_commits": 20,
	"enrichment.max_concurrency":  4,

	"log.level":  "info",
	"log.format": "pretty",

	"tracing.endpoint":     "",
	"tracing.service_name": "coderag",
	"tracing.sample_rate":  1.0,
	"tracing.insecure":     true,
}

// Default returns the configuration produced by Defaults alone.
func Default() *Config {
	v := newViper()
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range Defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from .env, the optional YAML file at path and the environment.
// When path is empty a coderag.yaml in the working directory is used if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("coderag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Chunking.ChunkSize <= 0:
		return &types.ConfigurationError{Field: "chunking.chunk_size", Reason: "must be positive"}
	case c.Chunking.Overlap < 0:
		return &types.ConfigurationError{Field: "chunking.overlap", Reason: "must not be negative"}
	case c.Chunking.Overlap >= c.Chunking.ChunkSize:
		return &types.ConfigurationError{
			Field:  "chunking.overlap",
			Reason: fmt.Sprintf("overlap %d must be smaller than chunk size %d", c.Chunking.Overlap, c.Chunking.ChunkSize),
		}
	case c.Index.Path == "":
		return &types.ConfigurationError{Field: "index.path", Reason: "is required"}
	case c.Index.BatchSize <= 0:
		return &types.ConfigurationError{Field: "index.batch_size", Reason: "must be positive"}
	case c.Reranker.BatchSize <= 0:
		return &types.ConfigurationError{Field: "reranker.batch_size", Reason: "must be positive"}
	case c.Reranker.MaxPerFile < 0:
		return &types.ConfigurationError{Field: "reranker.max_per_file", Reason: "must not be negative"}
	case c.Retrieval.TopKRetrieval <= 0:
		return &types.ConfigurationError{Field: "retrieval.top_k_retrieval", Reason: "must be positive"}
	case c.Retrieval.TopKRanking <= 0:
		return &types.ConfigurationError{Field: "retrieval.top_k_ranking", Reason: "must be positive"}
	case c.Retrieval.MaxWorkers <= 0:
		return &types.ConfigurationError{Field: "retrieval.max_workers", Reason: "must be positive"}
	case c.Expansion.Count < 0:
		return &types.ConfigurationError{Field: "expansion.count", Reason: "must not be negative"}
	case c.Enrichment.LookbackCommits <= 0:
		return &types.ConfigurationError{Field: "enrichment.lookback_commits", Reason: "must be positive"}
	}
	return nil
}

// Warnings returns non-fatal configuration issues worth logging at startup.
func (c *Config) Warnings() []string {
	var warnings []string

	if c.Embedding.Provider == "jina" || c.Embedding.Provider == "openai" {
		if c.Embedding.APIKey == "" {
			warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but api_key is empty", c.Embedding.Provider))
		}
	}

	if c.Reranker.Provider == "jina" && c.Reranker.APIKey == "" {
		warnings = append(warnings, "reranker provider 'jina' is configured but api_key is empty")
	}

	if c.Expansion.Enabled && (c.Expansion.Provider == "" || c.Expansion.Provider == "none") {
		warnings = append(warnings, "query expansion is enabled but no provider is configured")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0, 1]", c.Tracing.SampleRate))
	}

	return warnings
}
