package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag/pkg/types"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 512, cfg.Chunking.ChunkSize)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, 32, cfg.Index.BatchSize)
	assert.Equal(t, 10, cfg.Retrieval.TopKRetrieval)
	assert.Equal(t, 5, cfg.Retrieval.TopKRanking)
	assert.Equal(t, 4, cfg.Retrieval.MaxWorkers)
	assert.Equal(t, 0.5, cfg.Reranker.Threshold)
	assert.Equal(t, 3, cfg.Expansion.Count)
	assert.Equal(t, 20, cfg.Enrichment.LookbackCommits)
	assert.Equal(t, 30*time.Second, cfg.Retrieval.SearchTimeout)
	assert.Contains(t, cfg.Repo.IncludeExtensions, ".py")
	assert.Contains(t, cfg.Repo.ExcludePatterns, "node_modules")
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coderag.yaml")
	content := `
repo:
  path: /srv/code
chunking:
  chunk_size: 256
  overlap: 32
reranker:
  threshold: 0.25
  max_per_file: 2
retrieval:
  search_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/code", cfg.Repo.Path)
	assert.Equal(t, 256, cfg.Chunking.ChunkSize)
	assert.Equal(t, 32, cfg.Chunking.Overlap)
	assert.Equal(t, 0.25, cfg.Reranker.Threshold)
	assert.Equal(t, 2, cfg.Reranker.MaxPerFile)
	assert.Equal(t, 5*time.Second, cfg.Retrieval.SearchTimeout)
	// untouched keys keep defaults
	assert.Equal(t, 10, cfg.Retrieval.TopKRetrieval)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coderag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  path: ./from-file\n"), 0o644))

	t.Setenv("CODERAG_INDEX_PATH", "/tmp/from-env")
	t.Setenv("CODERAG_RETRIEVAL_TOP_K_RANKING", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env", cfg.Index.Path)
	assert.Equal(t, 7, cfg.Retrieval.TopKRanking)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"overlap equals chunk size", func(c *Config) { c.Chunking.Overlap = c.Chunking.ChunkSize }, "chunking.overlap"},
		{"overlap exceeds chunk size", func(c *Config) { c.Chunking.Overlap = 600 }, "chunking.overlap"},
		{"zero chunk size", func(c *Config) { c.Chunking.ChunkSize = 0 }, "chunking.chunk_size"},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }, "chunking.overlap"},
		{"empty index path", func(c *Config) { c.Index.Path = "" }, "index.path"},
		{"zero batch size", func(c *Config) { c.Index.BatchSize = 0 }, "index.batch_size"},
		{"zero workers", func(c *Config) { c.Retrieval.MaxWorkers = 0 }, "retrieval.max_workers"},
		{"negative diversification", func(c *Config) { c.Reranker.MaxPerFile = -1 }, "reranker.max_per_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidConfig))

			var cerr *types.ConfigurationError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Warnings())

	cfg.Embedding.Provider = "jina"
	cfg.Expansion.Enabled = true
	warnings := cfg.Warnings()
	assert.Len(t, warnings, 2)
}
