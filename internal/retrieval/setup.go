package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/coderag/internal/chunker"
	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/enricher"
	"github.com/dshills/coderag/internal/expander"
	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/internal/reranker"
	"github.com/dshills/coderag/internal/vcs"
	"github.com/dshills/coderag/internal/vectorindex"
)

// OptionsFromConfig maps the loaded configuration onto orchestrator options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RepoPath:  cfg.Repo.Path,
		IndexPath: cfg.Index.Path,
		Ingest: &indexer.Config{
			IncludeExtensions: cfg.Repo.IncludeExtensions,
			ExcludePatterns:   cfg.Repo.ExcludePatterns,
			MaxFileSize:       cfg.Repo.MaxFileSize,
		},
		BatchSize:         cfg.Index.BatchSize,
		TopKRetrieval:     cfg.Retrieval.TopKRetrieval,
		TopKRanking:       cfg.Retrieval.TopKRanking,
		MaxWorkers:        cfg.Retrieval.MaxWorkers,
		Threshold:         cfg.Reranker.Threshold,
		MaxPerFile:        cfg.Reranker.MaxPerFile,
		Ensemble:          cfg.Reranker.Ensemble,
		ExpansionCount:    cfg.Expansion.Count,
		Enrich:            cfg.Enrichment.Enabled,
		SearchTimeout:     cfg.Retrieval.SearchTimeout,
		CapabilityTimeout: cfg.Retrieval.CapabilityTimeout,
		CacheSize:         cfg.Retrieval.CacheSize,
		CacheTTL:          cfg.Retrieval.CacheTTL,
	}
}

// NewFromConfig wires every component from cfg. Optional capabilities that
// cannot be set up (query expansion, version control) are logged and left out.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logging.OrDefault(logger)

	emb, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		ModelDir:  cfg.Embedding.ModelDir,
		CacheSize: cfg.Embedding.CacheSize,
		Timeout:   cfg.Retrieval.CapabilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	scorer, err := reranker.NewScorer(reranker.Config{
		Provider: cfg.Reranker.Provider,
		Model:    cfg.Reranker.Model,
		APIKey:   cfg.Reranker.APIKey,
		BaseURL:  cfg.Reranker.BaseURL,
		Timeout:  cfg.Retrieval.CapabilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker: %w", err)
	}

	ch, err := chunker.New(chunker.Config{ChunkSize: cfg.Chunking.ChunkSize, Overlap: cfg.Chunking.Overlap}, nil, logger)
	if err != nil {
		return nil, err
	}

	idx := vectorindex.New(emb, logger)

	deps := Dependencies{
		Embedder: emb,
		Index:    idx,
		Reranker: reranker.New(scorer, cfg.Reranker.BatchSize, logger),
		Indexer:  indexer.New(ch, logger),
	}

	if cfg.Enrichment.Enabled {
		deps.Enricher = enricher.New(vcs.Open(cfg.Repo.Path, logger), enricher.Options{
			LookbackCommits: cfg.Enrichment.LookbackCommits,
			MaxConcurrency:  cfg.Enrichment.MaxConcurrency,
			Lookup:          idx.ChunksForFile,
		}, logger)
	}

	exp, err := NewExpander(ctx, cfg, logger)
	switch {
	case err == nil:
		deps.Expander = exp
	case errors.Is(err, expander.ErrDisabled):
	default:
		logger.Warn("query expansion unavailable", slog.String("error", err.Error()))
	}

	return New(deps, OptionsFromConfig(cfg), logger), nil
}

// NewExpander builds the query-rewrite capability. It returns
// expander.ErrDisabled when expansion is off or no provider is configured.
func NewExpander(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*expander.LLMExpander, error) {
	if !cfg.Expansion.Enabled {
		return nil, expander.ErrDisabled
	}
	completer, err := expander.NewCompleter(ctx, expander.Config{
		Provider: cfg.Expansion.Provider,
		Model:    cfg.Expansion.Model,
		APIKey:   cfg.Expansion.APIKey,
		BaseURL:  cfg.Expansion.BaseURL,
		Timeout:  cfg.Retrieval.CapabilityTimeout,
	})
	if err != nil {
		return nil, err
	}
	return expander.New(completer, logger), nil
}

// Close releases the embedder
func (o *Orchestrator) Close() error {
	return o.deps.Embedder.Close()
}
