package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/vectorindex"
	"github.com/dshills/coderag/pkg/types"
)

// BuildReport summarizes a build or update
type BuildReport struct {
	Stats     *indexer.Statistics
	Chunks    int // chunks in the index afterwards
	BuildID   string
	IndexPath string
	Duration  time.Duration
}

// BuildIndex ingests the repository, rebuilds the index from scratch and
// persists it. Only one build or update runs at a time.
func (o *Orchestrator) BuildIndex(ctx context.Context) (*BuildReport, error) {
	if o.deps.Indexer == nil {
		return nil, fmt.Errorf("no indexer configured")
	}
	if !o.lock.TryAcquire() {
		return nil, ErrBuildInProgress
	}
	defer o.lock.Release()

	start := time.Now()
	chunks, stats, err := o.deps.Indexer.IngestRepository(ctx, o.opts.RepoPath, o.opts.Ingest)
	if err != nil {
		return nil, fmt.Errorf("failed to ingest repository: %w", err)
	}

	idx := o.ensureIndex()
	if err := idx.Build(ctx, chunks, o.opts.BatchSize); err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}
	o.invalidate()

	if err := idx.Verify(); err != nil {
		return nil, err
	}
	if err := idx.Persist(ctx, o.opts.IndexPath); err != nil {
		return nil, fmt.Errorf("failed to persist index: %w", err)
	}

	report := &BuildReport{
		Stats:     stats,
		Chunks:    idx.Len(),
		BuildID:   idx.BuildID(),
		IndexPath: o.opts.IndexPath,
		Duration:  time.Since(start),
	}
	o.logger.Info("index built",
		slog.String("build_id", report.BuildID),
		slog.Int("chunks", report.Chunks),
		slog.Int("files", stats.FilesIndexed),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// LoadIndex replaces the in-memory index with the persisted one
func (o *Orchestrator) LoadIndex(ctx context.Context) error {
	idx := o.ensureIndex()
	if err := idx.Load(ctx, o.opts.IndexPath); err != nil {
		return err
	}
	o.invalidate()
	return nil
}

// UpdateIndex re-ingests paths (absolute or relative to the repository),
// replaces their chunks in the index and persists the result. Paths that no
// longer exist lose their chunks.
func (o *Orchestrator) UpdateIndex(ctx context.Context, paths []string) (*BuildReport, error) {
	if o.deps.Indexer == nil {
		return nil, fmt.Errorf("no indexer configured")
	}
	if !o.lock.TryAcquire() {
		return nil, ErrBuildInProgress
	}
	defer o.lock.Release()

	start := time.Now()
	rels := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := indexer.RelativePath(o.opts.RepoPath, p)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}

	chunks, stats, err := o.deps.Indexer.IngestFiles(ctx, o.opts.RepoPath, paths, o.opts.Ingest)
	if err != nil {
		return nil, fmt.Errorf("failed to ingest files: %w", err)
	}

	idx := o.ensureIndex()
	if err := idx.ReplaceFiles(ctx, rels, chunks); err != nil {
		return nil, fmt.Errorf("failed to update index: %w", err)
	}
	o.invalidate()

	if err := idx.Verify(); err != nil {
		return nil, err
	}
	if err := idx.Persist(ctx, o.opts.IndexPath); err != nil {
		return nil, fmt.Errorf("failed to persist index: %w", err)
	}

	report := &BuildReport{
		Stats:     stats,
		Chunks:    idx.Len(),
		BuildID:   idx.BuildID(),
		IndexPath: o.opts.IndexPath,
		Duration:  time.Since(start),
	}
	o.logger.Info("index updated",
		slog.Int("files", len(rels)),
		slog.Int("new_chunks", len(chunks)),
		slog.Int("chunks", report.Chunks))
	return report, nil
}

// Artifacts inspects the persisted index without loading it
func (o *Orchestrator) Artifacts(ctx context.Context) (*vectorindex.Artifacts, error) {
	return vectorindex.Inspect(ctx, o.opts.IndexPath)
}

// Info describes the orchestrator's current state
type Info struct {
	IndexLoaded             bool
	ChunkCount              int
	Dimension               int
	BuildID                 string
	BuildInProgress         bool
	VersionControlAvailable bool
	RepoPath                string
	IndexPath               string
	EmbeddingProvider       string
	EmbeddingModel          string
	RerankerModel           string
	ExpansionModel          string
	CachedResponses         int
}

// SystemInfo reports the current state
func (o *Orchestrator) SystemInfo() Info {
	info := Info{
		BuildInProgress:   o.lock.Held(),
		RepoPath:          o.opts.RepoPath,
		IndexPath:         o.opts.IndexPath,
		EmbeddingProvider: o.deps.Embedder.Provider(),
		EmbeddingModel:    o.deps.Embedder.Model(),
		RerankerModel:     o.deps.Reranker.Model(),
		CachedResponses:   o.cache.size(),
	}
	if idx := o.index(); idx != nil {
		info.IndexLoaded = idx.IsBuilt()
		info.ChunkCount = idx.Len()
		info.Dimension = idx.Dimension()
		info.BuildID = idx.BuildID()
	}
	if o.deps.Enricher != nil {
		info.VersionControlAvailable = o.deps.Enricher.Available()
	}
	if m, ok := o.deps.Expander.(interface{ Model() string }); ok {
		info.ExpansionModel = m.Model()
	}
	return info
}

// ImpactAnalysis summarizes the change history of an indexed chunk's file
func (o *Orchestrator) ImpactAnalysis(ctx context.Context, chunkID string) (types.ImpactAnalysis, error) {
	idx := o.index()
	if idx == nil || !idx.IsBuilt() {
		return types.ImpactAnalysis{}, types.ErrIndexNotBuilt
	}
	chunk, ok := idx.Chunk(chunkID)
	if !ok {
		return types.ImpactAnalysis{}, fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
	}
	if o.deps.Enricher == nil {
		return types.ImpactAnalysis{LastModifiedBy: "Unknown"}, nil
	}

	cctx, cancel := o.capabilityContext(ctx)
	defer cancel()
	return o.deps.Enricher.ImpactAnalysis(cctx, &chunk), nil
}
