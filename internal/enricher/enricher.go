// Package enricher decorates ranked results with version-control context:
// the most recent commit touching each chunk's lines and the files that
// change together with the chunk's file.
package enricher

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/internal/observability"
	"github.com/dshills/coderag/internal/vcs"
	"github.com/dshills/coderag/pkg/types"
)

const (
	DefaultLookbackCommits = 20
	DefaultMaxConcurrency  = 4
	DefaultRelatedChunks   = 5

	impactCommitLimit  = 10
	impactRecentCommit = 3
)

// ChunkLookup returns the indexed chunks of a file
type ChunkLookup func(filePath string) []types.Chunk

// Options tunes enrichment
type Options struct {
	LookbackCommits int
	MaxConcurrency  int
	RelatedChunks   int // cap on RelatedChunks per result
	Lookup          ChunkLookup
}

// Enricher attaches history context to ranked results
type Enricher struct {
	vc     vcs.VersionControl
	opts   Options
	logger *slog.Logger
}

// New creates an Enricher. Zero options take defaults.
func New(vc vcs.VersionControl, opts Options, logger *slog.Logger) *Enricher {
	if vc == nil {
		vc = vcs.Unavailable{}
	}
	if opts.LookbackCommits <= 0 {
		opts.LookbackCommits = DefaultLookbackCommits
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.RelatedChunks <= 0 {
		opts.RelatedChunks = DefaultRelatedChunks
	}
	return &Enricher{vc: vc, opts: opts, logger: logging.OrDefault(logger)}
}

// Available reports whether history lookups can succeed
func (e *Enricher) Available() bool {
	return e.vc.Available()
}

// Plain wraps ranked results with empty context
func Plain(ranked []types.RankedResult) []types.ContextualResult {
	out := make([]types.ContextualResult, len(ranked))
	for i, r := range ranked {
		out[i] = types.ContextualResult{RankedResult: r}
	}
	return out
}

// Enrich looks up context for every result independently. Output order equals
// input order; any lookup failure leaves that result's context empty.
func (e *Enricher) Enrich(ctx context.Context, ranked []types.RankedResult, includeHistory, includeRelated bool) []types.ContextualResult {
	out := Plain(ranked)
	if len(ranked) == 0 || !e.vc.Available() || (!includeHistory && !includeRelated) {
		return out
	}

	ctx, span := observability.StartStageSpan(ctx, observability.StageEnrich)
	defer span.End()

	var g errgroup.Group
	g.SetLimit(e.opts.MaxConcurrency)
	for i := range out {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			chunk := &out[i].Chunk
			if includeHistory {
				out[i].Commit = e.CommitFor(ctx, chunk)
			}
			if includeRelated {
				out[i].RelatedFiles = e.RelatedFiles(ctx, chunk)
				out[i].RelatedChunks = e.relatedChunks(out[i].RelatedFiles)
			}
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// CommitFor returns the most recent commit that last touched a line of chunk, or nil
func (e *Enricher) CommitFor(ctx context.Context, chunk *types.Chunk) *types.CommitContext {
	commits, err := e.vc.CommitsTouchingLines(ctx, chunk.FilePath, chunk.StartLine, chunk.EndLine)
	if err != nil {
		e.logger.Debug("commit lookup failed", slog.String("chunk", chunk.ID), slog.String("error", err.Error()))
		return nil
	}
	if len(commits) == 0 {
		return nil
	}
	c := commits[0]
	return &c
}

// RelatedFiles returns the other files changed by the recent commits that
// touched chunk's file, sorted
func (e *Enricher) RelatedFiles(ctx context.Context, chunk *types.Chunk) []string {
	commits, err := e.vc.CommitsForFile(ctx, chunk.FilePath, e.opts.LookbackCommits)
	if err != nil {
		e.logger.Debug("history lookup failed", slog.String("file", chunk.FilePath), slog.String("error", err.Error()))
		return nil
	}
	return coChanged(commits, chunk.FilePath)
}

func coChanged(commits []types.CommitContext, own string) []string {
	set := make(map[string]bool)
	for _, c := range commits {
		for _, f := range c.ChangedFiles {
			if f != own {
				set[f] = true
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	files := make([]string, 0, len(set))
	for f := range set {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// relatedChunks takes indexed chunks from related files, in file order, up to the cap
func (e *Enricher) relatedChunks(files []string) []types.RetrievalResult {
	if e.opts.Lookup == nil || len(files) == 0 {
		return nil
	}
	var out []types.RetrievalResult
	for _, f := range files {
		for _, ch := range e.opts.Lookup(f) {
			if len(out) == e.opts.RelatedChunks {
				return out
			}
			out = append(out, types.RetrievalResult{Chunk: ch, Source: types.SourceRelated})
		}
	}
	return out
}

// ImpactAnalysis summarizes who changed chunk's file, how often, and how
// widely the file's changes spread. Unknown history yields a zero summary
// with LastModifiedBy "Unknown".
func (e *Enricher) ImpactAnalysis(ctx context.Context, chunk *types.Chunk) types.ImpactAnalysis {
	analysis := types.ImpactAnalysis{LastModifiedBy: "Unknown"}

	commits, err := e.vc.CommitsForFile(ctx, chunk.FilePath, impactCommitLimit)
	if err != nil {
		e.logger.Debug("history lookup failed", slog.String("file", chunk.FilePath), slog.String("error", err.Error()))
		return analysis
	}

	analysis.CommitCount = len(commits)
	if len(commits) > 0 {
		analysis.LastModifiedBy = commits[0].Author
		analysis.LastModifiedDate = commits[0].Date
		analysis.RecentCommits = commits[:min(impactRecentCommit, len(commits))]
	}
	analysis.RelatedFilesCount = len(e.RelatedFiles(ctx, chunk))
	return analysis
}
