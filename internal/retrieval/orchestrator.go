package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/enricher"
	"github.com/dshills/coderag/internal/expander"
	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/keyword"
	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/internal/observability"
	"github.com/dshills/coderag/internal/reranker"
	"github.com/dshills/coderag/internal/vectorindex"
	"github.com/dshills/coderag/pkg/types"
)

var (
	// ErrEmptyQuery is returned for blank queries
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrBuildInProgress is returned when a build or update is already running
	ErrBuildInProgress = errors.New("index build already in progress")

	// ErrChunkNotFound is returned when a chunk identifier is not indexed
	ErrChunkNotFound = errors.New("chunk not found")
)

// Request describes one search
type Request struct {
	Query          string
	Expand         bool
	IncludeContext bool
	TopK           int // 0 uses Options.TopKRanking
}

// Options tunes the orchestrator. Zero values take the defaults noted.
type Options struct {
	RepoPath  string
	IndexPath string
	Ingest    *indexer.Config
	BatchSize int // embedding batch size during builds

	TopKRetrieval int // per query, default 10
	TopKRanking   int // default 5
	MaxWorkers    int // concurrent vector searches, default 4

	Threshold  float64
	MaxPerFile int // 0 disables diversification
	Ensemble   bool

	ExpansionCount int  // default expander.DefaultCount
	Enrich         bool // attach history when a request asks for context

	SearchTimeout     time.Duration // whole search; 0 disables
	CapabilityTimeout time.Duration // each external call; 0 disables

	CacheSize int // 0 disables the response cache
	CacheTTL  time.Duration
}

// Dependencies are the collaborators of an Orchestrator. Expander and
// Enricher are optional.
type Dependencies struct {
	Embedder embedder.Embedder
	Index    *vectorindex.Index
	Reranker *reranker.Reranker
	Enricher *enricher.Enricher
	Expander expander.Rewriter
	Indexer  *indexer.Indexer
}

// Orchestrator runs searches and index maintenance for one repository
type Orchestrator struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger

	indexMu sync.Mutex // guards deps.Index replacement by the safety fallback
	lock    indexer.IndexLock
	cache   *responseCache
	kw      atomic.Pointer[keyword.Retriever]

	// derivedMu orders invalidation against publishing derived state. gen
	// counts invalidations; state computed under an older gen is dropped.
	derivedMu sync.Mutex
	gen       uint64
}

// New creates an Orchestrator
func New(deps Dependencies, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.TopKRetrieval <= 0 {
		opts.TopKRetrieval = 10
	}
	if opts.TopKRanking <= 0 {
		opts.TopKRanking = 5
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.ExpansionCount <= 0 {
		opts.ExpansionCount = expander.DefaultCount
	}
	if deps.Embedder == nil {
		deps.Embedder = embedder.NewLocalProvider(embedder.LocalDimension, nil)
	}
	if deps.Reranker == nil {
		deps.Reranker = reranker.New(reranker.LexicalScorer{}, reranker.DefaultBatchSize, logger)
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logging.OrDefault(logger),
		cache:  newResponseCache(opts.CacheSize, opts.CacheTTL),
	}
}

func (o *Orchestrator) index() *vectorindex.Index {
	o.indexMu.Lock()
	defer o.indexMu.Unlock()
	return o.deps.Index
}

// ensureIndex returns the index, creating an unbuilt one when none was supplied
func (o *Orchestrator) ensureIndex() *vectorindex.Index {
	o.indexMu.Lock()
	defer o.indexMu.Unlock()
	if o.deps.Index == nil {
		o.deps.Index = vectorindex.New(o.deps.Embedder, o.logger)
	}
	return o.deps.Index
}

// invalidate drops derived state after the index changes
func (o *Orchestrator) invalidate() {
	o.derivedMu.Lock()
	defer o.derivedMu.Unlock()
	o.gen++
	o.cache.purge()
	o.kw.Store(nil)
}

// generation must be read before the index snapshot that derived state is computed from
func (o *Orchestrator) generation() uint64 {
	o.derivedMu.Lock()
	defer o.derivedMu.Unlock()
	return o.gen
}

// publish runs store only if no invalidation happened since gen was read
func (o *Orchestrator) publish(gen uint64, store func()) bool {
	o.derivedMu.Lock()
	defer o.derivedMu.Unlock()
	if o.gen != gen {
		return false
	}
	store()
	return true
}

func (o *Orchestrator) capabilityContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.CapabilityTimeout > 0 {
		return context.WithTimeout(ctx, o.opts.CapabilityTimeout)
	}
	return context.WithCancel(ctx)
}

// Search runs the full pipeline for req. An unbuilt index is reported as
// types.ErrIndexNotBuilt; expansion, reranking and enrichment failures
// degrade instead of failing the search.
func (o *Orchestrator) Search(ctx context.Context, req Request) ([]types.ContextualResult, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	if req.TopK <= 0 {
		req.TopK = o.opts.TopKRanking
	}

	idx := o.index()
	if idx == nil {
		// Never expected in a wired orchestrator
		o.logger.Warn("no vector index, building an empty one")
		idx = o.ensureIndex()
		if err := idx.Build(ctx, nil, o.opts.BatchSize); err != nil {
			return nil, err
		}
		return []types.ContextualResult{}, nil
	}
	if !idx.IsBuilt() {
		return nil, types.ErrIndexNotBuilt
	}

	gen := o.generation()
	if cached, ok := o.cache.get(req); ok {
		o.logger.Debug("search cache hit", slog.String("query", req.Query))
		return cached, nil
	}

	if o.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.SearchTimeout)
		defer cancel()
	}
	start := time.Now()

	ctx, span := observability.StartStageSpan(ctx, observability.StagePipeline, attribute.String("query", req.Query), attribute.Bool("expand", req.Expand))
	defer span.End()

	queries, alternatives := o.expand(ctx, req)

	candidates, err := o.retrieve(ctx, idx, queries)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	unique := Dedup(candidates)

	ranked := o.rank(ctx, req.Query, unique, req.TopK)

	var results []types.ContextualResult
	if req.IncludeContext && o.opts.Enrich && o.deps.Enricher != nil {
		ectx, cancel := o.capabilityContext(ctx)
		results = o.deps.Enricher.Enrich(ectx, ranked, true, true)
		cancel()
	} else {
		results = enricher.Plain(ranked)
	}
	for i := range results {
		results[i].ExpandedQueries = slices.Clone(alternatives)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search %q: %w", req.Query, err)
	}

	if !o.publish(gen, func() { o.cache.put(req, results) }) {
		o.logger.Debug("index changed during search, not caching", slog.String("query", req.Query))
	}
	observability.RecordResultCount(span, len(results))

	o.logger.Info("search complete",
		slog.String("query", req.Query),
		slog.Int("queries", len(queries)),
		slog.Int("candidates", len(candidates)),
		slog.Int("unique", len(unique)),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))

	return results, nil
}

// expand returns the queries to retrieve with (original first) and the
// alternatives alone. Expansion failures fall back to the original query.
func (o *Orchestrator) expand(ctx context.Context, req Request) ([]string, []string) {
	queries := []string{req.Query}
	if !req.Expand || o.deps.Expander == nil {
		return queries, nil
	}

	ctx, span := observability.StartStageSpan(ctx, observability.StageExpand)
	defer span.End()

	cctx, cancel := o.capabilityContext(ctx)
	defer cancel()

	res, err := o.deps.Expander.Rewrite(cctx, req.Query, o.opts.ExpansionCount, "")
	if err != nil {
		observability.RecordError(span, err)
		o.logger.Warn("query expansion failed", slog.String("query", req.Query), slog.String("error", err.Error()))
		return queries, nil
	}

	var alternatives []string
	for _, q := range res.Alternatives {
		if q = strings.TrimSpace(q); q != "" && q != req.Query {
			alternatives = append(alternatives, q)
		}
	}
	o.logger.Debug("query expanded", slog.Int("alternatives", len(alternatives)))
	return append(queries, alternatives...), alternatives
}

// retrieve searches every query concurrently. Results are gathered per
// query slot so the merged order follows the query order. Any failure
// discards everything.
func (o *Orchestrator) retrieve(ctx context.Context, idx *vectorindex.Index, queries []string) ([]types.RetrievalResult, error) {
	perQuery := make([][]types.RetrievalResult, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxWorkers)
	for i, q := range queries {
		g.Go(func() error {
			qctx, cancel := o.capabilityContext(gctx)
			defer cancel()
			res, err := idx.Search(qctx, q, o.opts.TopKRetrieval)
			if err != nil {
				return fmt.Errorf("search %q: %w", q, err)
			}
			perQuery[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []types.RetrievalResult
	for _, res := range perQuery {
		merged = append(merged, res...)
	}
	return merged, nil
}

// Dedup keeps the first occurrence of each chunk identifier, in encounter order
func Dedup(results []types.RetrievalResult) []types.RetrievalResult {
	seen := make(map[string]bool, len(results))
	out := make([]types.RetrievalResult, 0, len(results))
	for _, r := range results {
		if seen[r.Chunk.ID] {
			continue
		}
		seen[r.Chunk.ID] = true
		out = append(out, r)
	}
	return out
}

func (o *Orchestrator) rank(ctx context.Context, query string, results []types.RetrievalResult, topK int) []types.RankedResult {
	cctx, cancel := o.capabilityContext(ctx)
	defer cancel()

	var ranked []types.RankedResult
	if o.opts.Ensemble {
		ranked = o.deps.Reranker.Ensemble(cctx, query, results, topK, reranker.DefaultWeights())
	} else {
		ranked = o.deps.Reranker.Rerank(cctx, query, results, topK, o.opts.Threshold)
	}
	if o.opts.MaxPerFile > 0 {
		ranked = reranker.Diversify(ranked, o.opts.MaxPerFile)
	}
	return ranked
}

// KeywordSearch ranks indexed chunks by stemmed term frequency with name boosts
func (o *Orchestrator) KeywordSearch(ctx context.Context, query string, k int) ([]types.RetrievalResult, error) {
	idx := o.index()
	if idx == nil || !idx.IsBuilt() {
		return nil, types.ErrIndexNotBuilt
	}

	_, span := observability.StartStageSpan(ctx, observability.StageKeyword)
	defer span.End()

	r := o.kw.Load()
	if r == nil {
		gen := o.generation()
		r = keyword.NewRetriever(idx.Chunks())
		o.publish(gen, func() { o.kw.Store(r) })
	}
	results := r.Search(query, k)
	observability.RecordResultCount(span, len(results))
	return results, nil
}

// Explain reports how the pairwise scorer judges a chunk against query
func (o *Orchestrator) Explain(ctx context.Context, query string, c types.Chunk) (reranker.Explanation, error) {
	ctx, cancel := o.capabilityContext(ctx)
	defer cancel()
	return o.deps.Reranker.Explain(ctx, query, c.Content)
}
