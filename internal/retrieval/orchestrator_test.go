package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag/internal/chunker"
	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/enricher"
	"github.com/dshills/coderag/internal/expander"
	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/keyword"
	"github.com/dshills/coderag/internal/reranker"
	"github.com/dshills/coderag/internal/vectorindex"
	"github.com/dshills/coderag/pkg/types"
)

// fakeEmbedder maps known texts to fixed 2-d vectors
type fakeEmbedder struct {
	vectors map[string][]float32
	failOn  string
}

func (f *fakeEmbedder) vector(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return []float32{100, 100}
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if f.failOn != "" && req.Text == f.failOn {
		return nil, errors.New("embedding service down")
	}
	return &embedder.Embedding{Vector: f.vector(req.Text), Dimension: 2}, nil
}

func (f *fakeEmbedder) GenerateBatch(_ context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	resp := &embedder.BatchEmbeddingResponse{}
	for _, t := range req.Texts {
		resp.Embeddings = append(resp.Embeddings, &embedder.Embedding{Vector: f.vector(t), Dimension: 2})
	}
	return resp, nil
}

func (f *fakeEmbedder) Dimension() int   { return 2 }
func (f *fakeEmbedder) Provider() string { return "fake" }
func (f *fakeEmbedder) Model() string    { return "fake-2d" }
func (f *fakeEmbedder) Close() error     { return nil }

// tableScorer scores texts from a fixed table and counts calls
type tableScorer struct {
	scores map[string]float64
	calls  atomic.Int32
}

func (s *tableScorer) Model() string { return "table" }

func (s *tableScorer) ScoreBatch(_ context.Context, _ string, texts []string) ([]float64, error) {
	s.calls.Add(1)
	out := make([]float64, len(texts))
	for i, t := range texts {
		out[i] = s.scores[t]
	}
	return out, nil
}

// stubRewriter returns fixed alternatives or an error
type stubRewriter struct {
	alternatives []string
	err          error
	calls        atomic.Int32
}

func (s *stubRewriter) Rewrite(_ context.Context, query string, count int, _ string) (types.QueryExpansionResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return types.QueryExpansionResult{Original: query}, s.err
	}
	alts := s.alternatives
	if len(alts) > count {
		alts = alts[:count]
	}
	return types.QueryExpansionResult{Original: query, Alternatives: alts}, nil
}

func (s *stubRewriter) Model() string { return "stub" }

// staticVC reports one commit for every line of every file
type staticVC struct{}

func (staticVC) Available() bool { return true }

func (staticVC) CommitsTouchingLines(context.Context, string, int, int) ([]types.CommitContext, error) {
	return []types.CommitContext{{Hash: "abc1234", Author: "alice", ChangedFiles: []string{"a.py", "b.py"}}}, nil
}

func (staticVC) CommitsForFile(context.Context, string, int) ([]types.CommitContext, error) {
	return []types.CommitContext{{Hash: "abc1234", Author: "alice", ChangedFiles: []string{"a.py", "b.py"}}}, nil
}

func testChunk(path string, n int, content string) types.Chunk {
	return types.Chunk{
		ID:        types.ChunkID(path, n),
		FilePath:  path,
		Content:   content,
		Language:  "python",
		StartLine: n*10 + 1,
		EndLine:   n*10 + 5,
		Kind:      types.KindFunction,
	}
}

type fixture struct {
	orch     *Orchestrator
	emb      *fakeEmbedder
	scorer   *tableScorer
	rewriter *stubRewriter
}

// newFixture indexes four chunks. "auth" sits next to the a.py chunks and
// "session" next to the c.py chunk.
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"login handler": {1, 0},
		"password hash": {2, 0},
		"db connect":    {10, 0},
		"token refresh": {0, 3},
		"auth":          {1.1, 0},
		"session":       {0, 2.9},
	}}
	scorer := &tableScorer{scores: map[string]float64{
		"login handler": 0.9,
		"password hash": 0.6,
		"token refresh": 0.8,
		"db connect":    0.1,
	}}
	rewriter := &stubRewriter{alternatives: []string{"session"}}

	idx := vectorindex.New(emb, nil)
	require.NoError(t, idx.Build(context.Background(), []types.Chunk{
		testChunk("a.py", 0, "login handler"),
		testChunk("a.py", 1, "password hash"),
		testChunk("b.py", 0, "db connect"),
		testChunk("c.py", 0, "token refresh"),
	}, 2))

	if opts.TopKRetrieval == 0 {
		opts.TopKRetrieval = 2
	}
	if opts.Threshold == 0 {
		opts.Threshold = 0.5
	}
	opts.Enrich = true

	orch := New(Dependencies{
		Embedder: emb,
		Index:    idx,
		Reranker: reranker.New(scorer, 8, nil),
		Expander: rewriter,
		Enricher: enricher.New(staticVC{}, enricher.Options{Lookup: idx.ChunksForFile}, nil),
	}, opts, nil)

	return &fixture{orch: orch, emb: emb, scorer: scorer, rewriter: rewriter}
}

func resultIDs(results []types.ContextualResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestSearchUnbuiltIndex(t *testing.T) {
	orch := New(Dependencies{Index: vectorindex.New(&fakeEmbedder{}, nil)}, Options{}, nil)
	_, err := orch.Search(context.Background(), Request{Query: "auth"})
	assert.ErrorIs(t, err, types.ErrIndexNotBuilt)
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.orch.Search(context.Background(), Request{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchWithoutExpansion(t *testing.T) {
	f := newFixture(t, Options{})

	results, err := f.orch.Search(context.Background(), Request{Query: "auth"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py_0", "a.py_1"}, resultIDs(results))
	assert.Zero(t, f.rewriter.calls.Load())

	for _, r := range results {
		assert.Empty(t, r.ExpandedQueries)
		assert.Nil(t, r.Commit)
		assert.Empty(t, r.RelatedFiles)
	}
	assert.True(t, reranker.SortedByFinal(rankedOf(results)))
}

func TestSearchWithExpansion(t *testing.T) {
	f := newFixture(t, Options{})

	results, err := f.orch.Search(context.Background(), Request{Query: "auth", Expand: true})
	require.NoError(t, err)

	// a.py_0 is found by both queries but kept once
	assert.Equal(t, []string{"a.py_0", "c.py_0", "a.py_1"}, resultIDs(results))
	assert.Equal(t, int32(1), f.rewriter.calls.Load())
	for _, r := range results {
		assert.Equal(t, []string{"session"}, r.ExpandedQueries)
	}
	assert.InDelta(t, 0.7*0.9+0.3/1.1, results[0].FinalScore, 1e-6)
	assert.True(t, reranker.SortedByFinal(rankedOf(results)))
}

func TestSearchExpansionFailureFallsBack(t *testing.T) {
	f := newFixture(t, Options{})
	f.rewriter.err = &types.CapabilityError{Capability: "query_rewrite", Err: errors.New("timeout")}

	results, err := f.orch.Search(context.Background(), Request{Query: "auth", Expand: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py_0", "a.py_1"}, resultIDs(results))
	assert.Empty(t, results[0].ExpandedQueries)
}

func TestSearchExpansionWithoutRewriter(t *testing.T) {
	f := newFixture(t, Options{})
	f.orch.deps.Expander = nil

	results, err := f.orch.Search(context.Background(), Request{Query: "auth", Expand: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py_0", "a.py_1"}, resultIDs(results))
}

func TestSearchRetrievalFailureDiscardsEverything(t *testing.T) {
	f := newFixture(t, Options{})
	f.emb.failOn = "session"

	results, err := f.orch.Search(context.Background(), Request{Query: "auth", Expand: true})
	require.Error(t, err)
	assert.Nil(t, results)
	assert.ErrorIs(t, err, types.ErrCapabilityUnavailable)
}

func TestSearchCancelled(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.Search(ctx, Request{Query: "auth"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchTopKAndThreshold(t *testing.T) {
	f := newFixture(t, Options{})

	results, err := f.orch.Search(context.Background(), Request{Query: "auth", Expand: true, TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py_0"}, resultIDs(results))

	// b.py_0 is retrieved for the unknown query but scores under the threshold
	f.orch.opts.TopKRetrieval = 4
	results, err = f.orch.Search(context.Background(), Request{Query: "auth", TopK: 10})
	require.NoError(t, err)
	assert.NotContains(t, resultIDs(results), "b.py_0")
}

func TestSearchDiversify(t *testing.T) {
	f := newFixture(t, Options{MaxPerFile: 1})

	results, err := f.orch.Search(context.Background(), Request{Query: "auth", Expand: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py_0", "c.py_0"}, resultIDs(results))
}

func TestSearchEnsemble(t *testing.T) {
	f := newFixture(t, Options{Ensemble: true})

	results, err := f.orch.Search(context.Background(), Request{Query: "auth", Expand: true, TopK: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.py_0", results[0].Chunk.ID)
	assert.True(t, reranker.SortedByFinal(rankedOf(results)))
}

func TestSearchWithContext(t *testing.T) {
	f := newFixture(t, Options{})

	results, err := f.orch.Search(context.Background(), Request{Query: "auth", IncludeContext: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NotNil(t, r.Commit)
		assert.Equal(t, "abc1234", r.Commit.Hash)
		assert.Equal(t, []string{"b.py"}, r.RelatedFiles)
		require.Len(t, r.RelatedChunks, 1)
		assert.Equal(t, "b.py_0", r.RelatedChunks[0].Chunk.ID)
		assert.Equal(t, types.SourceRelated, r.RelatedChunks[0].Source)
	}

	f.orch.opts.Enrich = false
	results, err = f.orch.Search(context.Background(), Request{Query: "auth", IncludeContext: true, TopK: 1})
	require.NoError(t, err)
	assert.Nil(t, results[0].Commit)
}

func TestSearchCache(t *testing.T) {
	f := newFixture(t, Options{CacheSize: 8, CacheTTL: time.Minute})
	req := Request{Query: "auth", Expand: true}

	first, err := f.orch.Search(context.Background(), req)
	require.NoError(t, err)
	calls := f.scorer.calls.Load()
	assert.Equal(t, 1, f.orch.SystemInfo().CachedResponses)

	first[0].Chunk.Content = "mutated"
	first[0].ExpandedQueries[0] = "mutated"

	second, err := f.orch.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, calls, f.scorer.calls.Load(), "served from cache")
	assert.Equal(t, "login handler", second[0].Chunk.Content)
	assert.Equal(t, []string{"session"}, second[0].ExpandedQueries)
	assert.Equal(t, int32(1), f.rewriter.calls.Load())

	// a different request shape misses
	_, err = f.orch.Search(context.Background(), Request{Query: "auth"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.orch.SystemInfo().CachedResponses)
}

func TestSearchCacheExpires(t *testing.T) {
	f := newFixture(t, Options{CacheSize: 8, CacheTTL: time.Minute})
	now := time.Now()
	f.orch.cache.now = func() time.Time { return now }

	_, err := f.orch.Search(context.Background(), Request{Query: "auth"})
	require.NoError(t, err)
	calls := f.scorer.calls.Load()

	now = now.Add(2 * time.Minute)
	_, err = f.orch.Search(context.Background(), Request{Query: "auth"})
	require.NoError(t, err)
	assert.Greater(t, f.scorer.calls.Load(), calls)
}

func TestSafetyFallbackBuildsEmptyIndex(t *testing.T) {
	orch := New(Dependencies{Embedder: &fakeEmbedder{}}, Options{}, nil)

	results, err := orch.Search(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, results)

	info := orch.SystemInfo()
	assert.True(t, info.IndexLoaded)
	assert.Zero(t, info.ChunkCount)
}

func TestDedup(t *testing.T) {
	in := []types.RetrievalResult{
		{Chunk: types.Chunk{ID: "a"}, Score: 0.9},
		{Chunk: types.Chunk{ID: "b"}, Score: 0.8},
		{Chunk: types.Chunk{ID: "a"}, Score: 0.1},
		{Chunk: types.Chunk{ID: "c"}, Score: 0.5},
	}
	out := Dedup(in)
	require.Len(t, out, 3)
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, "b", out[1].Chunk.ID)
	assert.Equal(t, "c", out[2].Chunk.ID)

	assert.Equal(t, out, Dedup(out))
	assert.Empty(t, Dedup(nil))
}

func TestSystemInfo(t *testing.T) {
	f := newFixture(t, Options{RepoPath: "/repo", IndexPath: "/idx"})
	info := f.orch.SystemInfo()

	assert.True(t, info.IndexLoaded)
	assert.Equal(t, 4, info.ChunkCount)
	assert.Equal(t, 2, info.Dimension)
	assert.NotEmpty(t, info.BuildID)
	assert.True(t, info.VersionControlAvailable)
	assert.Equal(t, "/repo", info.RepoPath)
	assert.Equal(t, "/idx", info.IndexPath)
	assert.Equal(t, "fake", info.EmbeddingProvider)
	assert.Equal(t, "table", info.RerankerModel)
	assert.Equal(t, "stub", info.ExpansionModel)
	assert.False(t, info.BuildInProgress)
}

func TestImpactAnalysis(t *testing.T) {
	f := newFixture(t, Options{})

	a, err := f.orch.ImpactAnalysis(context.Background(), "a.py_0")
	require.NoError(t, err)
	assert.Equal(t, "alice", a.LastModifiedBy)
	assert.Equal(t, 1, a.CommitCount)
	assert.Equal(t, 1, a.RelatedFilesCount)

	_, err = f.orch.ImpactAnalysis(context.Background(), "nope.py_0")
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func rankedOf(results []types.ContextualResult) []types.RankedResult {
	out := make([]types.RankedResult, len(results))
	for i, r := range results {
		out[i] = r.RankedResult
	}
	return out
}

// Lifecycle tests run the real ingestion pipeline over a small repository

const authSource = `def authenticate_user(username, password):
    return check_password(username, password)


def logout(session):
    session.clear()
`

const dbSource = `def connect(url):
    return Connection(url)
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newRepoOrchestrator(t *testing.T, repo, indexDir string) *Orchestrator {
	t.Helper()
	ch, err := chunker.New(chunker.Config{}, nil, nil)
	require.NoError(t, err)

	emb := embedder.NewLocalProvider(64, nil)
	return New(Dependencies{
		Embedder: emb,
		Index:    vectorindex.New(emb, nil),
		Indexer:  indexer.New(ch, nil),
	}, Options{
		RepoPath:  repo,
		IndexPath: indexDir,
		Ingest:    &indexer.Config{IncludeExtensions: []string{".py"}},
		CacheSize: 4,
		CacheTTL:  time.Minute,
	}, nil)
}

func filesOf(chunks []types.RetrievalResult) []string {
	var out []string
	for _, r := range chunks {
		out = append(out, r.Chunk.FilePath)
	}
	return out
}

func TestBuildLoadUpdate(t *testing.T) {
	repo := t.TempDir()
	indexDir := filepath.Join(t.TempDir(), "index")
	writeFile(t, filepath.Join(repo, "auth.py"), authSource)
	writeFile(t, filepath.Join(repo, "db.py"), dbSource)
	writeFile(t, filepath.Join(repo, "README.md"), "# notes\n")

	orch := newRepoOrchestrator(t, repo, indexDir)

	_, err := orch.KeywordSearch(context.Background(), "connect", 5)
	assert.ErrorIs(t, err, types.ErrIndexNotBuilt)

	report, err := orch.BuildIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.FilesIndexed)
	assert.Positive(t, report.Chunks)
	assert.NotEmpty(t, report.BuildID)
	assert.True(t, vectorindex.Exists(indexDir))

	artifacts, err := orch.Artifacts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.Chunks, artifacts.ChunkCount)
	assert.True(t, artifacts.Consistent())

	hits, err := orch.KeywordSearch(context.Background(), "authenticate", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "auth.py", hits[0].Chunk.FilePath)
	assert.Equal(t, "authenticate_user", hits[0].Chunk.FunctionName)

	results, err := orch.Search(context.Background(), Request{Query: "authenticate user password", TopK: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 3)

	// A fresh orchestrator loads the persisted index
	reloaded := newRepoOrchestrator(t, repo, indexDir)
	require.NoError(t, reloaded.LoadIndex(context.Background()))
	assert.Equal(t, report.Chunks, reloaded.SystemInfo().ChunkCount)
	assert.Equal(t, report.BuildID, reloaded.SystemInfo().BuildID)

	// Update: db.py removed, auth.py gains a function
	require.NoError(t, os.Remove(filepath.Join(repo, "db.py")))
	writeFile(t, filepath.Join(repo, "auth.py"), authSource+"\n\ndef refresh_token(token):\n    return token\n")

	_, err = orch.Search(context.Background(), Request{Query: "connect"})
	require.NoError(t, err)

	updated, err := orch.UpdateIndex(context.Background(), []string{"auth.py", filepath.Join(repo, "db.py")})
	require.NoError(t, err)
	assert.Equal(t, report.BuildID, updated.BuildID)
	assert.Equal(t, 0, orch.SystemInfo().CachedResponses)
	assert.Empty(t, orch.deps.Index.ChunksForFile("db.py"))

	hits, err = orch.KeywordSearch(context.Background(), "connect", 5)
	require.NoError(t, err)
	assert.NotContains(t, filesOf(hits), "db.py")

	hits, err = orch.KeywordSearch(context.Background(), "refresh token", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "refresh_token", hits[0].Chunk.FunctionName)

	// The update was persisted
	again := newRepoOrchestrator(t, repo, indexDir)
	require.NoError(t, again.LoadIndex(context.Background()))
	assert.Equal(t, orch.SystemInfo().ChunkCount, again.SystemInfo().ChunkCount)
}

func TestLoadIndexMissing(t *testing.T) {
	orch := newRepoOrchestrator(t, t.TempDir(), filepath.Join(t.TempDir(), "none"))
	err := orch.LoadIndex(context.Background())
	assert.ErrorIs(t, err, types.ErrIndexNotBuilt)
	assert.False(t, orch.SystemInfo().IndexLoaded)

	_, err = orch.Artifacts(context.Background())
	assert.ErrorIs(t, err, types.ErrIndexNotBuilt)
}

func TestBuildInProgress(t *testing.T) {
	orch := newRepoOrchestrator(t, t.TempDir(), filepath.Join(t.TempDir(), "index"))
	require.True(t, orch.lock.TryAcquire())
	defer orch.lock.Release()

	_, err := orch.BuildIndex(context.Background())
	assert.ErrorIs(t, err, ErrBuildInProgress)
	_, err = orch.UpdateIndex(context.Background(), []string{"a.py"})
	assert.ErrorIs(t, err, ErrBuildInProgress)
	assert.True(t, orch.SystemInfo().BuildInProgress)
}

func TestUpdateIndexRejectsOutsidePaths(t *testing.T) {
	parent := t.TempDir()
	repo := filepath.Join(parent, "repo")
	writeFile(t, filepath.Join(repo, "a.py"), "def inside():\n    return 1\n")
	writeFile(t, filepath.Join(parent, "secret.py"), "def leaked_secret():\n    return 2\n")

	orch := newRepoOrchestrator(t, repo, filepath.Join(t.TempDir(), "index"))
	ctx := context.Background()
	_, err := orch.BuildIndex(ctx)
	require.NoError(t, err)
	before := orch.SystemInfo().ChunkCount

	for _, p := range []string{"/etc/passwd", "../secret.py", "sub/../../secret.py", filepath.Join(parent, "secret.py")} {
		_, err := orch.UpdateIndex(ctx, []string{p})
		require.Error(t, err, p)
		assert.True(t, strings.Contains(err.Error(), "outside"), p)
	}
	assert.Equal(t, before, orch.SystemInfo().ChunkCount)

	hits, err := orch.KeywordSearch(ctx, "leaked_secret", 5)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "../secret.py", h.Chunk.FilePath)
	}
}

func TestExplain(t *testing.T) {
	f := newFixture(t, Options{})

	exp, err := f.orch.Explain(context.Background(), "login handler", testChunk("a.py", 0, "login handler"))
	require.NoError(t, err)
	assert.InDelta(t, 0.9, exp.Score, 1e-9)
	assert.Equal(t, []string{"handler", "login"}, exp.MatchedTerms)
	assert.InDelta(t, 1.0, exp.TermCoverage, 1e-9)
	assert.Contains(t, exp.Summary, "High relevance")
}

func TestNewExpanderDisabled(t *testing.T) {
	cfg := config.Default()
	_, err := NewExpander(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, expander.ErrDisabled)

	cfg.Expansion.Enabled = true
	cfg.Expansion.Provider = "none"
	_, err = NewExpander(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, expander.ErrDisabled)

	cfg.Expansion.Provider = "openai"
	cfg.Expansion.Model = "gpt-4o-mini"
	cfg.Expansion.APIKey = "sk-test"
	exp, err := NewExpander(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", exp.Model())
}

// gatedEmbedder blocks query embeddings of gated until release is closed
type gatedEmbedder struct {
	*fakeEmbedder
	gated   string
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if g.armed.Load() && req.Text == g.gated {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.fakeEmbedder.GenerateEmbedding(ctx, req)
}

func TestSearchDuringRebuildIsNotCached(t *testing.T) {
	emb := &gatedEmbedder{
		fakeEmbedder: &fakeEmbedder{vectors: map[string][]float32{
			"q":        {1, 0},
			"old code": {1, 0},
			"new code": {1, 0},
		}},
		gated:   "q",
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	scorer := &tableScorer{scores: map[string]float64{"old code": 0.9, "new code": 0.9}}

	ctx := context.Background()
	idx := vectorindex.New(emb, nil)
	require.NoError(t, idx.Build(ctx, []types.Chunk{testChunk("old.py", 0, "old code")}, 2))

	orch := New(Dependencies{
		Embedder: emb,
		Index:    idx,
		Reranker: reranker.New(scorer, 8, nil),
	}, Options{Threshold: 0.5, CacheSize: 4, CacheTTL: time.Minute}, nil)

	emb.armed.Store(true)
	type outcome struct {
		results []types.ContextualResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := orch.Search(ctx, Request{Query: "q"})
		done <- outcome{results, err}
	}()

	<-emb.entered
	require.NoError(t, idx.Build(ctx, []types.Chunk{testChunk("new.py", 0, "new code")}, 2))
	orch.invalidate()
	close(emb.release)

	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, []string{"old.py_0"}, resultIDs(first.results))
	assert.Equal(t, 0, orch.SystemInfo().CachedResponses)

	emb.armed.Store(false)
	again, err := orch.Search(ctx, Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"new.py_0"}, resultIDs(again))
}

func TestKeywordRetrieverDroppedAfterInvalidate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	gen := f.orch.generation()
	stale := keyword.NewRetriever(nil)
	f.orch.invalidate()
	assert.False(t, f.orch.publish(gen, func() { f.orch.kw.Store(stale) }))
	assert.Nil(t, f.orch.kw.Load())

	hits, err := f.orch.KeywordSearch(ctx, "login", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a.py_0", hits[0].Chunk.ID)
	assert.NotNil(t, f.orch.kw.Load())
}
