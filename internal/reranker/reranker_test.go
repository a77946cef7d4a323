package reranker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag/pkg/types"
)

// mapScorer scores a text by the number in its content ("s=0.9")
type mapScorer struct {
	mu      sync.Mutex
	calls   int
	failOn  int // 1-based batch call to fail; 0 never fails
	batches [][]string
}

func (m *mapScorer) Model() string { return "map" }

func (m *mapScorer) ScoreBatch(_ context.Context, _ string, texts []string) ([]float64, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.batches = append(m.batches, texts)
	m.mu.Unlock()

	if m.failOn > 0 && call == m.failOn {
		return nil, errors.New("scorer down")
	}
	out := make([]float64, len(texts))
	for i, t := range texts {
		_, err := fmt.Sscanf(t, "s=%g", &out[i])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func result(id, file string, pairwise, prior float64) types.RetrievalResult {
	return types.RetrievalResult{
		Chunk:  types.Chunk{ID: id, FilePath: file, Content: fmt.Sprintf("s=%g", pairwise)},
		Score:  prior,
		Source: types.SourceSemantic,
	}
}

func rankedIDs(ranked []types.RankedResult) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestRerankThresholdBoundary(t *testing.T) {
	r := New(&mapScorer{}, 0, nil)
	results := []types.RetrievalResult{
		result("a", "f.go", 0.9, 0.5),
		result("b", "f.go", 0.7, 0.5),
		result("c", "f.go", 0.4, 0.5),
		result("d", "f.go", 0.2, 0.5),
	}

	ranked := r.Rerank(context.Background(), "q", results, 10, 0.5)
	require.Len(t, ranked, 2)
	assert.Equal(t, []string{"a", "b"}, rankedIDs(ranked))
	assert.InDelta(t, 0.7*0.9+0.3*0.5, ranked[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.9, ranked[0].RerankerScore, 1e-9)
}

func TestRerankSortsByPairwiseAndStopsAtTopK(t *testing.T) {
	r := New(&mapScorer{}, 2, nil)
	results := []types.RetrievalResult{
		result("low", "a.go", 0.1, 0.9),
		result("high", "b.go", 0.95, 0.1),
		result("mid", "c.go", 0.6, 0.2),
		result("top", "d.go", 0.99, 0.8),
	}

	ranked := r.Rerank(context.Background(), "q", results, 3, 0)
	assert.Equal(t, []string{"top", "high", "mid"}, rankedIDs(ranked))
	assert.True(t, SortedByFinal(ranked))
}

func TestRerankOutputSortedByFinal(t *testing.T) {
	r := New(&mapScorer{}, 0, nil)
	// Pairwise order a > b, but b's prior pushes its final score above a's
	results := []types.RetrievalResult{
		result("a", "a.go", 0.80, 0.0),
		result("b", "b.go", 0.79, 1.0),
	}

	ranked := r.Rerank(context.Background(), "q", results, 2, 0)
	assert.Equal(t, []string{"b", "a"}, rankedIDs(ranked))
	assert.True(t, SortedByFinal(ranked))
}

func TestRerankBatchesPreserveOrder(t *testing.T) {
	scorer := &mapScorer{}
	r := New(scorer, 3, nil)

	var results []types.RetrievalResult
	for i := 0; i < 10; i++ {
		results = append(results, result(fmt.Sprintf("r%d", i), "f.go", float64(i)/10, 0))
	}

	ranked := r.Rerank(context.Background(), "q", results, 10, 0)
	require.Len(t, ranked, 10)
	assert.Equal(t, "r9", ranked[0].Chunk.ID)
	assert.Equal(t, "r0", ranked[9].Chunk.ID)
	assert.Equal(t, 4, scorer.calls)
}

func TestRerankBatchFailureFallsBackToPrior(t *testing.T) {
	scorer := &mapScorer{failOn: 1}
	r := New(scorer, 1, nil)
	// With batch size 1 the first call fails; whichever result it was keeps its prior
	results := []types.RetrievalResult{
		result("a", "a.go", 0.9, 0.3),
		result("b", "b.go", 0.8, 0.3),
	}

	ranked := r.Rerank(context.Background(), "q", results, 5, 0)
	require.Len(t, ranked, 2)
	var fallback int
	for _, rr := range ranked {
		if rr.RerankerScore == 0.3 {
			fallback++
		}
	}
	assert.Equal(t, 1, fallback)
}

func TestRerankEmpty(t *testing.T) {
	r := New(&mapScorer{}, 0, nil)
	assert.Empty(t, r.Rerank(context.Background(), "q", nil, 5, 0))
	assert.Empty(t, r.Rerank(context.Background(), "q", []types.RetrievalResult{result("a", "a.go", 1, 1)}, 0, 0))
}

func TestRerankTruncatesText(t *testing.T) {
	scorer := &mapScorer{}
	r := New(scorer, 0, nil)
	long := result("a", "a.go", 0.5, 0)
	long.Chunk.Content += strings.Repeat("x", 2000)

	r.Rerank(context.Background(), "q", []types.RetrievalResult{long}, 1, 0)
	require.Len(t, scorer.batches, 1)
	assert.Len(t, scorer.batches[0][0], MaxTextChars)
}

func TestFuseMonotone(t *testing.T) {
	for _, prior := range []float64{0, 0.25, 0.5, 1} {
		prev := Fuse(0, prior)
		for p := 0.05; p <= 1.0; p += 0.05 {
			cur := Fuse(p, prior)
			assert.GreaterOrEqual(t, cur, prev)
			prev = cur
		}
	}
	assert.InDelta(t, 0.7*0.8+0.3*0.4, Fuse(0.8, 0.4), 1e-12)
}

func TestDiversifyCap(t *testing.T) {
	var ranked []types.RankedResult
	for i := 0; i < 5; i++ {
		ranked = append(ranked, types.RankedResult{
			RetrievalResult: result(fmt.Sprintf("a%d", i), "A.go", 0, 0),
			FinalScore:      1 - float64(i)/10,
		})
	}

	out := Diversify(ranked, 2)
	assert.Equal(t, []string{"a0", "a1"}, rankedIDs(out))
}

func TestDiversifyPreservesOrder(t *testing.T) {
	files := []string{"a.go", "b.go", "a.go", "c.go", "a.go", "b.go", "b.go"}
	var ranked []types.RankedResult
	for i, f := range files {
		ranked = append(ranked, types.RankedResult{RetrievalResult: result(fmt.Sprintf("r%d", i), f, 0, 0)})
	}

	out := Diversify(ranked, 2)
	assert.Equal(t, []string{"r0", "r1", "r2", "r3", "r5"}, rankedIDs(out))

	assert.Len(t, Diversify(ranked, 0), len(ranked))
}

func TestEnsemble(t *testing.T) {
	scorer := &mapScorer{}
	r := New(scorer, 0, nil)

	withMeta := result("meta", "m.go", 0.5, 0.5)
	withMeta.Chunk.Metadata = map[string]string{types.MetaChunkingMethod: types.MethodStructural}
	results := []types.RetrievalResult{
		result("plain", "p.go", 0.6, 0.5),
		withMeta,
		result("weak", "w.go", 0.1, 0.1),
		result("neg", "n.go", -0.5, 0.9),
	}

	ranked := r.Ensemble(context.Background(), "q", results, 2, DefaultWeights())
	require.Len(t, ranked, 2)
	// meta: 0.6*0.5 + 0.3*0.5 + 0.1 = 0.55; plain: 0.6*0.6 + 0.3*0.5 = 0.51
	assert.Equal(t, []string{"meta", "plain"}, rankedIDs(ranked))
	assert.InDelta(t, 0.55, ranked[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.51, ranked[1].FinalScore, 1e-9)
	assert.True(t, SortedByFinal(ranked))
}

func TestEnsembleRequestsDoubleCandidates(t *testing.T) {
	r := New(&mapScorer{}, 0, nil)
	var results []types.RetrievalResult
	for i := 0; i < 10; i++ {
		results = append(results, result(fmt.Sprintf("r%d", i), "f.go", 0.9-float64(i)*0.05, 0))
	}
	// The last candidate of the 2*topK window wins on metadata
	results[3].Chunk.Metadata = map[string]string{"k": "v"}

	ranked := r.Ensemble(context.Background(), "q", results, 2, Weights{Pairwise: 0.6, Prior: 0.3, Metadata: 1})
	require.Len(t, ranked, 2)
	assert.Equal(t, "r3", ranked[0].Chunk.ID)
}

func TestLexicalScorer(t *testing.T) {
	scores, err := LexicalScorer{}.ScoreBatch(context.Background(), "how does user authentication work", []string{
		"func authenticateUser(user *User) error",
		"func authenticate() {}",
		"func render() {}",
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores[0], 1e-9)
	assert.InDelta(t, 0.5, scores[1], 1e-9)
	assert.InDelta(t, 0.0, scores[2], 1e-9)

	scores, err = LexicalScorer{}.ScoreBatch(context.Background(), "how does it work", []string{"anything"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, scores)
}

func TestNewScorerDefaultsToLexical(t *testing.T) {
	t.Setenv("JINA_API_KEY", "")
	s, err := NewScorer(Config{})
	require.NoError(t, err)
	assert.Equal(t, lexicalModel, s.Model())

	_, err = NewScorer(Config{Provider: "bogus"})
	assert.Error(t, err)

	_, err = NewScorer(Config{Provider: ProviderJina})
	assert.ErrorIs(t, err, ErrNoScorer)
}

func TestExplain(t *testing.T) {
	r := New(&mapScorer{}, 0, nil)

	exp, err := r.Explain(context.Background(), "s=0.7 missing", "s=0.7 body")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, exp.Score, 1e-9)
	assert.Equal(t, []string{"s=0.7"}, exp.MatchedTerms)
	assert.InDelta(t, 0.5, exp.TermCoverage, 1e-9)
	assert.Contains(t, exp.Summary, "High relevance")

	exp, err = r.Explain(context.Background(), "x", "s=0.1")
	require.NoError(t, err)
	assert.Contains(t, exp.Summary, "Low relevance")
}
