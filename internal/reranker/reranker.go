package reranker

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/internal/observability"
	"github.com/dshills/coderag/pkg/types"
)

const (
	// DefaultBatchSize is the number of pairs sent to the scorer per call
	DefaultBatchSize = 32

	// MaxTextChars bounds each chunk's text in a scoring pair
	MaxTextChars = 512

	// DefaultThreshold is the minimum pairwise score kept by the orchestrator
	DefaultThreshold = 0.5

	// PairwiseWeight and PriorWeight blend the two scores into FinalScore
	PairwiseWeight = 0.7
	PriorWeight    = 0.3

	maxConcurrentBatches = 4
)

// Scorer assigns a relevance score to each (query, text) pair. Scores[i] belongs to texts[i].
type Scorer interface {
	ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error)
	Model() string
}

// Reranker reorders retrieval results by pairwise relevance
type Reranker struct {
	scorer    Scorer
	batchSize int
	logger    *slog.Logger
}

// New creates a Reranker. A non-positive batchSize uses DefaultBatchSize.
func New(scorer Scorer, batchSize int, logger *slog.Logger) *Reranker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Reranker{
		scorer:    scorer,
		batchSize: batchSize,
		logger:    logging.OrDefault(logger),
	}
}

// Model returns the underlying scorer's model name
func (r *Reranker) Model() string {
	return r.scorer.Model()
}

// Fuse blends a pairwise score with the retrieval score
func Fuse(pairwise, prior float64) float64 {
	return PairwiseWeight*pairwise + PriorWeight*prior
}

// Rerank scores every result against query, sorts by pairwise score and keeps
// results until the first one scoring below threshold or until topK are kept.
// The kept results are returned ordered by FinalScore descending.
// A batch the scorer fails on keeps its items' retrieval scores as pairwise scores.
func (r *Reranker) Rerank(ctx context.Context, query string, results []types.RetrievalResult, topK int, threshold float64) []types.RankedResult {
	if len(results) == 0 || topK <= 0 {
		return []types.RankedResult{}
	}

	ctx, span := observability.StartStageSpan(ctx, observability.StageRerank)
	defer span.End()

	scores := r.score(ctx, query, results)

	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	ranked := make([]types.RankedResult, 0, min(topK, len(results)))
	for _, i := range order {
		if scores[i] < threshold {
			break
		}
		ranked = append(ranked, types.RankedResult{
			RetrievalResult: results[i],
			RerankerScore:   scores[i],
			FinalScore:      Fuse(scores[i], results[i].Score),
		})
		if len(ranked) >= topK {
			break
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].FinalScore > ranked[b].FinalScore })

	observability.RecordResultCount(span, len(ranked))
	return ranked
}

// score runs the scorer over results in concurrent batches; scores are written
// by index so they align with results regardless of completion order
func (r *Reranker) score(ctx context.Context, query string, results []types.RetrievalResult) []float64 {
	scores := make([]float64, len(results))

	var g errgroup.Group
	g.SetLimit(maxConcurrentBatches)
	for start := 0; start < len(results); start += r.batchSize {
		end := min(start+r.batchSize, len(results))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = truncate(results[start+i].Chunk.Content, MaxTextChars)
			}

			batch, err := r.scorer.ScoreBatch(ctx, query, texts)
			if err == nil && len(batch) != len(texts) {
				err = errBatchLength(len(batch), len(texts))
			}
			if err != nil {
				r.logger.Warn("rerank batch failed, keeping retrieval scores",
					slog.Int("offset", start),
					slog.Int("size", len(texts)),
					slog.String("error", err.Error()))
				for i := start; i < end; i++ {
					scores[i] = results[i].Score
				}
				return nil
			}
			copy(scores[start:end], batch)
			return nil
		})
	}
	_ = g.Wait()

	return scores
}

// Diversify keeps at most maxPerFile results per file, preserving order.
// A non-positive maxPerFile disables the filter.
func Diversify(ranked []types.RankedResult, maxPerFile int) []types.RankedResult {
	out := make([]types.RankedResult, 0, len(ranked))
	if maxPerFile <= 0 {
		return append(out, ranked...)
	}

	perFile := make(map[string]int)
	for _, r := range ranked {
		perFile[r.Chunk.FilePath]++
		if perFile[r.Chunk.FilePath] <= maxPerFile {
			out = append(out, r)
		}
	}
	return out
}

// Weights for Ensemble. Metadata is a flat bonus for chunks that carry metadata.
type Weights struct {
	Pairwise float64
	Prior    float64
	Metadata float64
}

// DefaultWeights returns 0.6 pairwise, 0.3 retrieval, 0.1 metadata bonus
func DefaultWeights() Weights {
	return Weights{Pairwise: 0.6, Prior: 0.3, Metadata: 0.1}
}

// Ensemble reranks 2*topK candidates with a zero threshold, rescores them with
// w and returns the best topK by the new final score
func (r *Reranker) Ensemble(ctx context.Context, query string, results []types.RetrievalResult, topK int, w Weights) []types.RankedResult {
	base := r.Rerank(ctx, query, results, 2*topK, 0)

	for i := range base {
		final := w.Pairwise*base[i].RerankerScore + w.Prior*base[i].Score
		if base[i].Chunk.HasMetadata() {
			final += w.Metadata
		}
		base[i].FinalScore = final
	}

	sort.SliceStable(base, func(a, b int) bool { return base[a].FinalScore > base[b].FinalScore })
	if len(base) > topK {
		base = base[:topK]
	}
	return base
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// SortedByFinal reports whether ranked is ordered by FinalScore descending
func SortedByFinal(ranked []types.RankedResult) bool {
	return sort.SliceIsSorted(ranked, func(a, b int) bool { return ranked[a].FinalScore > ranked[b].FinalScore })
}

func lowerFields(s string) []string {
	return strings.Fields(strings.ToLower(s))
}
