package reranker

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Explanation describes why a text scored the way it did for a query
type Explanation struct {
	Score        float64  `json:"score"`
	TermCoverage float64  `json:"term_coverage"`
	MatchedTerms []string `json:"matched_terms"`
	Summary      string   `json:"explanation"`
}

// Explain scores one pair and reports which query words appear in text
func (r *Reranker) Explain(ctx context.Context, query, text string) (Explanation, error) {
	scores, err := r.scorer.ScoreBatch(ctx, query, []string{truncate(text, MaxTextChars)})
	if err != nil {
		return Explanation{}, err
	}
	if len(scores) != 1 {
		return Explanation{}, errBatchLength(len(scores), 1)
	}

	terms := make(map[string]bool)
	for _, t := range lowerFields(query) {
		terms[t] = true
	}
	lower := strings.ToLower(text)
	var matched []string
	for t := range terms {
		if strings.Contains(lower, t) {
			matched = append(matched, t)
		}
	}
	sort.Strings(matched)

	coverage := 0.0
	if len(terms) > 0 {
		coverage = float64(len(matched)) / float64(len(terms))
	}

	return Explanation{
		Score:        scores[0],
		TermCoverage: coverage,
		MatchedTerms: matched,
		Summary:      summarize(scores[0], len(matched)),
	}, nil
}

func summarize(score float64, matched int) string {
	switch {
	case score < 0.3:
		return "Low relevance - minimal match to query terms"
	case score < 0.6:
		return fmt.Sprintf("Moderate relevance - matched %d query terms", matched)
	default:
		return fmt.Sprintf("High relevance - matched %d query terms comprehensively", matched)
	}
}
