package expander

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/internal/observability"
	"github.com/dshills/coderag/pkg/types"
)

// CapabilityName identifies query rewriting in CapabilityError
const CapabilityName = "query_rewrite"

const (
	DefaultCount   = 3
	strategyCount  = 3
	minQueryLength = 4
	systemPrompt   = `You are an expert at understanding code search queries.
Your task is to expand a user's search query into multiple alternative queries that would
help find relevant code. Generate queries that explore different aspects and phrasings.`
)

// Expansion strategies
const (
	StrategySynonyms       = "synonym_expansion"
	StrategyRelated        = "related_concepts"
	StrategyImplementation = "implementation_patterns"
	StrategyErrorHandling  = "error_handling"
	StrategyPerformance    = "performance_optimization"
)

var strategyPrompts = map[string]string{
	StrategySynonyms:       "Generate queries using different terminology and synonyms.",
	StrategyRelated:        "Generate queries for related concepts and variations.",
	StrategyImplementation: "Generate queries for common implementation patterns.",
	StrategyErrorHandling:  "Generate queries for error handling and edge cases.",
	StrategyPerformance:    "Generate queries for performance and optimization aspects.",
}

// Strategies lists the strategies ExpandWithStrategy understands
func Strategies() []string {
	return []string{StrategySynonyms, StrategyRelated, StrategyImplementation, StrategyErrorHandling, StrategyPerformance}
}

// Completer sends one system+user prompt pair to a language model and
// returns the raw text of the reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Model() string
}

// Rewriter produces alternative phrasings of a query
type Rewriter interface {
	Rewrite(ctx context.Context, query string, count int, codebaseContext string) (types.QueryExpansionResult, error)
}

// LLMExpander implements Rewriter over a Completer
type LLMExpander struct {
	completer Completer
	logger    *slog.Logger
}

// New creates an LLMExpander
func New(c Completer, logger *slog.Logger) *LLMExpander {
	return &LLMExpander{completer: c, logger: logging.OrDefault(logger)}
}

// Model returns the underlying model name
func (e *LLMExpander) Model() string {
	return e.completer.Model()
}

// Rewrite asks the model for count alternatives. The reply is parsed line by
// line and truncated to count; the raw reply becomes the rationale.
func (e *LLMExpander) Rewrite(ctx context.Context, query string, count int, codebaseContext string) (types.QueryExpansionResult, error) {
	result := types.QueryExpansionResult{Original: query}
	if count <= 0 {
		return result, nil
	}

	ctx, span := observability.StartCapabilitySpan(ctx, CapabilityName, "llm", e.completer.Model())
	defer span.End()

	reply, err := e.completer.Complete(ctx, systemPrompt, buildPrompt(query, count, codebaseContext))
	if err != nil {
		observability.RecordError(span, err)
		return result, &types.CapabilityError{Capability: CapabilityName, Err: err}
	}

	alternatives := ParseQueries(reply)
	if len(alternatives) > count {
		alternatives = alternatives[:count]
	}
	result.Alternatives = alternatives
	result.Rationale = reply

	e.logger.Debug("query expanded",
		slog.String("query", query),
		slog.Int("alternatives", len(alternatives)))

	return result, nil
}

// ExpandWithStrategy asks for alternatives focused on one aspect. Unknown
// strategies fall back to related concepts.
func (e *LLMExpander) ExpandWithStrategy(ctx context.Context, query, strategy string) ([]string, error) {
	instruction, ok := strategyPrompts[strategy]
	if !ok {
		instruction = strategyPrompts[StrategyRelated]
	}
	prompt := fmt.Sprintf("Query: %s\n\n%s\n\nGenerate %d alternative queries based on this strategy.", query, instruction, strategyCount)

	reply, err := e.completer.Complete(ctx, "", prompt)
	if err != nil {
		return nil, &types.CapabilityError{Capability: CapabilityName, Err: err}
	}
	return ParseQueries(reply), nil
}

func buildPrompt(query string, count int, codebaseContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Given the following code search query, generate %d alternative queries that would help find related code.\n", count)
	b.WriteString("Each query should explore different aspects, use different terminology, or approach the search from a different angle.\n\n")
	fmt.Fprintf(&b, "Original Query: %s", query)
	if codebaseContext != "" {
		fmt.Fprintf(&b, "\nContext: %s", codebaseContext)
	}
	fmt.Fprintf(&b, "\n\nPlease provide exactly %d alternative queries, one per line, without numbering or prefixes.\n", count)
	b.WriteString("Focus on queries that would be useful for code search and retrieval.")
	return b.String()
}

var (
	bulletPrefixes = []string{"- ", "* ", "• ", ") ", "] ", "]: "}
	numberPrefix   = regexp.MustCompile(`^\d+[.)]\s*`)
)

// ParseQueries extracts one query per line, removing bullets and numbering.
// Lines of three characters or fewer are dropped.
func ParseQueries(reply string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		cleaned := strings.TrimSpace(line)
		for _, p := range bulletPrefixes {
			if strings.HasPrefix(cleaned, p) {
				cleaned = strings.TrimSpace(cleaned[len(p):])
			}
		}
		cleaned = numberPrefix.ReplaceAllString(cleaned, "")
		if len(cleaned) >= minQueryLength {
			out = append(out, cleaned)
		}
	}
	return out
}

// Hybrid combines several strategies
type Hybrid struct {
	expander *LLMExpander
	logger   *slog.Logger
}

// NewHybrid wraps an expander
func NewHybrid(e *LLMExpander) *Hybrid {
	return &Hybrid{expander: e, logger: e.logger}
}

// ExpandComprehensively runs each strategy and returns the original query
// followed by every distinct alternative in discovery order. A failing
// strategy is logged and skipped. Nil strategies selects related concepts,
// implementation patterns and synonyms.
func (h *Hybrid) ExpandComprehensively(ctx context.Context, query string, strategies []string) []string {
	if strategies == nil {
		strategies = []string{StrategyRelated, StrategyImplementation, StrategySynonyms}
	}

	seen := map[string]bool{query: true}
	out := []string{query}
	for _, s := range strategies {
		if ctx.Err() != nil {
			break
		}
		queries, err := h.expander.ExpandWithStrategy(ctx, query, s)
		if err != nil {
			h.logger.Warn("expansion strategy failed", slog.String("strategy", s), slog.String("error", err.Error()))
			continue
		}
		for _, q := range queries {
			if !seen[q] {
				seen[q] = true
				out = append(out, q)
			}
		}
	}
	return out
}

// RankQueries orders queries with the original first, then by how close
// their word count is to the original's. Equal distances keep input order.
func RankQueries(queries []string, original string) []string {
	target := len(strings.Fields(original))
	out := make([]string, len(queries))
	copy(out, queries)

	distance := func(q string) int {
		if q == original {
			return -1
		}
		d := len(strings.Fields(q)) - target
		if d < 0 {
			d = -d
		}
		return d
	}
	sort.SliceStable(out, func(i, j int) bool { return distance(out[i]) < distance(out[j]) })
	return out
}
