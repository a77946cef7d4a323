package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/keyword"
)

const (
	ProviderJina    = "jina"
	ProviderLexical = "lexical"

	DefaultJinaModel = "jina-reranker-v2-base-multilingual"
	DefaultJinaURL   = "https://api.jina.ai/v1/rerank"

	lexicalModel = "lexical-coverage"
)

// ErrNoScorer is returned when a provider needs an API key that is not set
var ErrNoScorer = errors.New("no rerank provider configured")

func errBatchLength(got, want int) error {
	return fmt.Errorf("scorer returned %d scores for %d texts", got, want)
}

// Config selects and configures a Scorer
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// NewScorer builds the configured scorer. An empty provider picks Jina when a
// key is available and the lexical scorer otherwise.
func NewScorer(cfg Config) (Scorer, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderLexical
		if cfg.APIKey != "" || os.Getenv(embedder.EnvJinaAPIKey) != "" {
			provider = ProviderJina
		}
	}

	switch provider {
	case ProviderJina:
		return NewJinaScorer(cfg)
	case ProviderLexical:
		return LexicalScorer{}, nil
	default:
		return nil, fmt.Errorf("unknown rerank provider %q", cfg.Provider)
	}
}

// JinaScorer calls a Jina-compatible /rerank endpoint
type JinaScorer struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	retry      embedder.RetryConfig
}

// NewJinaScorer creates a scorer backed by the Jina rerank API
func NewJinaScorer(cfg Config) (*JinaScorer, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(embedder.EnvJinaAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoScorer, embedder.EnvJinaAPIKey)
	}
	s := &JinaScorer{
		apiKey:     apiKey,
		model:      DefaultJinaModel,
		endpoint:   DefaultJinaURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      embedder.DefaultRetryConfig(),
	}
	if cfg.Model != "" {
		s.model = cfg.Model
	}
	if cfg.BaseURL != "" {
		s.endpoint = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		s.httpClient.Timeout = cfg.Timeout
	}
	return s, nil
}

func (s *JinaScorer) Model() string {
	return s.model
}

// ScoreBatch returns one relevance score per text, retrying transient failures
func (s *JinaScorer) ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}
	return embedder.RetryWithBackoff(ctx, s.retry, func() ([]float64, error) {
		return s.callAPI(ctx, query, texts)
	})
}

func (s *JinaScorer) callAPI(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":            s.model,
		"query":            query,
		"documents":        texts,
		"top_n":            len(texts),
		"return_documents": false,
	})
	if err != nil {
		return nil, embedder.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, embedder.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, embedder.Permanent(apiErr)
		}
		return nil, apiErr
	}

	var apiResp struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Results come back sorted by relevance; index maps them to the request
	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, r := range apiResp.Results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, embedder.Permanent(fmt.Errorf("result index %d out of range", r.Index))
		}
		scores[r.Index] = r.RelevanceScore
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, embedder.Permanent(fmt.Errorf("no score for document %d", i))
		}
	}
	return scores, nil
}

// LexicalScorer scores a pair by the fraction of the query's content-word
// stems that occur in the text. Scores lie in [0, 1].
type LexicalScorer struct{}

func (LexicalScorer) Model() string {
	return lexicalModel
}

func (LexicalScorer) ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	terms := queryStems(query)
	scores := make([]float64, len(texts))
	if len(terms) == 0 {
		return scores, nil
	}
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		present := make(map[string]bool)
		for _, s := range keyword.Stems(text) {
			present[s] = true
		}
		matched := 0
		for _, t := range terms {
			if present[t] {
				matched++
			}
		}
		scores[i] = float64(matched) / float64(len(terms))
	}
	return scores, nil
}

// queryStems returns the distinct stems of the query's non-stop words
func queryStems(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range embedder.Tokenize(query) {
		if stopWords[tok] {
			continue
		}
		stems := keyword.Stems(tok)
		if len(stems) == 0 || seen[stems[0]] {
			continue
		}
		seen[stems[0]] = true
		out = append(out, stems[0])
	}
	return out
}

// stopWords are query words that carry no code-search signal
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "can": true, "code": true, "do": true, "does": true, "find": true, "for": true,
	"from": true, "how": true, "i": true, "in": true, "is": true, "it": true, "of": true,
	"on": true, "or": true, "show": true, "that": true, "the": true, "this": true, "to": true,
	"what": true, "when": true, "where": true, "which": true, "who": true, "why": true,
	"with": true, "work": true, "works": true,
}
