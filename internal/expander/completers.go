package expander

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

	"google.golang.org/genai"

	"github.com/dshills/coderag/internal/embedder"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderNone   = "none"

	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultOpenAIURL   = "https://api.openai.com/v1"
	DefaultGeminiModel = "gemini-2.0-flash"

	EnvGeminiAPIKey = "GEMINI_API_KEY"

	defaultTimeout = 30 * time.Second
	temperature    = 0.7
	maxTokens      = 500
)

// ErrDisabled is returned by NewCompleter when no provider is configured
var ErrDisabled = errors.New("query expansion disabled")

// Config selects and configures a Completer
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// NewCompleter builds the configured completer
func NewCompleter(ctx context.Context, cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAICompleter(cfg)
	case ProviderGemini:
		return NewGeminiCompleter(ctx, cfg)
	case "", ProviderNone:
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown expansion provider %q", cfg.Provider)
	}
}

// OpenAICompleter talks to any OpenAI-compatible /chat/completions endpoint
type OpenAICompleter struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retry      embedder.RetryConfig
}

// NewOpenAICompleter creates a chat completer. The API key falls back to OPENAI_API_KEY.
func NewOpenAICompleter(cfg Config) (*OpenAICompleter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(embedder.EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s not set", embedder.EnvOpenAIAPIKey)
	}
	c := &OpenAICompleter{
		apiKey:     apiKey,
		model:      DefaultOpenAIModel,
		baseURL:    DefaultOpenAIURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		retry:      embedder.DefaultRetryConfig(),
	}
	if cfg.Model != "" {
		c.model = cfg.Model
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		c.httpClient.Timeout = cfg.Timeout
	}
	return c, nil
}

func (c *OpenAICompleter) Model() string {
	return c.model
}

func (c *OpenAICompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	return embedder.RetryWithBackoff(ctx, c.retry, func() (string, error) {
		return c.callAPI(ctx, system, prompt)
	})
}

func (c *OpenAICompleter) callAPI(ctx context.Context, system, prompt string) (string, error) {
	var msgs []map[string]string
	if system != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": system})
	}
	msgs = append(msgs, map[string]string{"role": "user", "content": prompt})

	data, err := json.Marshal(map[string]any{
		"model":       c.model,
		"messages":    msgs,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	})
	if err != nil {
		return "", embedder.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", embedder.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("openai: %s: %s", resp.Status, respBody)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", embedder.Permanent(apiErr)
		}
		return "", apiErr
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", embedder.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if len(result.Choices) == 0 {
		return "", embedder.Permanent(errors.New("openai: empty choices"))
	}
	return result.Choices[0].Message.Content, nil
}

// GeminiCompleter uses the Gemini API through the genai client
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

// NewGeminiCompleter creates a Gemini completer. The API key falls back to GEMINI_API_KEY.
func NewGeminiCompleter(ctx context.Context, cfg Config) (*GeminiCompleter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvGeminiAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s not set", EnvGeminiAPIKey)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

func (g *GeminiCompleter) Model() string {
	return g.model
}

func (g *GeminiCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](temperature),
		MaxOutputTokens: maxTokens,
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}
