// Package openai provides a [scorer.Scorer] backed by an OpenAI-compatible
// completions endpoint.
//
// The scorer asks the model to echo the prompt without generating anything
// (echo=true, max_tokens=0, logprobs=0) and averages the returned per-token
// log-probabilities. The first token has no left context and is excluded, so
// the score equals the negated language-model loss of the text. Servers such
// as vLLM and llama.cpp expose the same endpoint.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/shabda/pkg/scorer"
)

var _ scorer.Scorer = (*Scorer)(nil)

// Scorer implements scorer.Scorer using the completions API.
type Scorer struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
	httpClient   *http.Client
}

// Option is a functional option for Scorer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries a failed request.
// Negative values keep the client default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a Scorer for model. apiKey may be empty for local servers
// that do not authenticate, but then a base URL is required.
func New(apiKey string, model string, opts ...Option) (*Scorer, error) {
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}
	if apiKey == "" && cfg.baseURL == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty without a base URL")
	}
	if apiKey == "" {
		apiKey = "unused"
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	hc := cfg.httpClient
	if cfg.timeout > 0 {
		if hc == nil {
			hc = &http.Client{}
		}
		clone := *hc
		clone.Timeout = cfg.timeout
		hc = &clone
	}
	if hc != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(hc))
	}

	return &Scorer{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Score implements scorer.Scorer.
func (s *Scorer) Score(ctx context.Context, tokens []string) (float64, error) {
	resp, err := s.client.Completions.New(ctx, oai.CompletionNewParams{
		Model:     oai.CompletionNewParamsModel(s.model),
		Prompt:    oai.CompletionNewParamsPromptUnion{OfString: oai.String(scorer.Join(tokens))},
		Echo:      oai.Bool(true),
		Logprobs:  oai.Int(0),
		MaxTokens: oai.Int(0),
	})
	if err != nil {
		return 0, fmt.Errorf("openai: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("openai: response has no choices")
	}
	return meanLogprob(resp.Choices[0].Logprobs.TokenLogprobs)
}

// meanLogprob averages lps[1:]. The first entry is null in the response.
func meanLogprob(lps []float64) (float64, error) {
	if len(lps) == 0 {
		return 0, fmt.Errorf("openai: response has no logprobs")
	}
	if len(lps) == 1 {
		return 0, nil
	}
	var sum float64
	for _, lp := range lps[1:] {
		sum += lp
	}
	return sum / float64(len(lps)-1), nil
}
