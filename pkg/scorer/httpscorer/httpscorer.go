// Package httpscorer provides a [scorer.Scorer] backed by a scoring sidecar
// reachable over HTTP.
//
// The sidecar wraps a language model and exposes a single endpoint:
//
//	POST {baseURL}/score
//	{"tokens": ["नेपाल", "सुन्दर"], "text": "नेपाल सुन्दर"}
//
//	200 OK
//	{"score": -3.21}
//
// A GPT-2 style sidecar typically returns the negated mean cross-entropy loss
// of text. Any non-200 status is an error.
package httpscorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/shabda/pkg/scorer"
)

var _ scorer.Scorer = (*Scorer)(nil)

// Scorer calls a scoring sidecar. It is safe for concurrent use.
type Scorer struct {
	endpoint   string
	httpClient *http.Client
	headers    http.Header
}

type config struct {
	timeout    time.Duration
	httpClient *http.Client
	headers    http.Header
}

// Option is a functional option for [Scorer].
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithHeader adds a header to every request, for example an Authorization
// token.
func WithHeader(key, value string) Option {
	return func(c *config) {
		c.headers.Add(key, value)
	}
}

// New returns a Scorer posting to baseURL + "/score".
func New(baseURL string, opts ...Option) (*Scorer, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("httpscorer: baseURL must not be empty")
	}

	cfg := &config{headers: http.Header{}}
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.timeout > 0 {
		clone := *hc
		clone.Timeout = cfg.timeout
		hc = &clone
	}

	return &Scorer{
		endpoint:   strings.TrimRight(baseURL, "/") + "/score",
		httpClient: hc,
		headers:    cfg.headers,
	}, nil
}

type scoreRequest struct {
	Tokens []string `json:"tokens"`
	Text   string   `json:"text"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

// Score implements [scorer.Scorer].
func (s *Scorer) Score(ctx context.Context, tokens []string) (float64, error) {
	body, err := json.Marshal(scoreRequest{Tokens: tokens, Text: scorer.Join(tokens)})
	if err != nil {
		return 0, fmt.Errorf("httpscorer: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("httpscorer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range s.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("httpscorer: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return 0, fmt.Errorf("httpscorer: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("httpscorer: decode response: %w", err)
	}
	if out.Score == nil {
		return 0, fmt.Errorf("httpscorer: response has no score")
	}
	return *out.Score, nil
}
