// Package server exposes the vocabulary and the correction pipeline over
// HTTP.
//
// Routes:
//
//	POST /v1/spellcheck          known-word lookup for a list of words
//	POST /v1/suggest             prefix suggestions
//	POST /v1/correct             correct one sentence or token list
//	POST /v1/correct/batch       correct several sentences concurrently
//	GET  /v1/correct/stream      websocket session with carried-over context
//	POST /v1/vocabulary/words    merge words into the live vocabulary
//	GET  /v1/vocabulary/stats    size and origin of the live vocabulary
//	GET  /v1/scorers             circuit state of every scorer backend
//	GET  /healthz, /readyz       liveness and readiness
//	GET  /metrics                Prometheus exposition
//
// Request and response bodies are JSON. Errors are reported as
// {"error": "..."} with 400 for invalid input, 503 when scoring is
// unavailable and 500 otherwise.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/MrWong99/shabda/internal/correct"
	"github.com/MrWong99/shabda/internal/health"
	"github.com/MrWong99/shabda/internal/observe"
	"github.com/MrWong99/shabda/internal/resilience"
	"github.com/MrWong99/shabda/internal/vocab"
	"github.com/MrWong99/shabda/internal/vocab/snapshot"
)

// Defaults used when [Config] fields are zero.
const (
	DefaultMaxBodyBytes   = 1 << 20
	DefaultMaxConcurrency = 4
	DefaultMaxBatch       = 256
	DefaultMaxSuggestions = 10

	// maxSuggestions caps max_suggestions of one suggest request.
	maxSuggestions = 1000
)

// Config tunes request limits.
type Config struct {
	// MaxBodyBytes caps request bodies and websocket messages.
	MaxBodyBytes int64

	// MaxConcurrency bounds the sentences of one batch corrected at a time.
	MaxConcurrency int

	// MaxBatch caps the sentences of one batch request.
	MaxBatch int
}

// Pipelines are the correction pipelines in use. Stream serves websocket
// sessions and usually carries a bounded context window; Correct serves
// one-shot requests.
type Pipelines struct {
	Correct *correct.Pipeline
	Stream  *correct.Pipeline
}

// WordStore records words added at runtime so that a rebuild reproduces the
// live vocabulary. *postgres.Store implements it.
type WordStore interface {
	Add(ctx context.Context, words []string, source string) (int, error)
}

// Server holds the HTTP handlers. Create it with [New].
type Server struct {
	cfg       Config
	vocab     *vocab.Holder
	loader    *vocab.Loader
	pipelines atomic.Pointer[Pipelines]

	words     WordStore
	snapshot  snapshot.Backend
	afterSave func()
	scorers   func() []resilience.MemberStatus
	health    *health.Handler
	metricsH  http.Handler
	metrics   *observe.Metrics
}

// Option configures a [Server].
type Option func(*Server)

// WithWordStore records merged words in ws.
func WithWordStore(ws WordStore) Option {
	return func(s *Server) { s.words = ws }
}

// WithSnapshot enables {"persist": true} on word merges. afterSave, when
// non-nil, runs after every successful save.
func WithSnapshot(b snapshot.Backend, afterSave func()) Option {
	return func(s *Server) {
		s.snapshot = b
		s.afterSave = afterSave
	}
}

// WithScorerStatus serves the result of fn on GET /v1/scorers.
func WithScorerStatus(fn func() []resilience.MemberStatus) Option {
	return func(s *Server) { s.scorers = fn }
}

// WithHealth serves /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsH = h }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New returns a Server serving the vocabulary held by h. loader merges words
// added through the API.
func New(cfg Config, h *vocab.Holder, loader *vocab.Loader, p Pipelines, opts ...Option) (*Server, error) {
	if h == nil || loader == nil {
		return nil, errors.New("server: vocabulary holder and loader are required")
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}

	s := &Server{cfg: cfg, vocab: h, loader: loader}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.pipelines.Store(&p)
	return s, nil
}

func (p Pipelines) validate() error {
	if p.Correct == nil || p.Stream == nil {
		return errors.New("server: both correction pipelines are required")
	}
	return nil
}

// SetPipelines replaces the correction pipelines. Requests already running
// finish on the pipelines they started with.
func (s *Server) SetPipelines(p Pipelines) error {
	if err := p.validate(); err != nil {
		return err
	}
	s.pipelines.Store(&p)
	return nil
}

// Pipelines returns the pipelines in use.
func (s *Server) Pipelines() Pipelines {
	return *s.pipelines.Load()
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/spellcheck", s.handleSpellcheck)
	mux.HandleFunc("POST /v1/suggest", s.handleSuggest)
	mux.HandleFunc("POST /v1/correct", s.handleCorrect)
	mux.HandleFunc("POST /v1/correct/batch", s.handleCorrectBatch)
	mux.HandleFunc("GET /v1/correct/stream", s.handleStream)
	mux.HandleFunc("POST /v1/vocabulary/words", s.handleAddWords)
	mux.HandleFunc("GET /v1/vocabulary/stats", s.handleStats)
	if s.scorers != nil {
		mux.HandleFunc("GET /v1/scorers", s.handleScorers)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsH != nil {
		mux.Handle("GET /metrics", s.metricsH)
	}
	return observe.Middleware(s.metrics)(mux)
}

// errInvalidInput marks request errors reported with 400.
var errInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidInput, fmt.Sprintf(format, args...))
}
