// Package app wires all Shabda subsystems into a running service.
//
// The App struct owns the full lifecycle: New loads the vocabulary, builds
// the scorer chain and the correction pipelines, Run serves HTTP until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSnapshotBackend,
// WithWordStore, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/MrWong99/shabda/internal/config"
	"github.com/MrWong99/shabda/internal/correct"
	"github.com/MrWong99/shabda/internal/health"
	"github.com/MrWong99/shabda/internal/observe"
	"github.com/MrWong99/shabda/internal/resilience"
	"github.com/MrWong99/shabda/internal/server"
	"github.com/MrWong99/shabda/internal/vocab"
	"github.com/MrWong99/shabda/internal/vocab/postgres"
	"github.com/MrWong99/shabda/internal/vocab/snapshot"
	"github.com/MrWong99/shabda/internal/vocab/snapshot/filestore"
	"github.com/MrWong99/shabda/internal/vocab/snapshot/redisstore"
	"github.com/MrWong99/shabda/pkg/scorer"
	"github.com/MrWong99/shabda/pkg/scorer/cache"
	"github.com/MrWong99/shabda/pkg/script"
	"github.com/MrWong99/shabda/pkg/trie"
)

// ErrNoScorer is reported by every scoring call when no scorer is
// configured. The correction endpoints then answer 503.
var ErrNoScorer = errors.New("app: no scorer configured")

// WordStore is the persistent word store: a bootstrap source, a sink for
// words added at runtime and a readiness dependency.
type WordStore interface {
	vocab.WordSource
	server.WordStore
	health.Pinger
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	logLevel *slog.LevelVar

	metrics  *observe.Metrics
	metricsH http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	loader   *vocab.Loader
	holder   *vocab.Holder
	snapshot snapshot.Backend
	words    WordStore
	scorers  *resilience.ScorerGroup
	cache    *cache.Scorer
	scorer   scorer.Scorer
	server   *server.Server
	watcher  *vocab.Watcher
	checkers []health.Checker

	// closers are called in reverse order during Shutdown.
	closers []func() error

	mu       sync.Mutex
	listener net.Listener

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSnapshotBackend injects a snapshot backend instead of creating one
// from config.
func WithSnapshotBackend(b snapshot.Backend) Option {
	return func(a *App) { a.snapshot = b }
}

// WithWordStore injects a word store instead of connecting to PostgreSQL.
func WithWordStore(ws WordStore) Option {
	return func(a *App) { a.words = ws }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithLogLevel lets [App.ApplyConfig] change the log level at runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Scorers named in
// cfg.Scorer are created through reg.
//
// New performs all initialisation synchronously: store connections,
// vocabulary bootstrap, scorer construction and pipeline assembly. On error
// everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg, registry: reg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// ── 1. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. Vocabulary ────────────────────────────────────────────────────
	if err := a.initVocabulary(ctx); err != nil {
		return nil, fmt.Errorf("app: init vocabulary: %w", err)
	}

	// ── 3. Scorers ───────────────────────────────────────────────────────
	if err := a.initScorers(); err != nil {
		return nil, fmt.Errorf("app: init scorers: %w", err)
	}

	// ── 4. Pipelines + HTTP server ───────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	// ── 5. Snapshot watcher ──────────────────────────────────────────────
	a.initWatcher()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores opens the snapshot backend and the word store unless injected.
func (a *App) initStores(ctx context.Context) error {
	v := a.cfg.Vocabulary

	if a.snapshot == nil {
		switch v.Snapshot.Backend {
		case config.SnapshotFile:
			a.snapshot = filestore.New(v.Snapshot.Path)
		case config.SnapshotRedis:
			r := v.Snapshot.Redis
			var ropts []redisstore.Option
			if r.Prefix != "" {
				ropts = append(ropts, redisstore.WithPrefix(r.Prefix))
			}
			rs := redisstore.New(r.Addr, r.Password, r.DB, ropts...)
			a.snapshot = rs
			a.closers = append(a.closers, rs.Close)
			a.checkers = append(a.checkers, health.Ping("redis", rs))
		}
	}

	if a.words == nil && v.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, v.PostgresDSN)
		if err != nil {
			return err
		}
		a.words = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}
	if a.words != nil {
		a.checkers = append(a.checkers, health.Ping(a.words.Name(), a.words))
	}
	return nil
}

// trieOptions returns the insert filter configured for the vocabulary.
func trieOptions(v config.VocabularyConfig) []trie.Option {
	if v.Script == nil {
		return nil
	}
	name := v.Script.Name
	if name == "" {
		name = "custom"
	}
	return []trie.Option{trie.WithBlock(script.Block{Name: name, Lo: rune(v.Script.Lo), Hi: rune(v.Script.Hi)})}
}

// NewLoader returns a vocabulary loader configured from v. m may be nil.
func NewLoader(v config.VocabularyConfig, m *observe.Metrics) *vocab.Loader {
	opts := []vocab.Option{
		vocab.WithProgressEvery(v.ProgressEvery),
		vocab.WithNormalization(v.Normalize),
		vocab.WithTrieOptions(trieOptions(v)...),
	}
	if m != nil {
		opts = append(opts, vocab.WithMetrics(m))
	}
	return vocab.NewLoader(opts...)
}

// initVocabulary builds the loader and bootstraps the live vocabulary.
func (a *App) initVocabulary(ctx context.Context) error {
	v := a.cfg.Vocabulary
	a.loader = NewLoader(v, a.metrics)

	bc := vocab.BootstrapConfig{
		Snapshot:    a.snapshot,
		WordList:    v.WordList,
		SaveRebuilt: v.Snapshot.SaveRebuilt,
		Seed:        v.Seed,
	}
	if a.words != nil {
		bc.Sources = append(bc.Sources, a.words)
	}

	t, origin, err := a.loader.Bootstrap(ctx, bc)
	if err != nil {
		return err
	}
	a.holder = vocab.NewHolder(t, origin)
	a.checkers = append(a.checkers, health.NonEmpty("vocabulary", func() int { return a.holder.Load().Len() }))
	slog.Info("vocabulary ready", "origin", origin, "words", t.Len(), "nodes", t.Nodes())
	return nil
}

// initScorers creates the configured scorers, chains them behind circuit
// breakers and memoises the result.
func (a *App) initScorers() error {
	sc := a.cfg.Scorer
	if sc.Primary.Name == "" {
		slog.Warn("no scorer configured; correction requests will fail with 503")
		a.scorer = scorer.Func(func(context.Context, []string) (float64, error) { return 0, ErrNoScorer })
		return nil
	}

	fcfg := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  sc.CircuitBreaker.MaxFailures,
		ResetTimeout: sc.CircuitBreaker.ResetTimeout,
		HalfOpenMax:  sc.CircuitBreaker.HalfOpenMax,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Info("scorer circuit changed", "scorer", name, "from", from, "to", to)
		},
	}}

	primary, err := a.registry.Create(sc.Primary)
	if err != nil {
		return err
	}
	a.scorers = resilience.NewScorerGroup(primary, sc.Primary.DisplayName(), fcfg)
	slog.Info("scorer created", "name", sc.Primary.Name, "label", sc.Primary.DisplayName(), "model", sc.Primary.Model)

	for _, e := range sc.Fallbacks {
		fb, err := a.registry.Create(e)
		if err != nil {
			return err
		}
		a.scorers.AddFallback(e.DisplayName(), fb)
		slog.Info("fallback scorer created", "name", e.Name, "label", e.DisplayName(), "model", e.Model)
	}
	a.checkers = append(a.checkers, health.Checker{Name: "scorer", Check: a.scorers.Check})

	a.scorer = a.scorers
	if sc.CacheSize >= 0 {
		c, err := cache.New(a.scorers, sc.CacheSize)
		if err != nil {
			return err
		}
		a.cache = c
		a.scorer = c
	}
	return nil
}

// buildPipelines creates the one-shot and streaming pipelines for cc.
// Streaming sessions always get a bounded context window.
func (a *App) buildPipelines(cc config.CorrectionConfig) (server.Pipelines, error) {
	policy, err := correct.ParseEmptyPolicy(cc.EmptyPolicy)
	if err != nil {
		return server.Pipelines{}, err
	}
	lexicon := func() correct.Lexicon { return a.holder.Load() }
	name := a.cfg.Scorer.Primary.DisplayName()
	if name == "" {
		name = "none"
	}
	common := []correct.Option{
		correct.WithPrefixLength(cc.PrefixLength),
		correct.WithCandidateLimit(cc.CandidateLimit),
		correct.WithEmptyPolicy(policy),
		correct.WithScorerName(name),
		correct.WithMetrics(a.metrics),
	}

	one, err := correct.New(lexicon, a.scorer, append(common, correct.WithContextWindow(cc.ContextWindow))...)
	if err != nil {
		return server.Pipelines{}, err
	}
	window := cc.ContextWindow
	if window == 0 {
		window = config.DefaultStreamWindow
	}
	stream, err := correct.New(lexicon, a.scorer, append(common, correct.WithContextWindow(window))...)
	if err != nil {
		return server.Pipelines{}, err
	}
	return server.Pipelines{Correct: one, Stream: stream}, nil
}

// initServer assembles the HTTP handlers.
func (a *App) initServer() error {
	p, err := a.buildPipelines(a.cfg.Correction)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithHealth(health.New(a.checkers...)),
	}
	if a.words != nil {
		opts = append(opts, server.WithWordStore(a.words))
	}
	if a.snapshot != nil {
		opts = append(opts, server.WithSnapshot(a.snapshot, a.snapshotSaved))
	}
	if a.scorers != nil {
		opts = append(opts, server.WithScorerStatus(a.scorers.Members))
	}
	if a.metricsH != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsH))
	}

	a.server, err = server.New(server.Config{
		MaxBodyBytes:   a.cfg.Server.MaxBodyBytes,
		MaxConcurrency: a.cfg.Correction.MaxConcurrency,
		MaxBatch:       a.cfg.Correction.MaxBatch,
	}, a.holder, a.loader, p, opts...)
	return err
}

// initWatcher hot-swaps the vocabulary when the snapshot file changes.
func (a *App) initWatcher() {
	s := a.cfg.Vocabulary.Snapshot
	fs, ok := a.snapshot.(*filestore.Store)
	if !ok || s.WatchInterval <= 0 {
		return
	}
	a.watcher = vocab.NewWatcher(fs.Path(), func(t *trie.Trie) {
		a.holder.Swap(t, vocab.OriginSnapshot)
		a.metrics.VocabularyWords.Record(context.Background(), int64(t.Len()))
		slog.Info("vocabulary hot-swapped from snapshot", "path", fs.Path(), "words", t.Len())
	},
		vocab.WithInterval(s.WatchInterval),
		vocab.WithWatchTrieOptions(a.loader.TrieOptions()...),
	)
	a.closers = append(a.closers, func() error {
		a.watcher.Stop()
		return nil
	})
}

// snapshotSaved keeps the watcher from reloading a snapshot this process
// wrote itself.
func (a *App) snapshotSaved() {
	if a.watcher != nil {
		a.watcher.Refresh()
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler of the service.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Vocabulary returns the live vocabulary holder.
func (a *App) Vocabulary() *vocab.Holder { return a.holder }

// CacheStats reports scorer cache effectiveness. ok is false when caching
// is disabled or no scorer is configured.
func (a *App) CacheStats() (stats cache.Stats, ok bool) {
	if a.cache == nil {
		return cache.Stats{}, false
	}
	return a.cache.Stats(), true
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable parts of next: the log level and
// the correction settings. Changes to other sections are logged and take
// effect after a restart.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.CorrectionChanged {
		p, err := a.buildPipelines(next.Correction)
		if err == nil {
			err = a.server.SetPipelines(p)
		}
		if err != nil {
			slog.Error("keeping previous correction settings", "err", err)
		} else {
			slog.Info("correction settings reloaded",
				"prefix_length", next.Correction.PrefixLength,
				"candidate_limit", next.Correction.CandidateLimit,
				"empty_policy", next.Correction.EmptyPolicy,
				"context_window", next.Correction.ContextWindow,
			)
		}
	}

	for _, section := range d.RestartRequired {
		slog.Warn("config change requires a restart", "section", section)
	}
}

// slogLevel maps a config log level to its slog level.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// On cancellation the server drains in-flight requests for up to
// cfg.Server.ShutdownTimeout and Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: a.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	l, err := a.listen()
	if err != nil {
		return err
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", l.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		if tls := a.cfg.Server.TLS; tls != nil {
			serverErrors <- srv.ServeTLS(l, tls.CertFile, tls.KeyFile)
		} else {
			serverErrors <- srv.Serve(l)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown did not complete", "timeout", a.cfg.Server.ShutdownTimeout, "err", err)
		_ = srv.Close()
	}
	return ctx.Err()
}

func (a *App) listen() (net.Listener, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		l := a.listener
		a.listener = nil
		return l, nil
	}
	l, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return l, nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the snapshot watcher and closes every store. It is safe to
// call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- a.close() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return err
}

// close runs the closers in reverse order and joins their errors.
func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
