package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// ValidScorerNames lists the scorer names registered by the server binary.
// Used by [Validate] to warn about unrecognised names.
var ValidScorerNames = []string{"http", "openai"}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultMaxBodyBytes     = 1 << 20
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultProgressEvery    = 100000
	DefaultPrefixLength     = 2
	DefaultCandidateLimit   = 10
	DefaultStreamWindow     = 32
	DefaultMaxConcurrency   = 4
	DefaultMaxBatch         = 256
	DefaultScorerCacheSize  = 4096
	DefaultScorerTimeout    = 10 * time.Second
	DefaultServiceName      = "shabda"
	defaultSnapshotFilePath = "vocabulary.snapshot"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Vocabulary.ProgressEvery == 0 {
		cfg.Vocabulary.ProgressEvery = DefaultProgressEvery
	}
	if cfg.Vocabulary.Snapshot.Backend == SnapshotFile && cfg.Vocabulary.Snapshot.Path == "" {
		cfg.Vocabulary.Snapshot.Path = defaultSnapshotFilePath
	}

	if cfg.Correction.PrefixLength == 0 {
		cfg.Correction.PrefixLength = DefaultPrefixLength
	}
	if cfg.Correction.CandidateLimit == 0 {
		cfg.Correction.CandidateLimit = DefaultCandidateLimit
	}
	if cfg.Correction.EmptyPolicy == "" {
		cfg.Correction.EmptyPolicy = "passthrough"
	}
	if cfg.Correction.MaxConcurrency == 0 {
		cfg.Correction.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Correction.MaxBatch == 0 {
		cfg.Correction.MaxBatch = DefaultMaxBatch
	}

	if cfg.Scorer.CacheSize == 0 {
		cfg.Scorer.CacheSize = DefaultScorerCacheSize
	}
	defaultEntry(&cfg.Scorer.Primary)
	for i := range cfg.Scorer.Fallbacks {
		defaultEntry(&cfg.Scorer.Fallbacks[i])
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

func defaultEntry(e *ScorerEntry) {
	if e.Name != "" && e.Timeout == 0 {
		e.Timeout = DefaultScorerTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes %d must not be negative", cfg.Server.MaxBodyBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Vocabulary
	v := cfg.Vocabulary
	if v.ProgressEvery < 0 {
		errs = append(errs, fmt.Errorf("vocabulary.progress_every %d must not be negative", v.ProgressEvery))
	}
	if s := v.Script; s != nil {
		if s.Lo < 0 || s.Hi > utf8.MaxRune || s.Lo > s.Hi {
			errs = append(errs, fmt.Errorf("vocabulary.script range [%#x, %#x] is invalid", s.Lo, s.Hi))
		}
	}
	if !v.Snapshot.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("vocabulary.snapshot.backend %q is invalid; valid values: file, redis", v.Snapshot.Backend))
	}
	if v.Snapshot.Backend == SnapshotRedis && v.Snapshot.Redis.Addr == "" {
		errs = append(errs, errors.New("vocabulary.snapshot.redis.addr is required when backend is redis"))
	}
	if v.Snapshot.WatchInterval < 0 {
		errs = append(errs, fmt.Errorf("vocabulary.snapshot.watch_interval %v must not be negative", v.Snapshot.WatchInterval))
	}
	if v.Snapshot.WatchInterval > 0 && v.Snapshot.Backend != SnapshotFile {
		slog.Warn("vocabulary.snapshot.watch_interval only applies to the file backend; ignoring",
			"backend", v.Snapshot.Backend)
	}
	if v.WordList == "" && v.PostgresDSN == "" && v.Snapshot.Backend == SnapshotNone {
		slog.Warn("no vocabulary source configured; the service will start with an empty vocabulary")
	}

	// Correction
	c := cfg.Correction
	if c.PrefixLength < 0 {
		errs = append(errs, fmt.Errorf("correction.prefix_length %d must be positive", c.PrefixLength))
	}
	if c.CandidateLimit < 0 {
		errs = append(errs, fmt.Errorf("correction.candidate_limit %d must be positive", c.CandidateLimit))
	}
	if c.EmptyPolicy != "" && c.EmptyPolicy != "passthrough" && c.EmptyPolicy != "drop" {
		errs = append(errs, fmt.Errorf("correction.empty_policy %q is invalid; valid values: passthrough, drop", c.EmptyPolicy))
	}
	if c.ContextWindow < 0 {
		errs = append(errs, fmt.Errorf("correction.context_window %d must not be negative", c.ContextWindow))
	}
	if c.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("correction.max_concurrency %d must be positive", c.MaxConcurrency))
	}
	if c.MaxBatch < 0 {
		errs = append(errs, fmt.Errorf("correction.max_batch %d must be positive", c.MaxBatch))
	}

	// Scorer
	if cfg.Scorer.Primary.Name == "" {
		if len(cfg.Scorer.Fallbacks) > 0 {
			errs = append(errs, errors.New("scorer.fallbacks require scorer.primary"))
		} else {
			slog.Warn("scorer.primary is not configured; correction endpoints will report scoring unavailable")
		}
	}
	labels := map[string]string{}
	entries := append([]ScorerEntry{cfg.Scorer.Primary}, cfg.Scorer.Fallbacks...)
	for i, e := range entries {
		path := "scorer.primary"
		if i > 0 {
			path = fmt.Sprintf("scorer.fallbacks[%d]", i-1)
		}
		if e.Name == "" {
			if i > 0 {
				errs = append(errs, fmt.Errorf("%s.name is required", path))
			}
			continue
		}
		validateScorerName(path, e.Name)
		if e.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout %v must not be negative", path, e.Timeout))
		}
		if prev, ok := labels[e.DisplayName()]; ok {
			errs = append(errs, fmt.Errorf("%s label %q is a duplicate of %s", path, e.DisplayName(), prev))
		}
		labels[e.DisplayName()] = path
	}
	cb := cfg.Scorer.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("scorer.circuit_breaker values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateScorerName logs a warning if name is not in [ValidScorerNames].
func validateScorerName(path, name string) {
	if slices.Contains(ValidScorerNames, name) {
		return
	}
	slog.Warn("unknown scorer name; may be a typo or a third-party scorer",
		"path", path,
		"name", name,
		"known", ValidScorerNames,
	)
}
