// Package config provides the configuration schema, loader, and scorer
// registry for the Shabda correction service.
package config

import "time"

// LogLevel controls log verbosity for the Shabda server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SnapshotBackend selects where the vocabulary snapshot is kept.
type SnapshotBackend string

const (
	// SnapshotNone disables snapshots; every start rebuilds from sources.
	SnapshotNone SnapshotBackend = ""

	// SnapshotFile keeps the snapshot in a local file.
	SnapshotFile SnapshotBackend = "file"

	// SnapshotRedis keeps the snapshot under a single Redis key.
	SnapshotRedis SnapshotBackend = "redis"
)

// IsValid reports whether b is a recognised snapshot backend.
func (b SnapshotBackend) IsValid() bool {
	switch b {
	case SnapshotNone, SnapshotFile, SnapshotRedis:
		return true
	}
	return false
}

// Config is the root configuration structure for Shabda.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Correction CorrectionConfig `yaml:"correction"`
	Scorer     ScorerConfig     `yaml:"scorer"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxBodyBytes caps request bodies. Default: 1 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// VocabularyConfig describes where the vocabulary comes from and how it is
// persisted.
type VocabularyConfig struct {
	// WordList is a newline-delimited word list; the first whitespace field of
	// each line is a candidate word. Used when no snapshot is available.
	WordList string `yaml:"word_list"`

	// ProgressEvery logs build progress every N lines. Default: 100000.
	ProgressEvery int `yaml:"progress_every"`

	// Normalize applies Unicode NFC to words before insertion.
	Normalize bool `yaml:"normalize"`

	// Script restricts accepted words to a code point range. Default:
	// Devanagari, U+0900..U+097F.
	Script *ScriptConfig `yaml:"script"`

	// Seed lists words merged into the vocabulary after every load.
	Seed []string `yaml:"seed"`

	// PostgresDSN enables the PostgreSQL word store. Words added at runtime
	// are recorded there and replayed on rebuild.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Snapshot configures fast reload.
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// ScriptConfig is an inclusive code point range.
type ScriptConfig struct {
	Name string `yaml:"name"`
	Lo   int    `yaml:"lo"`
	Hi   int    `yaml:"hi"`
}

// SnapshotConfig selects and tunes the snapshot backend.
type SnapshotConfig struct {
	// Backend is "file", "redis" or empty for none.
	Backend SnapshotBackend `yaml:"backend"`

	// Path is the snapshot file for the file backend.
	Path string `yaml:"path"`

	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis"`

	// SaveRebuilt writes a snapshot after the vocabulary had to be rebuilt
	// from sources.
	SaveRebuilt bool `yaml:"save_rebuilt"`

	// WatchInterval polls the snapshot file and hot-swaps the vocabulary when
	// it changes. Zero disables watching. File backend only.
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// RedisConfig holds connection settings for the redis snapshot backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// CorrectionConfig tunes the correction pipeline. These settings are hot
// reloadable.
type CorrectionConfig struct {
	// PrefixLength is the number of leading runes used to find candidates.
	// Default: 2.
	PrefixLength int `yaml:"prefix_length"`

	// CandidateLimit bounds candidates, and with them scorer calls, per
	// unknown token. Default: 10.
	CandidateLimit int `yaml:"candidate_limit"`

	// EmptyPolicy is "passthrough" (default) or "drop".
	EmptyPolicy string `yaml:"empty_policy"`

	// ContextWindow bounds the scorer context in tokens. Zero keeps the whole
	// sentence for one-shot requests; streaming sessions default to 32.
	ContextWindow int `yaml:"context_window"`

	// MaxConcurrency bounds concurrently corrected sentences of one batch
	// request. Default: 4.
	MaxConcurrency int `yaml:"max_concurrency"`

	// MaxBatch caps the number of sentences in one batch request.
	// Default: 256.
	MaxBatch int `yaml:"max_batch"`
}

// ScorerConfig declares the plausibility scorer and its fallbacks.
type ScorerConfig struct {
	// Primary is the preferred scorer.
	Primary ScorerEntry `yaml:"primary"`

	// Fallbacks are tried in order when the primary fails or its circuit is
	// open.
	Fallbacks []ScorerEntry `yaml:"fallbacks"`

	// CacheSize is the number of memoised scores. Zero uses the default;
	// negative disables the cache.
	CacheSize int `yaml:"cache_size"`

	// CircuitBreaker tunes the per-scorer circuit breakers.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ScorerEntry is the configuration block shared by all scorer types. Name
// selects the constructor in the [Registry].
type ScorerEntry struct {
	// Name selects the registered scorer implementation ("http", "openai").
	Name string `yaml:"name"`

	// Label identifies this entry in logs and metrics. Defaults to Name.
	Label string `yaml:"label"`

	// APIKey is the authentication key for the scorer's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the scorer's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gpt2").
	Model string `yaml:"model"`

	// Timeout bounds one scoring request.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds scorer-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// DisplayName returns Label, falling back to Name.
func (e ScorerEntry) DisplayName() string {
	if e.Label != "" {
		return e.Label
	}
	return e.Name
}

// CircuitBreakerConfig mirrors the resilience breaker knobs.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// TelemetryConfig names the service in exported telemetry.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}
