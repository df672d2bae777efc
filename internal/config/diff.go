package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is applied live through the log level variable.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CorrectionChanged is applied live by rebuilding the pipeline.
	CorrectionChanged bool

	// RestartRequired lists sections whose changes only take effect after a
	// restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Correction != new.Correction {
		d.CorrectionChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameVocabulary(old.Vocabulary, new.Vocabulary) {
		d.RestartRequired = append(d.RestartRequired, "vocabulary")
	}
	if !sameScorer(old.Scorer, new.Scorer) {
		d.RestartRequired = append(d.RestartRequired, "scorer")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameVocabulary(a, b VocabularyConfig) bool {
	if a.WordList != b.WordList || a.ProgressEvery != b.ProgressEvery ||
		a.Normalize != b.Normalize || a.PostgresDSN != b.PostgresDSN ||
		a.Snapshot != b.Snapshot {
		return false
	}
	if (a.Script == nil) != (b.Script == nil) || (a.Script != nil && *a.Script != *b.Script) {
		return false
	}
	return slices.Equal(a.Seed, b.Seed)
}

func sameScorer(a, b ScorerConfig) bool {
	if a.CacheSize != b.CacheSize || a.CircuitBreaker != b.CircuitBreaker ||
		len(a.Fallbacks) != len(b.Fallbacks) || !sameEntry(a.Primary, b.Primary) {
		return false
	}
	for i := range a.Fallbacks {
		if !sameEntry(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

func sameEntry(a, b ScorerEntry) bool {
	if a.Name != b.Name || a.Label != b.Label || a.APIKey != b.APIKey ||
		a.BaseURL != b.BaseURL || a.Model != b.Model || a.Timeout != b.Timeout {
		return false
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
