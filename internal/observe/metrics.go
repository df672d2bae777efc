// Package observe provides application-wide observability primitives for
// Shabda: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Shabda metrics.
const meterName = "github.com/MrWong99/shabda"

// Token outcomes used with [Metrics.RecordTokenOutcome].
const (
	OutcomeValid       = "valid"
	OutcomeCorrected   = "corrected"
	OutcomePassThrough = "passthrough"
	OutcomeDropped     = "dropped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CorrectionDuration tracks the latency of one full token-sequence
	// correction, scorer calls included.
	CorrectionDuration metric.Float64Histogram

	// ScorerDuration tracks the latency of a single scorer call. Use with
	// attribute: attribute.String("scorer", ...)
	ScorerDuration metric.Float64Histogram

	// SnapshotDuration tracks snapshot load and save latency. Use with
	// attributes: attribute.String("op", "load"|"save"), attribute.String("backend", ...)
	SnapshotDuration metric.Float64Histogram

	// --- Counters ---

	// ScorerRequests counts scorer calls. Use with attributes:
	//   attribute.String("scorer", ...), attribute.String("status", ...)
	ScorerRequests metric.Int64Counter

	// Tokens counts processed tokens by outcome. Use with attribute:
	//   attribute.String("outcome", ...)
	Tokens metric.Int64Counter

	// WordsMerged counts words newly added to the vocabulary. Use with
	// attribute: attribute.String("source", ...)
	WordsMerged metric.Int64Counter

	// --- Error counters ---

	// ScorerErrors counts failed scorer calls. Use with attribute:
	//   attribute.String("scorer", ...)
	ScorerErrors metric.Int64Counter

	// --- Distributions ---

	// Candidates tracks how many candidates an unknown token produced.
	Candidates metric.Int64Histogram

	// --- Gauges ---

	// VocabularyWords reports the number of words in the live vocabulary.
	VocabularyWords metric.Int64Gauge

	// ActiveStreams tracks open streaming correction sessions.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning a
// cached scorer hit up to a slow remote language model.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// candidateBuckets matches the usual candidate limits.
var candidateBuckets = []float64{0, 1, 2, 5, 10, 20, 50}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CorrectionDuration, err = m.Float64Histogram("shabda.correction.duration",
		metric.WithDescription("Latency of correcting one token sequence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScorerDuration, err = m.Float64Histogram("shabda.scorer.duration",
		metric.WithDescription("Latency of a single plausibility scorer call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SnapshotDuration, err = m.Float64Histogram("shabda.snapshot.duration",
		metric.WithDescription("Latency of vocabulary snapshot load and save."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Candidates, err = m.Int64Histogram("shabda.correction.candidates",
		metric.WithDescription("Candidates generated per unknown token."),
		metric.WithExplicitBucketBoundaries(candidateBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ScorerRequests, err = m.Int64Counter("shabda.scorer.requests",
		metric.WithDescription("Total scorer calls by scorer and status."),
	); err != nil {
		return nil, err
	}
	if met.Tokens, err = m.Int64Counter("shabda.correction.tokens",
		metric.WithDescription("Total processed tokens by outcome."),
	); err != nil {
		return nil, err
	}
	if met.WordsMerged, err = m.Int64Counter("shabda.vocabulary.words_merged",
		metric.WithDescription("Total words newly added to the vocabulary by source."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ScorerErrors, err = m.Int64Counter("shabda.scorer.errors",
		metric.WithDescription("Total failed scorer calls by scorer."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.VocabularyWords, err = m.Int64Gauge("shabda.vocabulary.words",
		metric.WithDescription("Number of words in the live vocabulary."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("shabda.active_streams",
		metric.WithDescription("Number of open streaming correction sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("shabda.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordScorerRequest records a scorer call with its duration and status.
func (m *Metrics) RecordScorerRequest(ctx context.Context, scorer, status string, seconds float64) {
	m.ScorerRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("scorer", scorer),
			attribute.String("status", status),
		),
	)
	m.ScorerDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("scorer", scorer)),
	)
}

// RecordScorerError records a failed scorer call.
func (m *Metrics) RecordScorerError(ctx context.Context, scorer string) {
	m.ScorerErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("scorer", scorer)),
	)
}

// RecordTokenOutcome records one processed token.
func (m *Metrics) RecordTokenOutcome(ctx context.Context, outcome string) {
	m.Tokens.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordWordsMerged records n words newly added from source.
func (m *Metrics) RecordWordsMerged(ctx context.Context, source string, n int) {
	if n <= 0 {
		return
	}
	m.WordsMerged.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordSnapshot records the duration of a snapshot load or save.
func (m *Metrics) RecordSnapshot(ctx context.Context, op, backend string, seconds float64) {
	m.SnapshotDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("backend", backend),
		),
	)
}
