package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"shabda.correction.duration", m.CorrectionDuration},
		{"shabda.scorer.duration", m.ScorerDuration},
		{"shabda.snapshot.duration", m.SnapshotDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

// sumFor returns the value of the data point of an int64 sum whose attribute
// key equals value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("data point with %s=%s not found in %q", key, value, name)
	return 0
}

func TestScorerRequests(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordScorerRequest(ctx, "openai", "ok", 0.2)
	m.RecordScorerRequest(ctx, "openai", "ok", 0.3)
	m.RecordScorerRequest(ctx, "openai", "error", 0.1)
	m.RecordScorerError(ctx, "openai")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "shabda.scorer.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumFor(t, rm, "shabda.scorer.errors", "scorer", "openai"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}

	hist, ok := findMetric(rm, "shabda.scorer.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 3 {
		t.Errorf("scorer duration histogram = %+v, want 3 samples", hist)
	}
}

func TestTokenOutcomes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTokenOutcome(ctx, OutcomeValid)
	m.RecordTokenOutcome(ctx, OutcomeValid)
	m.RecordTokenOutcome(ctx, OutcomeCorrected)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "shabda.correction.tokens", "outcome", OutcomeValid); got != 2 {
		t.Errorf("valid tokens = %d, want 2", got)
	}
	if got := sumFor(t, rm, "shabda.correction.tokens", "outcome", OutcomeCorrected); got != 1 {
		t.Errorf("corrected tokens = %d, want 1", got)
	}
}

func TestWordsMerged_IgnoresZero(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWordsMerged(ctx, "api", 0)
	m.RecordWordsMerged(ctx, "api", 3)
	m.RecordWordsMerged(ctx, "file", 2)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "shabda.vocabulary.words_merged", "source", "api"); got != 3 {
		t.Errorf("api merged = %d, want 3", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.VocabularyWords.Record(ctx, 10)
	m.VocabularyWords.Record(ctx, 42)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, -1)

	rm := collect(t, reader)

	met := findMetric(rm, "shabda.vocabulary.words")
	if met == nil {
		t.Fatal("metric shabda.vocabulary.words not found")
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) == 0 {
		t.Fatalf("shabda.vocabulary.words is not a populated gauge: %T", met.Data)
	}
	if got := g.DataPoints[0].Value; got != 42 {
		t.Errorf("vocabulary words = %d, want last recorded 42", got)
	}

	met = findMetric(rm, "shabda.active_streams")
	if met == nil {
		t.Fatal("metric shabda.active_streams not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("shabda.active_streams is not a populated sum")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active streams = %d, want 1", got)
	}
}

func TestCandidateHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Candidates.Record(ctx, 0)
	m.Candidates.Record(ctx, 7)

	rm := collect(t, reader)
	met := findMetric(rm, "shabda.correction.candidates")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[int64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("metric is not a populated int64 histogram")
	}
	if got := hist.DataPoints[0].Sum; got != 7 {
		t.Errorf("candidate sum = %d, want 7", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "shabda.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
