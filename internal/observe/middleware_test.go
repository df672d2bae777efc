package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// apiHandler wraps a mux shaped like the service's routes in [Middleware],
// with metrics and spans going to in-memory readers.
func apiHandler(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/correct", func(w http.ResponseWriter, r *http.Request) {
		// The handler sees the same ID the client gets back.
		w.Header().Set("X-Handler-Correlation", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/spellcheck", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(m)(mux), reader, exp
}

// captureLogs routes the default logger into a buffer at info level.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestMiddleware_APIRoutes(t *testing.T) {
	handler, _, exp := apiHandler(t)

	tests := []struct {
		path       string
		wantStatus int
		wantSpan   string
	}{
		{path: "/v1/correct", wantStatus: http.StatusOK, wantSpan: "HTTP POST /v1/correct"},
		{path: "/v1/spellcheck", wantStatus: http.StatusBadRequest, wantSpan: "HTTP POST /v1/spellcheck"},
		{path: "/v1/unknown", wantStatus: http.StatusNotFound, wantSpan: "HTTP POST /v1/unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			exp.Reset()
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(`{"tokens":["नेपाल"]}`)))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			span := spans[0]
			if span.Name != tt.wantSpan {
				t.Errorf("span name = %q, want %q", span.Name, tt.wantSpan)
			}

			cid := rec.Header().Get(CorrelationHeader)
			if want := span.SpanContext.TraceID().String(); cid != want {
				t.Errorf("%s = %q, want trace ID %q", CorrelationHeader, cid, want)
			}

			var status int64
			for _, a := range span.Attributes {
				if a.Key == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != int64(tt.wantStatus) {
				t.Errorf("span status attribute = %d, want %d", status, tt.wantStatus)
			}
		})
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/correct", nil))
	if got, want := rec.Header().Get("X-Handler-Correlation"), rec.Header().Get(CorrelationHeader); got != want {
		t.Errorf("handler correlation ID = %q, response header = %q", got, want)
	}
}

func TestMiddleware_ContinuesCallerTrace(t *testing.T) {
	handler, _, _ := apiHandler(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodPost, "/v1/correct", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(CorrelationHeader); got != traceID {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, traceID)
	}
	if got := rec.Header().Get("X-Handler-Correlation"); got != traceID {
		t.Errorf("handler correlation ID = %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("traceparent"); !strings.Contains(got, traceID) {
		t.Errorf("response traceparent = %q, want trace %s", got, traceID)
	}
}

func TestMiddleware_RouteLabels(t *testing.T) {
	handler, reader, _ := apiHandler(t)

	for range 3 {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/correct", nil))
	}
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "shabda.http.request.duration")
	if met == nil {
		t.Fatal("shabda.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want histogram", met.Data)
	}

	got := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		method, _ := dp.Attributes.Value("method")
		path, _ := dp.Attributes.Value("path")
		got[method.AsString()+" "+path.AsString()] = dp.Count
	}
	want := map[string]uint64{"POST /v1/correct": 3, "GET /healthz": 1}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("count[%s] = %d, want %d (all: %v)", k, got[k], n, got)
		}
	}
	if len(got) != len(want) {
		t.Errorf("got %d label sets, want %d: %v", len(got), len(want), got)
	}
}

func TestMiddleware_LogsCompletion(t *testing.T) {
	handler, _, _ := apiHandler(t)
	logs := captureLogs(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/spellcheck", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	out := logs.String()
	for _, want := range []string{
		"correlation_id=" + rec.Header().Get(CorrelationHeader),
		"path=/v1/spellcheck",
		"status=400",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "/healthz") {
		t.Errorf("health check logged at info:\n%s", out)
	}
}
