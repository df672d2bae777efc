package openai

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMeanLogprob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      []float64
		want    float64
		wantErr bool
	}{
		{name: "empty", in: nil, wantErr: true},
		{name: "single token", in: []float64{0}, want: 0},
		{name: "first excluded", in: []float64{-100, -1, -3}, want: -2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := meanLogprob(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("", "gpt2"); err == nil {
		t.Error("expected error for missing key and base URL")
	}
	if _, err := New("", "gpt2", WithBaseURL("http://localhost:8000/v1/")); err != nil {
		t.Errorf("local server without key: %v", err)
	}
}

func TestScore_EchoLogprobs(t *testing.T) {
	t.Parallel()

	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "text_completion",
			"created": 1,
			"model": "gpt2",
			"choices": [{
				"index": 0,
				"text": "नेपाल सुन्दर",
				"finish_reason": "length",
				"logprobs": {
					"tokens": ["a", "b", "c"],
					"token_logprobs": [null, -1.5, -2.5],
					"top_logprobs": null,
					"text_offset": [0, 1, 2]
				}
			}]
		}`))
	}))
	t.Cleanup(srv.Close)

	s, err := New("", "gpt2", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Score(context.Background(), []string{"नेपाल", "सुन्दर"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.Abs(got-(-2)) > 1e-9 {
		t.Errorf("score = %v, want -2", got)
	}

	if req["prompt"] != "नेपाल सुन्दर" {
		t.Errorf("prompt = %v", req["prompt"])
	}
	if req["echo"] != true {
		t.Errorf("echo = %v, want true", req["echo"])
	}
	if req["max_tokens"] != float64(0) {
		t.Errorf("max_tokens = %v, want 0", req["max_tokens"])
	}
	if req["logprobs"] != float64(0) {
		t.Errorf("logprobs = %v, want 0", req["logprobs"])
	}
}

func TestScore_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	s, err := New("", "gpt2", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Score(context.Background(), []string{"क"}); err == nil {
		t.Error("expected error")
	}
}
