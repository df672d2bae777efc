// Package mock provides a test double for the scorer.Scorer interface.
//
// Use Scorer to return canned scores without a live language model and to
// verify which token sequences the correction pipeline submitted.
//
// Example:
//
//	s := &mock.Scorer{
//	    Scores: map[string]float64{
//	        "नेपाल सुन्दर": -1.2,
//	        "नेपाल सुन्दरी": -4.8,
//	    },
//	    DefaultScore: -10,
//	}
//	score, _ := s.Score(ctx, []string{"नेपाल", "सुन्दर"})
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/shabda/pkg/scorer"
)

var _ scorer.Scorer = (*Scorer)(nil)

// ScoreCall records a single invocation of Score.
type ScoreCall struct {
	// Ctx is the context passed to Score.
	Ctx context.Context
	// Tokens is a copy of the token slice passed to Score.
	Tokens []string
}

// Scorer is a mock implementation of scorer.Scorer.
type Scorer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Scores maps the space-joined token sequence to the score returned for
	// it. Sequences not present fall back to DefaultScore.
	Scores map[string]float64

	// DefaultScore is returned for sequences missing from Scores.
	DefaultScore float64

	// ScoreFunc, if non-nil, replaces the Scores lookup entirely.
	ScoreFunc func(ctx context.Context, tokens []string) (float64, error)

	// ScoreErr, if non-nil, is returned as the error from every call.
	ScoreErr error

	// --- Call records ---

	// ScoreCalls records every call to Score in order.
	ScoreCalls []ScoreCall
}

// Score records the call and returns the configured score.
func (s *Scorer) Score(ctx context.Context, tokens []string) (float64, error) {
	s.mu.Lock()
	s.ScoreCalls = append(s.ScoreCalls, ScoreCall{Ctx: ctx, Tokens: slices.Clone(tokens)})
	fn, err := s.ScoreFunc, s.ScoreErr
	score, ok := s.Scores[scorer.Join(tokens)]
	if !ok {
		score = s.DefaultScore
	}
	s.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if fn != nil {
		return fn(ctx, tokens)
	}
	return score, nil
}

// Calls returns a copy of the recorded token sequences.
func (s *Scorer) Calls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.ScoreCalls))
	for i, c := range s.ScoreCalls {
		out[i] = slices.Clone(c.Tokens)
	}
	return out
}

// CallCount returns the number of Score calls so far.
func (s *Scorer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ScoreCalls)
}

// Reset clears all call records.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScoreCalls = nil
}

// SetScoreErr replaces ScoreErr under the lock. Use it when the mock is
// already shared with running goroutines.
func (s *Scorer) SetScoreErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScoreErr = err
}
