// Package scorer defines the plausibility scorer consulted by the correction
// pipeline.
//
// A [Scorer] maps a token sequence to a real number; higher means the sequence
// is more plausible. The only property the pipeline relies on is the ordering
// of scores for sequences of equal length produced by the same scorer, so
// implementations are free to return log-probabilities, negated losses, or any
// other monotone measure. Implementations must be deterministic for a given
// input and safe for concurrent use.
//
// Subpackages provide an HTTP sidecar client (httpscorer), an OpenAI-compatible
// completions client (openai), a memoising wrapper (cache) and a test double
// (mock).
package scorer

import (
	"context"
	"strings"
)

// Scorer rates the plausibility of a token sequence.
type Scorer interface {
	// Score returns the plausibility of tokens. A non-nil error means no
	// score could be produced; callers must not treat it as a low score.
	Score(ctx context.Context, tokens []string) (float64, error)
}

// Func adapts an ordinary function to the [Scorer] interface.
type Func func(ctx context.Context, tokens []string) (float64, error)

// Score implements [Scorer].
func (f Func) Score(ctx context.Context, tokens []string) (float64, error) {
	return f(ctx, tokens)
}

// Join renders tokens as the space-separated text a language model sees.
func Join(tokens []string) string {
	return strings.Join(tokens, " ")
}
