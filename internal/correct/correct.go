// Package correct repairs transcribed token sequences against the vocabulary.
//
// Every token passes through a small state machine:
//
//	Unchecked → Valid                                   (known word, kept)
//	Unchecked → Invalid → CandidatesGenerated → Resolved
//
// An unknown token is looked up by a short prefix in the vocabulary, and the
// plausibility scorer picks the candidate that best continues the text
// corrected so far. Tokens are processed strictly left to right and each
// output token joins the context before the next token is looked at, so later
// choices are conditioned on corrected output rather than on the raw input.
//
// A [Pipeline] is immutable after construction and safe for concurrent use.
// All per-request state lives on the stack of [Pipeline.Correct] or in a
// [Session].
package correct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/shabda/internal/observe"
	"github.com/MrWong99/shabda/pkg/scorer"
)

// ErrScoringUnavailable is returned when the scorer fails. The whole
// correction call is aborted; no partial output is returned.
var ErrScoringUnavailable = errors.New("correct: scoring unavailable")

// ErrInvalidToken is returned when a token is empty or white space only.
// Such a token would match every vocabulary word by prefix.
var ErrInvalidToken = errors.New("correct: invalid token")

// ErrNoCandidates is returned by [Pipeline.Resolve] for an empty candidate
// list.
var ErrNoCandidates = errors.New("correct: no candidates")

const (
	// DefaultPrefixLength is the number of leading runes used to look up
	// candidates for an unknown token.
	DefaultPrefixLength = 2

	// DefaultCandidateLimit bounds candidates per unknown token and with it
	// the number of scorer calls per token.
	DefaultCandidateLimit = 10
)

// Lexicon is the read side of the vocabulary. *trie.Trie implements it.
type Lexicon interface {
	IsKnown(word string) bool
	Suggest(prefix string, limit int) []string
}

// LexiconFunc returns the lexicon used for one correction call. It is called
// once per call, so a hot-swapped vocabulary never changes mid-request.
type LexiconFunc func() Lexicon

// Fixed returns a LexiconFunc that always yields l.
func Fixed(l Lexicon) LexiconFunc {
	return func() Lexicon { return l }
}

// Pipeline corrects token sequences.
type Pipeline struct {
	lexicon        LexiconFunc
	scorer         scorer.Scorer
	scorerName     string
	prefixLength   int
	candidateLimit int
	emptyPolicy    EmptyPolicy
	contextWindow  int
	metrics        *observe.Metrics
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithPrefixLength sets the candidate lookup prefix length in runes.
func WithPrefixLength(n int) Option {
	return func(p *Pipeline) { p.prefixLength = n }
}

// WithCandidateLimit sets the maximum number of candidates per token.
func WithCandidateLimit(n int) Option {
	return func(p *Pipeline) { p.candidateLimit = n }
}

// WithEmptyPolicy decides what happens to an unknown token without
// candidates. The default is [PassThrough].
func WithEmptyPolicy(policy EmptyPolicy) Option {
	return func(p *Pipeline) { p.emptyPolicy = policy }
}

// WithContextWindow limits the scorer context to the last n resolved tokens.
// Zero keeps the whole context.
func WithContextWindow(n int) Option {
	return func(p *Pipeline) { p.contextWindow = n }
}

// WithScorerName sets the scorer label used in metrics and logs.
func WithScorerName(name string) Option {
	return func(p *Pipeline) { p.scorerName = name }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New returns a Pipeline reading the vocabulary from lexicon and ranking
// candidates with sc.
func New(lexicon LexiconFunc, sc scorer.Scorer, opts ...Option) (*Pipeline, error) {
	if lexicon == nil {
		return nil, fmt.Errorf("correct: lexicon must not be nil")
	}
	if sc == nil {
		return nil, fmt.Errorf("correct: scorer must not be nil")
	}
	p := &Pipeline{
		lexicon:        lexicon,
		scorer:         sc,
		scorerName:     "default",
		prefixLength:   DefaultPrefixLength,
		candidateLimit: DefaultCandidateLimit,
		emptyPolicy:    PassThrough,
	}
	for _, o := range opts {
		o(p)
	}
	if p.prefixLength <= 0 {
		return nil, fmt.Errorf("correct: prefix length must be positive, got %d", p.prefixLength)
	}
	if p.candidateLimit <= 0 {
		return nil, fmt.Errorf("correct: candidate limit must be positive, got %d", p.candidateLimit)
	}
	if p.contextWindow < 0 {
		return nil, fmt.Errorf("correct: context window must not be negative, got %d", p.contextWindow)
	}
	if p.emptyPolicy != PassThrough && p.emptyPolicy != Drop {
		return nil, fmt.Errorf("correct: unknown empty policy %d", p.emptyPolicy)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Token reports what happened to one input token.
type Token struct {
	// Input is the token as received.
	Input string `json:"input"`
	// Output is the emitted token. Empty when the token was dropped.
	Output string `json:"output,omitempty"`
	// State is the terminal state of the token.
	State State `json:"state"`
	// Outcome is one of the observe.Outcome* values.
	Outcome string `json:"outcome"`
	// Candidates lists the vocabulary candidates that were scored.
	Candidates []string `json:"candidates,omitempty"`
	// Score is the winning candidate's score.
	Score *float64 `json:"score,omitempty"`
}

// Result is the outcome of one correction call.
type Result struct {
	ID     string  `json:"id"`
	Text   string  `json:"corrected"`
	Tokens []Token `json:"tokens"`
}

// Classify reports whether token is a known word.
func (p *Pipeline) Classify(token string) State {
	return classify(p.lexicon(), token)
}

func classify(lex Lexicon, token string) State {
	if lex.IsKnown(token) {
		return StateValid
	}
	return StateInvalid
}

// Candidates returns the vocabulary words sharing the lookup prefix of token.
func (p *Pipeline) Candidates(token string) []string {
	return p.candidates(p.lexicon(), token)
}

func (p *Pipeline) candidates(lex Lexicon, token string) []string {
	return lex.Suggest(prefix(token, p.prefixLength), p.candidateLimit)
}

// prefix returns the first n runes of s, or s when it is shorter.
func prefix(s string, n int) string {
	i := 0
	for range n {
		if i >= len(s) {
			return s
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}

// CorrectText splits sentence on white space and corrects the tokens.
func (p *Pipeline) CorrectText(ctx context.Context, sentence string) (Result, error) {
	return p.Correct(ctx, strings.Fields(sentence))
}

// Correct corrects tokens and returns the space-joined output.
//
// A blank token yields [ErrInvalidToken] before anything is scored. A scorer
// failure yields an error wrapping [ErrScoringUnavailable]. A
// cancelled ctx yields an error wrapping ctx.Err(). Neither returns partial
// output.
func (p *Pipeline) Correct(ctx context.Context, tokens []string) (Result, error) {
	id := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "correct.Correct")
	defer span.End()
	span.SetAttributes(
		observe.CorrectionIDKey.String(id),
		observe.TokensKey.Int(len(tokens)),
	)

	start := time.Now()
	out, resolved, err := p.run(ctx, p.lexicon(), tokens, nil)
	p.metrics.CorrectionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.Fail(span, err)
		return Result{}, err
	}

	observe.Logger(ctx).Debug("correct: finished",
		"id", id,
		"tokens", len(tokens),
		"duration", time.Since(start),
	)
	return Result{ID: id, Text: strings.Join(resolved, " "), Tokens: out}, nil
}

// run processes tokens left to right on top of history. It returns the
// per-token reports and history extended by the emitted tokens. history is
// never modified.
func (p *Pipeline) run(ctx context.Context, lex Lexicon, tokens, history []string) ([]Token, []string, error) {
	if err := validate(tokens); err != nil {
		return nil, nil, err
	}

	resolved := make([]string, len(history), len(history)+len(tokens))
	copy(resolved, history)
	out := make([]Token, 0, len(tokens))

	for _, tok := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("correct: %w", err)
		}

		t := Token{Input: tok, State: classify(lex, tok)}
		if t.State == StateValid {
			t.Output = tok
			t.Outcome = observe.OutcomeValid
			resolved = append(resolved, tok)
			out = append(out, t)
			p.metrics.RecordTokenOutcome(ctx, t.Outcome)
			continue
		}

		cands := p.candidates(lex, tok)
		t.State = StateCandidatesGenerated
		t.Candidates = cands
		p.metrics.Candidates.Record(ctx, int64(len(cands)))

		if len(cands) == 0 {
			t.State = StateResolved
			switch p.emptyPolicy {
			case Drop:
				t.Outcome = observe.OutcomeDropped
			default:
				t.Output = tok
				t.Outcome = observe.OutcomePassThrough
				resolved = append(resolved, tok)
			}
			out = append(out, t)
			p.metrics.RecordTokenOutcome(ctx, t.Outcome)
			continue
		}

		best, score, err := p.resolve(ctx, cands, p.window(resolved))
		if err != nil {
			return nil, nil, err
		}
		t.State = StateResolved
		t.Output = best
		t.Score = &score
		t.Outcome = observe.OutcomeCorrected
		resolved = append(resolved, best)
		out = append(out, t)
		p.metrics.RecordTokenOutcome(ctx, t.Outcome)
	}
	return out, resolved, nil
}

// validate rejects the whole call when any token is blank.
func validate(tokens []string) error {
	for i, tok := range tokens {
		if strings.TrimSpace(tok) == "" {
			return fmt.Errorf("%w: token %d is empty", ErrInvalidToken, i)
		}
	}
	return nil
}

// window returns the scorer context: the last contextWindow tokens of
// resolved, or all of them when no window is set.
func (p *Pipeline) window(resolved []string) []string {
	if p.contextWindow > 0 && len(resolved) > p.contextWindow {
		return resolved[len(resolved)-p.contextWindow:]
	}
	return resolved
}

// Resolve scores history + [candidate] for every candidate and returns the
// candidate with the strictly greatest score. The first candidate seeds the
// best value, so it wins ties.
func (p *Pipeline) Resolve(ctx context.Context, candidates, history []string) (string, float64, error) {
	return p.resolve(ctx, candidates, history)
}

func (p *Pipeline) resolve(ctx context.Context, candidates, history []string) (string, float64, error) {
	if len(candidates) == 0 {
		return "", 0, ErrNoCandidates
	}

	seq := make([]string, len(history)+1)
	copy(seq, history)

	var (
		best      string
		bestScore float64
	)
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return "", 0, fmt.Errorf("correct: resolve: %w", err)
		}
		seq[len(seq)-1] = c
		score, err := p.score(ctx, seq)
		if err != nil {
			return "", 0, err
		}
		if i == 0 || score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore, nil
}

// score calls the scorer once and records the call.
func (p *Pipeline) score(ctx context.Context, seq []string) (float64, error) {
	start := time.Now()
	score, err := p.scorer.Score(ctx, seq)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		p.metrics.RecordScorerRequest(ctx, p.scorerName, "ok", elapsed)
		return score, nil
	case ctx.Err() != nil:
		p.metrics.RecordScorerRequest(ctx, p.scorerName, "cancelled", elapsed)
		return 0, fmt.Errorf("correct: resolve: %w", ctx.Err())
	default:
		p.metrics.RecordScorerRequest(ctx, p.scorerName, "error", elapsed)
		p.metrics.RecordScorerError(ctx, p.scorerName)
		observe.Logger(ctx).Warn("correct: scorer failed",
			slog.String("scorer", p.scorerName),
			slog.Any("err", err),
		)
		return 0, fmt.Errorf("%w: %w", ErrScoringUnavailable, err)
	}
}
