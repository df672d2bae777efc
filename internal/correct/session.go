package correct

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/shabda/internal/observe"
)

// Session corrects a transcript that arrives in chunks. The resolved context
// carries over from one [Session.Feed] to the next, bounded by the pipeline's
// context window.
//
// A Session is safe for concurrent use, but chunks are processed one at a
// time in call order.
type Session struct {
	p  *Pipeline
	id string

	mu       sync.Mutex
	resolved []string
	chunks   int
}

// NewSession starts a session with an empty context.
func (p *Pipeline) NewSession() *Session {
	return &Session{p: p, id: uuid.NewString()}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Feed corrects the next chunk of tokens. On error the session context is
// left as it was before the call.
func (s *Session) Feed(ctx context.Context, tokens []string) ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "correct.Session.Feed")
	defer span.End()
	span.SetAttributes(
		observe.SessionIDKey.String(s.id),
		observe.SessionChunkKey.Int(s.chunks),
		observe.TokensKey.Int(len(tokens)),
	)

	start := time.Now()
	out, resolved, err := s.p.run(ctx, s.p.lexicon(), tokens, s.resolved)
	s.p.metrics.CorrectionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.Fail(span, err)
		return nil, err
	}

	s.resolved = s.p.trim(resolved)
	s.chunks++
	return out, nil
}

// Context returns a copy of the resolved context the next chunk will be
// scored against.
func (s *Session) Context() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.resolved)
}

// Reset clears the context.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = nil
}

// trim drops context beyond the window so long sessions stay bounded.
func (p *Pipeline) trim(resolved []string) []string {
	if p.contextWindow > 0 && len(resolved) > p.contextWindow {
		return slices.Clone(resolved[len(resolved)-p.contextWindow:])
	}
	return resolved
}
