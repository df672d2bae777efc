// Package cache memoises a [scorer.Scorer].
//
// Scorers are pure functions of their input, so a score computed once can be
// reused for every later request carrying the same token sequence. Streaming
// sessions rescore the same context window many times, which makes the hit
// rate high in practice. Concurrent misses for the same sequence are collapsed
// into a single upstream call. Errors are never cached.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/shabda/pkg/scorer"
)

// DefaultSize is the number of scores kept when New is given a non-positive
// size.
const DefaultSize = 4096

var _ scorer.Scorer = (*Scorer)(nil)

// Scorer wraps another scorer with an LRU cache. It is safe for concurrent
// use.
type Scorer struct {
	inner  scorer.Scorer
	scores *lru.Cache[string, float64]
	group  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Len    int   `json:"len"`
}

// New wraps inner with a cache holding up to size scores.
func New(inner scorer.Scorer, size int) (*Scorer, error) {
	if inner == nil {
		return nil, fmt.Errorf("cache: inner scorer must not be nil")
	}
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, float64](size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Scorer{inner: inner, scores: c}, nil
}

// Score implements [scorer.Scorer].
//
// Callers asking for the same sequence concurrently share one upstream
// request. That request runs detached from the cancellation of whichever
// caller started it, so a caller that gives up never fails the others; each
// caller only waits as long as its own ctx allows. The inner scorer's own
// timeout bounds the detached request.
func (s *Scorer) Score(ctx context.Context, tokens []string) (float64, error) {
	k := key(tokens)
	if v, ok := s.scores.Get(k); ok {
		s.hits.Add(1)
		return v, nil
	}
	s.misses.Add(1)

	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(k, func() (any, error) {
		if v, ok := s.scores.Get(k); ok {
			return v, nil
		}
		score, err := s.inner.Score(shared, tokens)
		if err != nil {
			return 0.0, err
		}
		s.scores.Add(k, score)
		return score, nil
	})

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(float64), nil
	}
}

// Stats returns hit and miss counters and the current number of entries.
func (s *Scorer) Stats() Stats {
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load(), Len: s.scores.Len()}
}

// Purge drops every cached score. Call it when the underlying model changes.
func (s *Scorer) Purge() {
	s.scores.Purge()
}

// key joins tokens with a separator that cannot occur inside a token.
func key(tokens []string) string {
	return strings.Join(tokens, "\x1f")
}
