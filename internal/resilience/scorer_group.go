package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/shabda/pkg/scorer"
)

// ScorerGroup implements [scorer.Scorer] with failover across several
// scoring backends. Each backend has its own circuit breaker.
//
// Backends in one group should return comparable scores. A group mixing a
// log-probability scorer with a loss-based one can rank candidates of a single
// request inconsistently when the primary flaps mid-request.
type ScorerGroup struct {
	group *FallbackGroup[scorer.Scorer]
}

var _ scorer.Scorer = (*ScorerGroup)(nil)

// NewScorerGroup creates a [ScorerGroup] with primary as the preferred backend.
func NewScorerGroup(primary scorer.Scorer, primaryName string, cfg FallbackConfig) *ScorerGroup {
	return &ScorerGroup{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional scorer.
func (g *ScorerGroup) AddFallback(name string, s scorer.Scorer) {
	g.group.AddFallback(name, s)
}

// Score asks the first healthy backend. The error wraps [ErrAllFailed] when
// every backend failed.
func (g *ScorerGroup) Score(ctx context.Context, tokens []string) (float64, error) {
	return ExecuteWithResult(ctx, g.group, func(ctx context.Context, s scorer.Scorer) (float64, error) {
		return s.Score(ctx, tokens)
	})
}

// Members reports the breaker state of every backend.
func (g *ScorerGroup) Members() []MemberStatus {
	return g.group.Members()
}

// Check implements health.Checker. It fails when every breaker is open.
func (g *ScorerGroup) Check(context.Context) error {
	if g.group.Available() {
		return nil
	}
	return fmt.Errorf("resilience: every scorer circuit is open: %w", ErrCircuitOpen)
}
