package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [FallbackGroup] failed or
// was skipped by its open breaker.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures the breaker created for each member of a
// [FallbackGroup]. The breaker's Name is replaced by the member name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// MemberStatus describes one member of a [FallbackGroup].
type MemberStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary backend and zero or more fallbacks of the same
// type, each behind its own [CircuitBreaker]. Calls go to the first member
// whose breaker admits them; on failure the next member is tried.
//
// Members must be registered before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first member.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a member. Members are tried in registration order.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.members = append(fg.members, member[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of members.
func (fg *FallbackGroup[T]) Len() int { return len(fg.members) }

// Members reports the name and breaker state of every member in order.
func (fg *FallbackGroup[T]) Members() []MemberStatus {
	out := make([]MemberStatus, len(fg.members))
	for i, m := range fg.members {
		out[i] = MemberStatus{Name: m.name, State: m.breaker.State().String()}
	}
	return out
}

// Available reports whether at least one member's breaker would admit a call.
func (fg *FallbackGroup[T]) Available() bool {
	for _, m := range fg.members {
		if m.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Execute runs fn against members in order until one succeeds.
//
// When ctx ends, Execute stops and returns ctx.Err() (or the error of the
// interrupted call) without trying further members. Otherwise, if no member
// succeeds, the error wraps [ErrAllFailed] and the last member error.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for functions returning a
// value. It is a package-level function because methods cannot have type
// parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		m := &fg.members[i]

		var result R
		err := m.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
			var innerErr error
			result, innerErr = fn(ctx, m.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return zero, err
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend (circuit open)", "backend", m.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", m.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
