package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/shabda/pkg/scorer"
)

// ErrScorerNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested scorer name.
var ErrScorerNotRegistered = errors.New("config: scorer not registered")

// ScorerFactory builds a scorer from its configuration entry.
type ScorerFactory func(ScorerEntry) (scorer.Scorer, error)

// Registry maps scorer names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ScorerFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ScorerFactory)}
}

// Register registers a scorer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory ScorerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a scorer using the factory registered under entry.Name.
// Returns [ErrScorerNotRegistered] if no factory has been registered for that
// name.
func (r *Registry) Create(entry ScorerEntry) (scorer.Scorer, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrScorerNotRegistered, entry.Name)
	}
	s, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create scorer %q: %w", entry.DisplayName(), err)
	}
	return s, nil
}

// Names returns the registered scorer names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// OptString returns the string option key from opts, or "" when it is
// missing or not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptInt returns the integer option key from opts. YAML decodes integers as
// int; float values are truncated.
func OptInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
