// Package redisstore implements a [snapshot.Backend] on Redis so several
// service replicas can share one snapshot.
package redisstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	backend "github.com/redis/go-redis/v9"

	"github.com/MrWong99/shabda/internal/vocab/snapshot"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "shabda:"

// Store keeps the snapshot blob under a single Redis key.
type Store struct {
	client *backend.Client
	prefix string
}

var _ snapshot.Backend = (*Store)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithPrefix sets the key prefix. The snapshot lives at prefix + "snapshot".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store connected to address.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key() string {
	return s.prefix + "snapshot"
}

// Name implements [snapshot.Backend].
func (s *Store) Name() string { return "redis:" + s.key() }

// Load fetches the snapshot blob.
func (s *Store) Load(ctx context.Context) (io.ReadCloser, error) {
	data, err := s.client.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("%w: redis get: %w", snapshot.ErrUnavailable, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Save buffers the encoded snapshot and stores it with a single SET, which
// replaces the previous value atomically.
func (s *Store) Save(ctx context.Context, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(), buf.Bytes(), 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %w", snapshot.ErrPersist, err)
	}
	return nil
}

// Ping checks connectivity. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
