package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/shabda/pkg/trie"
)

// Backend stores a single snapshot blob.
//
// Implementations must make Save atomic: a concurrent or later Load observes
// either the previous blob or the new one, never a partial write.
type Backend interface {
	// Load opens the current snapshot. Returns [ErrNotFound] when none exists.
	// The caller must close the returned reader.
	Load(ctx context.Context) (io.ReadCloser, error)

	// Save replaces the snapshot with the bytes produced by write. If write
	// returns an error the previous snapshot is left in place.
	Save(ctx context.Context, write func(io.Writer) error) error

	// Name identifies the backend in logs.
	Name() string
}

// Save encodes t into b.
func Save(ctx context.Context, b Backend, t *trie.Trie) error {
	err := b.Save(ctx, func(w io.Writer) error {
		return Encode(w, t)
	})
	if err != nil {
		return fmt.Errorf("snapshot: save to %s: %w", b.Name(), err)
	}
	return nil
}

// Load decodes the snapshot stored in b. Returns an error wrapping
// [ErrNotFound] when b is empty, [ErrUnavailable] when b cannot be read and
// [ErrPersist] when the stored blob does not decode.
func Load(ctx context.Context, b Backend, opts ...trie.Option) (*trie.Trie, error) {
	rc, err := b.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load from %s: %w", b.Name(), err)
	}
	defer rc.Close()

	t, err := Decode(rc, opts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load from %s: %w", b.Name(), err)
	}
	return t, nil
}

// Memory is an in-process [Backend]. The zero value is empty and ready to use.
type Memory struct {
	mu   sync.RWMutex
	blob []byte
}

var _ Backend = (*Memory)(nil)

// Load implements [Backend].
func (m *Memory) Load(_ context.Context) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.blob == nil {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(m.blob)), nil
}

// Save implements [Backend].
func (m *Memory) Save(_ context.Context, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}
	m.mu.Lock()
	m.blob = buf.Bytes()
	m.mu.Unlock()
	return nil
}

// Name implements [Backend].
func (m *Memory) Name() string { return "memory" }

// Bytes returns a copy of the stored blob, or nil.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return bytes.Clone(m.blob)
}
