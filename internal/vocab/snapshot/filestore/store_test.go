package filestore_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/shabda/internal/vocab/snapshot"
	"github.com/MrWong99/shabda/internal/vocab/snapshot/filestore"
	"github.com/MrWong99/shabda/pkg/trie"
)

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := filestore.New(filepath.Join(t.TempDir(), "nested", "vocab.snap"))

	if _, err := snapshot.Load(ctx, s); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("Load before Save = %v, want ErrNotFound", err)
	}

	src := trie.New()
	for _, w := range []string{"काठमाडौं", "पोखरा"} {
		if err := src.Insert(w); err != nil {
			t.Fatal(err)
		}
	}
	if err := snapshot.Save(ctx, s, src); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := snapshot.Load(ctx, s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.IsKnown("काठमाडौं") || !got.IsKnown("पोखरा") {
		t.Error("loaded trie is missing saved words")
	}
}

func TestStore_FailedSaveKeepsPrevious(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.snap")
	s := filestore.New(path)

	if err := s.Save(ctx, func(w io.Writer) error {
		_, err := w.Write([]byte("first"))
		return err
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	boom := errors.New("boom")
	err := s.Save(ctx, func(w io.Writer) error {
		_, _ = w.Write([]byte("half-written"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Save = %v, want boom", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "first" {
		t.Errorf("file content = %q, want %q", data, "first")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the snapshot (temp file leaked)", len(entries))
	}
}

func TestStore_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vocab.snap")
	if err := os.WriteFile(path, []byte("not a snapshot at all, definitely not"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := snapshot.Load(context.Background(), filestore.New(path))
	if !errors.Is(err, snapshot.ErrPersist) {
		t.Errorf("Load of corrupt file = %v, want ErrPersist", err)
	}
}
