package snapshot_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/shabda/internal/vocab/snapshot"
	"github.com/MrWong99/shabda/pkg/trie"
)

var sampleWords = []string{"काठमाडौं", "पोखरा", "काठ", "काम", "नेपाल", "नेपाली", "ललितपुर"}

func sampleTrie(t *testing.T) *trie.Trie {
	t.Helper()
	tr := trie.New()
	for _, w := range sampleWords {
		if err := tr.Insert(w); err != nil {
			t.Fatalf("Insert(%q): %v", w, err)
		}
	}
	return tr
}

func encode(t *testing.T, tr *trie.Trie) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := snapshot.Encode(&buf, tr); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf.Bytes()
}

func words(t *testing.T, tr *trie.Trie) []string {
	t.Helper()
	var out []string
	if err := tr.Walk(func(w string) error {
		out = append(out, w)
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	src := sampleTrie(t)
	got, err := snapshot.Decode(bytes.NewReader(encode(t, src)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if diff := cmp.Diff(words(t, src), words(t, got)); diff != "" {
		t.Errorf("words differ after round-trip (-src +got):\n%s", diff)
	}
	for _, prefix := range []string{"का", "ने", "ल", "पो"} {
		if diff := cmp.Diff(src.Suggest(prefix, 10), got.Suggest(prefix, 10)); diff != "" {
			t.Errorf("Suggest(%q) differs (-src +got):\n%s", prefix, diff)
		}
	}
	if !got.IsKnown("काठमाडौं") || got.IsKnown("काठमाण्डू") {
		t.Error("decoded trie answers IsKnown incorrectly")
	}
}

func TestRoundTrip_Empty(t *testing.T) {
	t.Parallel()

	got, err := snapshot.Decode(bytes.NewReader(encode(t, trie.New())))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Len() != 0 || got.Nodes() != 1 {
		t.Errorf("Len=%d Nodes=%d, want 0 1", got.Len(), got.Nodes())
	}
}

func TestReadHeader(t *testing.T) {
	t.Parallel()

	src := sampleTrie(t)
	h, err := snapshot.ReadHeader(bytes.NewReader(encode(t, src)))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Version != snapshot.Version {
		t.Errorf("Version = %d, want %d", h.Version, snapshot.Version)
	}
	if h.Nodes != uint64(src.Nodes()) || h.Words != uint64(src.Len()) {
		t.Errorf("header counts = %d/%d, want %d/%d", h.Nodes, h.Words, src.Nodes(), src.Len())
	}
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	good := encode(t, sampleTrie(t))

	mutate := func(f func(b []byte) []byte) []byte {
		return f(bytes.Clone(good))
	}

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"short header", good[:10]},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b })},
		{"future version", mutate(func(b []byte) []byte { binary.BigEndian.PutUint16(b[8:10], 2); return b })},
		{"reserved flags", mutate(func(b []byte) []byte { binary.BigEndian.PutUint16(b[10:12], 1); return b })},
		{"zero nodes", mutate(func(b []byte) []byte { binary.BigEndian.PutUint64(b[12:20], 0); return b })},
		{"words not below nodes", mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint64(b[20:28], binary.BigEndian.Uint64(b[12:20]))
			return b
		})},
		{"node count too low", mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint64(b[12:20], binary.BigEndian.Uint64(b[12:20])-1)
			return b
		})},
		{"word count off", mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint64(b[20:28], binary.BigEndian.Uint64(b[20:28])-1)
			return b
		})},
		{"checksum mismatch", mutate(func(b []byte) []byte { b[30] ^= 0xff; return b })},
		{"truncated body", good[:len(good)-4]},
		{"header only", good[:snapshot.HeaderSize]},
		{"corrupt body", mutate(func(b []byte) []byte { b[len(b)-6] ^= 0xff; return b })},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := snapshot.Decode(bytes.NewReader(tc.blob))
			if !errors.Is(err, snapshot.ErrPersist) {
				t.Errorf("Decode error = %v, want ErrPersist", err)
			}
			if got != nil {
				t.Error("Decode returned a trie alongside an error")
			}
		})
	}
}

func TestDecode_AppliesOptions(t *testing.T) {
	t.Parallel()

	got, err := snapshot.Decode(bytes.NewReader(encode(t, sampleTrie(t))), trie.WithFilter(func(string) bool { return false }))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := got.Insert("नयाँ"); !errors.Is(err, trie.ErrInvalidInput) {
		t.Errorf("Insert after decode with reject-all filter = %v, want ErrInvalidInput", err)
	}
	if !got.IsKnown("पोखरा") {
		t.Error("decoded words must load regardless of the insert filter")
	}
}

func TestMemoryBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var m snapshot.Memory

	if _, err := snapshot.Load(ctx, &m); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("Load from empty backend = %v, want ErrNotFound", err)
	}

	src := sampleTrie(t)
	if err := snapshot.Save(ctx, &m, src); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := snapshot.Load(ctx, &m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Len() != src.Len() {
		t.Errorf("Len = %d, want %d", got.Len(), src.Len())
	}

	before := m.Bytes()
	boom := errors.New("boom")
	err = m.Save(ctx, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Save with failing writer = %v, want boom", err)
	}
	if !bytes.Equal(before, m.Bytes()) {
		t.Error("failed Save replaced the stored snapshot")
	}
}
