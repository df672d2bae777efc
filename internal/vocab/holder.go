package vocab

import (
	"sync/atomic"
	"time"

	"github.com/MrWong99/shabda/pkg/trie"
)

// Holder publishes the live vocabulary. Readers call [Holder.Load] once per
// request and keep using that trie for the whole request, so a concurrent
// [Holder.Swap] never changes the vocabulary under a request in flight.
type Holder struct {
	cur atomic.Pointer[generation]
}

type generation struct {
	trie     *trie.Trie
	origin   string
	loadedAt time.Time
}

// Info describes the live vocabulary.
type Info struct {
	Words    int       `json:"words"`
	Nodes    int       `json:"nodes"`
	Origin   string    `json:"origin"`
	LoadedAt time.Time `json:"loaded_at"`
}

// NewHolder returns a Holder publishing t. origin describes where t came from
// (for example "snapshot" or "wordlist") and is reported by [Holder.Info].
func NewHolder(t *trie.Trie, origin string) *Holder {
	h := &Holder{}
	h.Swap(t, origin)
	return h
}

// Load returns the live trie.
func (h *Holder) Load() *trie.Trie {
	return h.cur.Load().trie
}

// Swap replaces the live trie and returns the previous one.
func (h *Holder) Swap(t *trie.Trie, origin string) *trie.Trie {
	prev := h.cur.Swap(&generation{trie: t, origin: origin, loadedAt: time.Now()})
	if prev == nil {
		return nil
	}
	return prev.trie
}

// Info reports statistics of the live trie.
func (h *Holder) Info() Info {
	g := h.cur.Load()
	return Info{
		Words:    g.trie.Len(),
		Nodes:    g.trie.Nodes(),
		Origin:   g.origin,
		LoadedAt: g.loadedAt,
	}
}
