// Package trie implements the character-level prefix tree that backs the
// vocabulary store.
//
// Each node owns its children exclusively; there are no back references and
// no shared subtrees. Children are kept sorted by ascending code point, which
// fixes the enumeration order of [Trie.Suggest] and [Trie.Walk]: a node's own
// word is emitted before its descendants, then children are visited in
// ascending code point order. Results are therefore in code point
// lexicographic order, do not depend on insertion order, and survive a
// serialisation round-trip unchanged.
//
// A [Trie] is safe for concurrent use: lookups take a read lock and
// insertions take the write lock, giving single-writer/multi-reader
// semantics.
package trie

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/shabda/pkg/script"
)

// ErrInvalidInput is returned by [Trie.Insert] and [Trie.Add] when the word is
// empty or contains characters rejected by the trie's filter.
var ErrInvalidInput = errors.New("trie: invalid input")

// node is a single trie vertex. keys and children are parallel slices sorted
// by key.
type node struct {
	keys     []rune
	children []*node
	terminal bool
}

// child returns the child reached via r, or nil.
func (n *node) child(r rune) *node {
	i, ok := slices.BinarySearch(n.keys, r)
	if !ok {
		return nil
	}
	return n.children[i]
}

// childOrCreate returns the child reached via r, creating it when missing.
// The second return value reports whether a node was created.
func (n *node) childOrCreate(r rune) (*node, bool) {
	i, ok := slices.BinarySearch(n.keys, r)
	if ok {
		return n.children[i], false
	}
	c := &node{}
	n.keys = slices.Insert(n.keys, i, r)
	n.children = slices.Insert(n.children, i, c)
	return c, true
}

// Option configures a [Trie].
type Option func(*Trie)

// WithFilter replaces the word filter applied by [Trie.Insert] and
// [Trie.Add]. The default accepts non-empty words of the Devanagari block.
func WithFilter(valid func(string) bool) Option {
	return func(t *Trie) {
		if valid != nil {
			t.valid = valid
		}
	}
}

// WithBlock restricts insertion to words of the given script block.
func WithBlock(b script.Block) Option {
	return WithFilter(b.Valid)
}

// Trie is a concurrency-safe prefix tree of known words.
type Trie struct {
	mu    sync.RWMutex
	root  *node
	words int
	nodes int
	valid func(string) bool
}

// New returns an empty [Trie].
func New(opts ...Option) *Trie {
	t := &Trie{
		root:  &node{},
		nodes: 1,
		valid: script.Devanagari.Valid,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Insert adds word to the trie. Inserting a word that is already present
// changes nothing. Returns [ErrInvalidInput] when word does not pass the
// filter; the trie is left untouched in that case.
func (t *Trie) Insert(word string) error {
	_, err := t.Add(word)
	return err
}

// Add inserts word and reports whether it was new. The known-check and the
// insertion happen under one write lock, so concurrent mergers never count
// the same word twice.
func (t *Trie) Add(word string) (bool, error) {
	if !t.valid(word) {
		return false, fmt.Errorf("%w: %q", ErrInvalidInput, word)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for _, r := range word {
		var created bool
		n, created = n.childOrCreate(r)
		if created {
			t.nodes++
		}
	}
	if n.terminal {
		return false, nil
	}
	n.terminal = true
	t.words++
	return true, nil
}

// IsKnown reports whether word was inserted. It runs in time proportional to
// the length of word, independent of vocabulary size.
func (t *Trie) IsKnown(word string) bool {
	if word == "" {
		return false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.find(word)
	return n != nil && n.terminal
}

// Suggest returns up to limit known words that start with prefix, in the
// package's documented enumeration order. A prefix with no matching path
// yields an empty, non-nil slice. The limit is enforced during traversal so
// the cost is bounded by the number of nodes visited before the limit is hit.
// An empty prefix enumerates from the root.
func (t *Trie) Suggest(prefix string, limit int) []string {
	out := []string{}
	if limit <= 0 {
		return out
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.find(prefix)
	if n == nil {
		return out
	}

	buf := []rune(prefix)
	collect(n, buf, limit, &out)
	return out
}

// collect appends terminal descendants of n (including n) to out until limit
// entries are present.
func collect(n *node, path []rune, limit int, out *[]string) {
	if len(*out) >= limit {
		return
	}
	if n.terminal {
		*out = append(*out, string(path))
	}
	for i, r := range n.keys {
		if len(*out) >= limit {
			return
		}
		collect(n.children[i], append(path, r), limit, out)
	}
}

// Walk calls fn for every known word in enumeration order. Walking stops at
// the first non-nil error returned by fn, which is passed through. fn must not
// call back into the trie's mutating methods.
func (t *Trie) Walk(fn func(word string) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return walk(t.root, nil, fn)
}

func walk(n *node, path []rune, fn func(string) error) error {
	if n.terminal {
		if err := fn(string(path)); err != nil {
			return err
		}
	}
	for i, r := range n.keys {
		if err := walk(n.children[i], append(path, r), fn); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of known words.
func (t *Trie) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.words
}

// Nodes returns the number of nodes including the root.
func (t *Trie) Nodes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes
}

// find returns the node at the end of s, or nil. Caller must hold t.mu.
func (t *Trie) find(s string) *node {
	n := t.root
	for _, r := range s {
		n = n.child(r)
		if n == nil {
			return nil
		}
	}
	return n
}
