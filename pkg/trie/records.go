package trie

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformed is returned by [FromRecords] when the record stream does not
// describe a well-formed trie.
var ErrMalformed = errors.New("trie: malformed record stream")

// MaxDepth bounds the depth of a trie rebuilt by [FromRecords]. No real word
// comes close; the bound exists so hostile input cannot exhaust memory through
// a single degenerate chain.
const MaxDepth = 1024

// Record describes one node in a pre-order traversal of the trie.
type Record struct {
	// Edge is the code point on the edge from the parent. Zero for the root.
	Edge rune

	// Terminal marks the end of a known word.
	Terminal bool

	// Children is the number of child records that follow this one, each
	// followed in turn by its own subtree.
	Children int
}

// Records calls fn for every node in pre-order, children in ascending code
// point order. The first record is the root. The trie is read-locked for the
// duration of the call.
func (t *Trie) Records(fn func(Record) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return records(t.root, 0, fn)
}

func records(n *node, edge rune, fn func(Record) error) error {
	if err := fn(Record{Edge: edge, Terminal: n.terminal, Children: len(n.keys)}); err != nil {
		return err
	}
	for i, r := range n.keys {
		if err := records(n.children[i], r, fn); err != nil {
			return err
		}
	}
	return nil
}

// frame tracks a node under construction and how many of its declared
// children are still outstanding.
type frame struct {
	n       *node
	pending int
	last    rune
}

// FromRecords rebuilds a trie from the pre-order stream produced by
// [Trie.Records]. next is called exactly once per record and is never called
// past the end of the root's subtree, so callers can check for trailing input
// afterwards. Errors returned by next are passed through unchanged; structural
// violations are reported as [ErrMalformed]. On any error no trie is returned.
//
// The filter configured through opts applies to later inserts only. Records
// are trusted to carry valid code points but not to be script-valid, so a
// snapshot built under a wider filter still loads.
func FromRecords(next func() (Record, error), opts ...Option) (*Trie, error) {
	t := New(opts...)

	root, err := next()
	if err != nil {
		return nil, err
	}
	if root.Terminal {
		return nil, fmt.Errorf("%w: root marked terminal", ErrMalformed)
	}
	if root.Children < 0 {
		return nil, fmt.Errorf("%w: negative child count", ErrMalformed)
	}

	stack := []frame{{n: t.root, pending: root.Children, last: -1}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.pending == 0 {
			stack = stack[:len(stack)-1]
			continue
		}

		rec, err := next()
		if err != nil {
			return nil, err
		}
		switch {
		case rec.Edge <= 0 || !utf8.ValidRune(rec.Edge):
			return nil, fmt.Errorf("%w: invalid code point %d", ErrMalformed, rec.Edge)
		case rec.Edge <= top.last:
			return nil, fmt.Errorf("%w: children not strictly ascending at U+%04X", ErrMalformed, rec.Edge)
		case rec.Children < 0:
			return nil, fmt.Errorf("%w: negative child count", ErrMalformed)
		case rec.Children > 0 && len(stack) >= MaxDepth:
			return nil, fmt.Errorf("%w: depth exceeds %d", ErrMalformed, MaxDepth)
		case rec.Children == 0 && !rec.Terminal:
			return nil, fmt.Errorf("%w: non-terminal leaf at U+%04X", ErrMalformed, rec.Edge)
		}

		c := &node{terminal: rec.Terminal}
		top.n.keys = append(top.n.keys, rec.Edge)
		top.n.children = append(top.n.children, c)
		top.pending--
		top.last = rec.Edge

		t.nodes++
		if rec.Terminal {
			t.words++
		}
		if rec.Children > 0 {
			stack = append(stack, frame{n: c, pending: rec.Children, last: -1})
		}
	}
	return t, nil
}
