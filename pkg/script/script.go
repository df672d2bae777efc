// Package script implements the script-validity filter applied to every word
// before it may enter the vocabulary.
//
// A [Block] is a contiguous code point range belonging to one writing system.
// [Block.Valid] is a pure predicate: a word is accepted iff it is non-empty and
// every rune lies inside the block. The same predicate is used at bulk load,
// incremental merge, and single insert time so the three entry points can
// never disagree about what counts as vocabulary.
package script

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Block is an inclusive code point range [Lo, Hi].
type Block struct {
	// Name is a human-readable label used in logs and errors.
	Name string

	// Lo is the first code point of the block.
	Lo rune

	// Hi is the last code point of the block.
	Hi rune
}

// Devanagari is the Unicode Devanagari block (U+0900–U+097F), the default
// target script.
var Devanagari = Block{Name: "devanagari", Lo: 0x0900, Hi: 0x097F}

// Valid reports whether word is non-empty, well-formed UTF-8, and consists
// solely of runes inside b.
func (b Block) Valid(word string) bool {
	if word == "" || !utf8.ValidString(word) {
		return false
	}
	for _, r := range word {
		if r < b.Lo || r > b.Hi {
			return false
		}
	}
	return true
}

// Contains reports whether r lies inside b.
func (b Block) Contains(r rune) bool {
	return r >= b.Lo && r <= b.Hi
}

// Check validates the block bounds themselves.
func (b Block) Check() error {
	if b.Lo < 0 || b.Hi > utf8.MaxRune {
		return fmt.Errorf("script: block %q outside the unicode range", b.Name)
	}
	if b.Lo > b.Hi {
		return fmt.Errorf("script: block %q has lo U+%04X above hi U+%04X", b.Name, b.Lo, b.Hi)
	}
	return nil
}

// String returns the block as "name [U+XXXX–U+YYYY]".
func (b Block) String() string {
	return fmt.Sprintf("%s [U+%04X–U+%04X]", b.Name, b.Lo, b.Hi)
}

// Normalize returns the NFC form of word. Nukta letters reach the vocabulary
// both precomposed (U+0958..U+095F) and as base + U+093C; NFC maps both to the
// same sequence.
func Normalize(word string) string {
	return norm.NFC.String(word)
}
