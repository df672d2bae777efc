package vocab

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"unicode"
	"unicode/utf8"
)

// ExtractVocabulary collects the distinct whitespace-separated tokens of a
// raw corpus and writes them to w, one per line in sorted order. Tokens are
// not filtered; the word list is meant to be fed to a build, which applies
// the script filter. Returns the number of distinct tokens written.
func ExtractVocabulary(ctx context.Context, r io.Reader, w io.Writer) (int, error) {
	seen := make(map[string]struct{})

	br := bufio.NewReader(r)
	var (
		tok  []byte
		long bool
		n    int
	)
	flush := func() {
		if len(tok) > 0 && !long {
			seen[string(tok)] = struct{}{}
		}
		tok, long = tok[:0], false
	}
	for {
		rn, size, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			flush()
			break
		}
		if err != nil {
			return 0, fmt.Errorf("vocab: extract: read corpus: %w", err)
		}
		if !unicode.IsSpace(rn) {
			if len(tok)+size > maxLineSize {
				long = true
			} else if !long {
				tok = utf8.AppendRune(tok, rn)
			}
			continue
		}
		if len(tok) == 0 && !long {
			continue
		}
		flush()
		n++
		if n%DefaultProgressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, fmt.Errorf("vocab: extract: %w", err)
			}
		}
	}

	words := slices.Sorted(maps.Keys(seen))

	bw := bufio.NewWriter(w)
	for _, tok := range words {
		if _, err := bw.WriteString(tok); err != nil {
			return 0, fmt.Errorf("vocab: extract: write: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return 0, fmt.Errorf("vocab: extract: write: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("vocab: extract: write: %w", err)
	}
	return len(words), nil
}
