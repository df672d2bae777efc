// Package vocab builds, grows and holds the vocabulary trie.
//
// A [Loader] turns word lists into a [trie.Trie] and merges further words
// into an existing one; both paths apply the same script filter that
// [trie.Trie.Insert] enforces. Persisting a grown trie is a separate step
// (see the snapshot subpackage) so callers decide when the cost of a save is
// paid. A [Holder] publishes the live trie to concurrent readers and allows it
// to be replaced atomically.
package vocab

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/shabda/internal/observe"
	"github.com/MrWong99/shabda/pkg/script"
	"github.com/MrWong99/shabda/pkg/trie"
)

// ErrSourceUnavailable is returned when a word list cannot be opened.
var ErrSourceUnavailable = errors.New("vocab: source unavailable")

// DefaultProgressEvery is the default number of lines between progress logs.
const DefaultProgressEvery = 100000

// maxLineSize bounds a single word-list line. Longer lines are skipped and
// counted as rejected.
const maxLineSize = 1 << 20

// Stats summarises one build or merge run.
type Stats struct {
	// Lines is the number of input lines read.
	Lines int

	// Added is the number of words that were new to the trie.
	Added int

	// Rejected counts non-empty candidates that failed the script filter.
	Rejected int

	// Duration is the wall time of the run.
	Duration time.Duration
}

// Loader builds and grows vocabulary tries. A zero Loader is not usable; use
// [NewLoader].
type Loader struct {
	progressEvery int
	normalize     bool
	trieOpts      []trie.Option
	metrics       *observe.Metrics
}

// Option configures a [Loader].
type Option func(*Loader)

// WithProgressEvery sets how many lines pass between progress log lines.
func WithProgressEvery(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.progressEvery = n
		}
	}
}

// WithNormalization enables NFC normalisation of every word before it is
// checked and inserted.
func WithNormalization(enabled bool) Option {
	return func(l *Loader) {
		l.normalize = enabled
	}
}

// WithTrieOptions passes options to every trie the loader creates.
func WithTrieOptions(opts ...trie.Option) Option {
	return func(l *Loader) {
		l.trieOpts = append(l.trieOpts, opts...)
	}
}

// WithMetrics records merged word counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loader) {
		l.metrics = m
	}
}

// NewLoader returns a Loader with defaults applied.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{progressEvery: DefaultProgressEvery}
	for _, o := range opts {
		o(l)
	}
	return l
}

// TrieOptions returns the options the loader applies to new tries.
func (l *Loader) TrieOptions() []trie.Option {
	return l.trieOpts
}

// NewTrie returns an empty trie configured like the ones the loader builds.
func (l *Loader) NewTrie() *trie.Trie {
	return trie.New(l.trieOpts...)
}

// BuildFromWordList reads r line by line and inserts the first
// whitespace-separated field of each line. Empty lines, overlong lines and
// fields rejected by the script filter are skipped. Progress is logged every
// configured number of lines; cancellation of ctx is checked at the same
// cadence.
func (l *Loader) BuildFromWordList(ctx context.Context, r io.Reader) (*trie.Trie, Stats, error) {
	start := time.Now()
	t := l.NewTrie()
	var st Stats

	err := eachLine(r, func(line string, long bool) error {
		st.Lines++
		if long {
			st.Rejected++
		} else if word := firstField(line); word != "" {
			l.add(t, word, &st)
		}
		if st.Lines%l.progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			slog.Info("vocab: build progress", "lines", st.Lines, "words", t.Len())
		}
		return nil
	})
	if err != nil {
		return nil, st, fmt.Errorf("vocab: build: %w", err)
	}

	st.Duration = time.Since(start)
	slog.Info("vocab: build finished",
		"lines", st.Lines,
		"words", t.Len(),
		"nodes", t.Nodes(),
		"rejected", st.Rejected,
		"duration", st.Duration,
	)
	return t, st, nil
}

// BuildFromFile opens path and builds a trie from it. Returns an error
// wrapping [ErrSourceUnavailable] when the file cannot be opened.
func (l *Loader) BuildFromFile(ctx context.Context, path string) (*trie.Trie, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, path, err)
	}
	defer f.Close()

	slog.Info("vocab: building from word list", "path", path)
	return l.BuildFromWordList(ctx, f)
}

// MergeWords trims each word, drops empty and script-invalid ones, and
// inserts those not yet known into t. It returns how many were new, so
// merging the same list twice returns 0 the second time. source labels the
// merged-words metric.
func (l *Loader) MergeWords(ctx context.Context, t *trie.Trie, source string, words []string) Stats {
	start := time.Now()
	var st Stats
	for _, w := range words {
		st.Lines++
		if w = strings.TrimSpace(w); w != "" {
			l.add(t, w, &st)
		}
	}
	st.Duration = time.Since(start)
	if l.metrics != nil {
		l.metrics.RecordWordsMerged(ctx, source, st.Added)
		l.metrics.VocabularyWords.Record(ctx, int64(t.Len()))
	}
	return st
}

// MergeFile merges the first field of every non-empty line of path into t.
// Returns an error wrapping [ErrSourceUnavailable] when the file cannot be
// opened.
func (l *Loader) MergeFile(ctx context.Context, t *trie.Trie, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, path, err)
	}
	defer f.Close()

	var (
		words []string
		long  int
	)
	err = eachLine(f, func(line string, tooLong bool) error {
		if tooLong {
			long++
		} else if w := firstField(line); w != "" {
			words = append(words, w)
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("vocab: merge %s: %w", path, err)
	}

	st := l.MergeWords(ctx, t, "file", words)
	st.Lines += long
	st.Rejected += long
	slog.Info("vocab: merged word file", "path", path, "added", st.Added, "rejected", st.Rejected)
	return st, nil
}

// add inserts word, counting the outcome in st.
func (l *Loader) add(t *trie.Trie, word string, st *Stats) {
	if l.normalize {
		word = script.Normalize(word)
	}
	added, err := t.Add(word)
	switch {
	case err != nil:
		st.Rejected++
	case added:
		st.Added++
	}
}

// MergeWords merges words into t with a default [Loader].
func MergeWords(t *trie.Trie, words []string) int {
	return NewLoader().MergeWords(context.Background(), t, "direct", words).Added
}

// eachLine calls fn for every line of r without its line ending. A line
// longer than maxLineSize is drained and reported with long set instead of
// its content. An error from fn stops the read and is returned.
func eachLine(r io.Reader, fn func(line string, long bool) error) error {
	br := bufio.NewReaderSize(r, maxLineSize)
	for {
		b, more, err := br.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read word list: %w", err)
		}
		if !more {
			if err := fn(string(b), false); err != nil {
				return err
			}
			continue
		}
		for more {
			if _, more, err = br.ReadLine(); err != nil {
				if !errors.Is(err, io.EOF) {
					return fmt.Errorf("read word list: %w", err)
				}
				break
			}
		}
		if err := fn("", true); err != nil {
			return err
		}
	}
}

func firstField(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		return line[:i]
	}
	return line
}
