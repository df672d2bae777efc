package vocab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/shabda/internal/vocab/snapshot"
	"github.com/MrWong99/shabda/pkg/trie"
)

// Origins reported by [Loader.Bootstrap].
const (
	OriginSnapshot = "snapshot"
	OriginRebuilt  = "rebuilt"
	OriginEmpty    = "empty"
)

// WordSource streams vocabulary words from an external store.
type WordSource interface {
	// Stream calls fn for every stored word. A non-nil error from fn stops the
	// stream and is returned.
	Stream(ctx context.Context, fn func(word string) error) error

	// Name identifies the source in logs and metrics.
	Name() string
}

// BootstrapConfig describes where the startup vocabulary comes from. Every
// field is optional.
type BootstrapConfig struct {
	// Snapshot is tried first.
	Snapshot snapshot.Backend

	// WordList is a path to a word list, used when no usable snapshot exists.
	WordList string

	// Sources are merged after the word list on a rebuild, and into the
	// loaded trie otherwise.
	Sources []WordSource

	// SaveRebuilt writes a rebuilt trie back to Snapshot.
	SaveRebuilt bool

	// Seed words are merged after loading, whatever the origin.
	Seed []string
}

// Bootstrap produces the startup vocabulary.
//
// The snapshot is loaded when present and the sources are merged into it. A
// missing or corrupt snapshot triggers a rebuild from the word list and
// sources; an unavailable word list degrades to an empty trie with a warning.
// A snapshot backend that cannot be read is returned as an error, as are
// failures of a word source and cancellation.
func (l *Loader) Bootstrap(ctx context.Context, cfg BootstrapConfig) (*trie.Trie, string, error) {
	t, origin, err := l.loadOrRebuild(ctx, cfg)
	if err != nil {
		return nil, "", err
	}

	if len(cfg.Seed) > 0 {
		st := l.MergeWords(ctx, t, "seed", cfg.Seed)
		if st.Added > 0 {
			slog.Info("vocab: merged seed words", "added", st.Added)
		}
	}
	if l.metrics != nil {
		l.metrics.VocabularyWords.Record(ctx, int64(t.Len()))
	}
	return t, origin, nil
}

func (l *Loader) loadOrRebuild(ctx context.Context, cfg BootstrapConfig) (*trie.Trie, string, error) {
	if cfg.Snapshot != nil {
		t, err := l.LoadSnapshot(ctx, cfg.Snapshot)
		switch {
		case err == nil:
			slog.Info("vocab: loaded snapshot", "backend", cfg.Snapshot.Name(), "words", t.Len(), "nodes", t.Nodes())
			if _, err := l.mergeSources(ctx, t, cfg.Sources); err != nil {
				return nil, "", err
			}
			return t, OriginSnapshot, nil
		case errors.Is(err, snapshot.ErrNotFound):
			slog.Info("vocab: no snapshot yet, rebuilding", "backend", cfg.Snapshot.Name())
		case errors.Is(err, snapshot.ErrPersist) && ctx.Err() == nil:
			slog.Warn("vocab: snapshot unusable, rebuilding", "backend", cfg.Snapshot.Name(), "err", err)
		default:
			return nil, "", fmt.Errorf("vocab: bootstrap: %w", err)
		}
	}

	t, origin, err := l.rebuild(ctx, cfg)
	if err != nil {
		return nil, "", err
	}

	if cfg.SaveRebuilt && cfg.Snapshot != nil && origin == OriginRebuilt {
		if err := l.SaveSnapshot(ctx, cfg.Snapshot, t); err != nil {
			slog.Error("vocab: failed to save rebuilt snapshot", "backend", cfg.Snapshot.Name(), "err", err)
		}
	}
	return t, origin, nil
}

func (l *Loader) rebuild(ctx context.Context, cfg BootstrapConfig) (*trie.Trie, string, error) {
	t := l.NewTrie()
	origin := OriginEmpty

	if cfg.WordList != "" {
		built, _, err := l.BuildFromFile(ctx, cfg.WordList)
		switch {
		case err == nil:
			t, origin = built, OriginRebuilt
		case errors.Is(err, ErrSourceUnavailable):
			slog.Warn("vocab: word list unavailable, starting empty", "path", cfg.WordList, "err", err)
		default:
			return nil, "", fmt.Errorf("vocab: bootstrap: %w", err)
		}
	}

	lines, err := l.mergeSources(ctx, t, cfg.Sources)
	if err != nil {
		return nil, "", err
	}
	if lines > 0 {
		origin = OriginRebuilt
	}
	return t, origin, nil
}

// mergeSources streams every source into t and returns the number of words
// the sources produced.
func (l *Loader) mergeSources(ctx context.Context, t *trie.Trie, sources []WordSource) (int, error) {
	var lines int
	for _, src := range sources {
		var st Stats
		err := src.Stream(ctx, func(word string) error {
			st.Lines++
			l.add(t, word, &st)
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("vocab: bootstrap: stream %s: %w", src.Name(), err)
		}
		slog.Info("vocab: merged word source", "source", src.Name(), "added", st.Added, "rejected", st.Rejected)
		lines += st.Lines
	}
	return lines, nil
}

// LoadSnapshot decodes the snapshot in b into a trie configured like the
// loader's.
func (l *Loader) LoadSnapshot(ctx context.Context, b snapshot.Backend) (*trie.Trie, error) {
	start := time.Now()
	t, err := snapshot.Load(ctx, b, l.trieOpts...)
	if l.metrics != nil {
		l.metrics.RecordSnapshot(ctx, "load", b.Name(), time.Since(start).Seconds())
	}
	return t, err
}

// SaveSnapshot writes t to b.
func (l *Loader) SaveSnapshot(ctx context.Context, b snapshot.Backend, t *trie.Trie) error {
	start := time.Now()
	err := snapshot.Save(ctx, b, t)
	if l.metrics != nil {
		l.metrics.RecordSnapshot(ctx, "save", b.Name(), time.Since(start).Seconds())
	}
	if err == nil {
		slog.Info("vocab: saved snapshot", "backend", b.Name(), "words", t.Len(), "duration", time.Since(start))
	}
	return err
}
