package vocab

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/shabda/internal/vocab/snapshot"
	"github.com/MrWong99/shabda/pkg/trie"
)

// Watcher polls a snapshot file and calls a callback with the decoded trie
// whenever the file content changes. A snapshot that fails to decode is
// logged and skipped; the previous vocabulary stays live.
type Watcher struct {
	path     string
	interval time.Duration
	trieOpts []trie.Option
	onChange func(*trie.Trie)

	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 10 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchTrieOptions configures the tries the watcher decodes.
func WithWatchTrieOptions(opts ...trie.Option) WatcherOption {
	return func(w *Watcher) {
		w.trieOpts = append(w.trieOpts, opts...)
	}
}

// NewWatcher starts polling path. The file state at construction time counts
// as already seen, so the callback only fires on later changes. A missing
// file is not an error; the callback fires once it appears.
func NewWatcher(path string, onChange func(*trie.Trie), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		interval: 10 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.Refresh()

	w.wg.Add(1)
	go w.poll()
	return w
}

// Refresh records the current file state as seen without invoking the
// callback. Call it after this process wrote the snapshot itself.
func (w *Watcher) Refresh() {
	data, mtime, err := w.read()
	if err != nil {
		return
	}
	w.mu.Lock()
	w.lastHash = sha256.Sum256(data)
	w.lastMtime = mtime
	w.mu.Unlock()
}

// Stop stops polling and waits for an in-flight check to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

func (w *Watcher) poll() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the snapshot when its mtime and content hash changed.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("vocab watcher: cannot stat snapshot", "path", w.path, "err", err)
		}
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	data, newMtime, err := w.read()
	if err != nil {
		slog.Warn("vocab watcher: cannot read snapshot", "path", w.path, "err", err)
		return
	}
	hash := sha256.Sum256(data)

	w.mu.Lock()
	if hash == w.lastHash {
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	t, err := snapshot.Decode(bytes.NewReader(data), w.trieOpts...)
	if err != nil {
		// Remember the broken file so it is not decoded again every tick.
		w.mu.Lock()
		w.lastHash = hash
		w.lastMtime = newMtime
		w.mu.Unlock()
		slog.Warn("vocab watcher: ignoring unreadable snapshot", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("vocab watcher: snapshot reloaded", "path", w.path, "words", t.Len())
	if w.onChange != nil {
		w.onChange(t)
	}
}

func (w *Watcher) read() ([]byte, time.Time, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, time.Time{}, err
	}
	return buf.Bytes(), info.ModTime(), nil
}
