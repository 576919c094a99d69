// Package watch delivers debounced "file changed at path" notifications for
// a definitions root.
//
// The root and each group directory directly beneath it are watched; group
// directories created later are added as they appear. Nested directories are
// not watched because the loader ignores them.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultDebounce is how long the watcher waits for quiet before
	// delivering a batch.
	DefaultDebounce = 100 * time.Millisecond

	defaultBufferSize = 256
)

// Handler receives a batch of changed paths, de-duplicated and in the order
// they were first seen. Called from a single goroutine.
type Handler func(paths []string)

// Watcher watches a definitions root with debouncing.
//
// Thread Safety: Start and Stop may be called from any goroutine. The
// handler is never called concurrently with itself.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	logger   *slog.Logger

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a batch is delivered.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithBufferSize bounds the number of undelivered raw events. Events beyond
// it are dropped with a warning.
func WithBufferSize(n int) Option {
	return func(w *Watcher) { w.changes = make(chan string, n) }
}

// New creates a watcher for root. Call Start to begin watching.
func New(root string, handler Handler, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:     filepath.Clean(root),
		watcher:  fw,
		handler:  handler,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		changes:  make(chan string, defaultBufferSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start adds the root and its group directories and begins delivering
// batches. It returns an error if the root cannot be watched. Calling Start
// twice is a no-op. Stop must be called even when Start fails.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("list %s: %w", w.root, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addGroup(filepath.Join(w.root, e.Name()))
		}
	}

	w.started = true
	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	w.logger.Info("watching definitions", "root", w.root, "debounce", w.debounce)
	return nil
}

// Stop stops watching and waits for the delivery goroutines to exit. A
// pending batch is flushed first. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
		w.wg.Wait()
	})
}

// Watched returns the directories currently watched.
func (w *Watcher) Watched() []string {
	return w.watcher.WatchList()
}

func (w *Watcher) addGroup(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("failed to watch group directory", "dir", dir, "error", err)
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Permission changes never alter definition content.
			if event.Op == fsnotify.Chmod {
				continue
			}

			path := filepath.Clean(event.Name)
			if event.Has(fsnotify.Create) && filepath.Dir(path) == w.root {
				if info, err := os.Stat(path); err == nil && info.IsDir() {
					w.addGroup(path)
				}
			}

			select {
			case w.changes <- path:
			default:
				w.logger.Warn("change buffer full; dropping event", "path", path)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	var (
		batch  []string
		timer  *time.Timer
		timerC <-chan time.Time
	)

	flush := func() {
		if len(batch) > 0 && w.handler != nil {
			w.handler(dedupe(batch))
		}
		batch = batch[:0]
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case path := <-w.changes:
			batch = append(batch, path)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// dedupe keeps the first occurrence of each path.
func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
