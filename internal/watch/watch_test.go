package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	batches [][]string
}

func (c *collector) handle(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, append([]string(nil), paths...))
}

func (c *collector) seen(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.batches {
		if slices.Contains(b, path) {
			return true
		}
	}
	return false
}

func (c *collector) snapshot() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.batches...)
}

func startWatcher(t *testing.T, root string, c *collector) *Watcher {
	t.Helper()
	w, err := New(root, c.handle,
		WithDebounce(20*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, dedupe([]string{"b", "a", "b", "c", "a"}))
	assert.Empty(t, dedupe(nil))
}

func TestWatcherDeliversGroupFileChange(t *testing.T) {
	root := t.TempDir()
	group := filepath.Join(root, "g")
	require.NoError(t, os.Mkdir(group, 0755))

	c := &collector{}
	startWatcher(t, root, c)

	path := filepath.Join(group, "a.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	assert.Eventually(t, func() bool { return c.seen(path) }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherDebouncesBurst(t *testing.T) {
	root := t.TempDir()
	group := filepath.Join(root, "g")
	require.NoError(t, os.Mkdir(group, 0755))

	c := &collector{}
	w, err := New(root, c.handle,
		WithDebounce(200*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	path := filepath.Join(group, "a.json")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"frames": []}`), 0644))
	}

	require.Eventually(t, func() bool { return c.seen(path) }, 3*time.Second, 10*time.Millisecond)

	batches := c.snapshot()
	require.Len(t, batches, 1)
	count := 0
	for _, p := range batches[0] {
		if p == path {
			count++
		}
	}
	assert.Equal(t, 1, count, "path appears once per batch")
}

func TestWatcherPicksUpNewGroup(t *testing.T) {
	root := t.TempDir()

	c := &collector{}
	w := startWatcher(t, root, c)

	group := filepath.Join(root, "late")
	require.NoError(t, os.Mkdir(group, 0755))
	require.Eventually(t, func() bool { return c.seen(group) }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return slices.Contains(w.Watched(), group) }, 2*time.Second, 10*time.Millisecond)

	path := filepath.Join(group, "b.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))
	assert.Eventually(t, func() bool { return c.seen(path) }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherMissingRoot(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), func([]string) {})
	require.NoError(t, err)

	assert.Error(t, w.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop after a failed Start did not return")
	}
	assert.Empty(t, w.Watched())
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	c := &collector{}
	w := startWatcher(t, t.TempDir(), c)

	w.Stop()
	assert.NotPanics(t, w.Stop)
}
